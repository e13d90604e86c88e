package prediction

import (
	"errors"

	"github.com/tidwall/gjson"
)

var (
	ErrUnrecognizedFormat = errors.New("unrecognized prediction format")
	ErrEmptyPrediction    = errors.New("empty prediction")
)

// Reply is one of the recognised classification reply shapes:
// *LabeledConfidences, *ScoreMap or *PairedScores.
type Reply interface {
	shape() string
}

// Score is a label with its score as it appeared in the reply.
type Score struct {
	Label string
	Value float64
}

// LabeledConfidences is the Gradio Label component output:
//
//	{"label": "Type 2: Wavy", "confidences": [{"label": "...", "confidence": 0.8}, ...]}
type LabeledConfidences struct {
	Label       string
	Confidences []Score
}

// ScoreMap is a flat object of label to score. Entries keep document order
// and hold numeric values only.
type ScoreMap struct {
	Entries []Score
}

// PairedScores is an array of [label, score] pairs.
type PairedScores struct {
	Pairs []Score
}

func (*LabeledConfidences) shape() string { return "labeled_confidences" }
func (*ScoreMap) shape() string           { return "score_map" }
func (*PairedScores) shape() string       { return "paired_scores" }

// ShapeName returns a short name for logs and metrics.
func ShapeName(r Reply) string {
	if r == nil {
		return "unknown"
	}
	return r.shape()
}

// Classify inspects raw JSON and returns the matching Reply variant.
func Classify(raw []byte) (Reply, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrUnrecognizedFormat
	}
	root := gjson.ParseBytes(raw)

	switch {
	case root.IsObject():
		label := root.Get("label")
		confidences := root.Get("confidences")
		if label.Exists() && confidences.IsArray() {
			return classifyLabeled(label, confidences)
		}
		return classifyScoreMap(root), nil
	case root.IsArray():
		items := root.Array()
		if len(items) > 0 && items[0].IsArray() {
			return classifyPairs(items)
		}
	}
	return nil, ErrUnrecognizedFormat
}

func classifyLabeled(label, confidences gjson.Result) (Reply, error) {
	if label.Type != gjson.String {
		return nil, ErrUnrecognizedFormat
	}
	reply := &LabeledConfidences{Label: label.Str}
	confidences.ForEach(func(_, item gjson.Result) bool {
		name := item.Get("label")
		if name.Type != gjson.String {
			return true
		}
		reply.Confidences = append(reply.Confidences, Score{
			Label: name.Str,
			Value: item.Get("confidence").Float(),
		})
		return true
	})
	return reply, nil
}

func classifyScoreMap(root gjson.Result) Reply {
	reply := &ScoreMap{}
	root.ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.Number {
			reply.Entries = append(reply.Entries, Score{Label: key.String(), Value: value.Num})
		}
		return true
	})
	return reply
}

func classifyPairs(items []gjson.Result) (Reply, error) {
	reply := &PairedScores{Pairs: make([]Score, 0, len(items))}
	for _, item := range items {
		pair := item.Array()
		if !item.IsArray() || len(pair) < 2 || pair[1].Type != gjson.Number {
			return nil, ErrUnrecognizedFormat
		}
		reply.Pairs = append(reply.Pairs, Score{Label: pair[0].String(), Value: pair[1].Num})
	}
	return reply, nil
}
