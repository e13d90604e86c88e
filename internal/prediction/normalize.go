package prediction

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// Result is the outcome shown to the visitor after a successful analysis.
type Result struct {
	Label             string  `json:"label"`
	Confidence        float64 `json:"confidence"`
	ConfidencePercent int     `json:"confidence_percent"`
	Description       string  `json:"description,omitempty"`
}

// Normalize classifies raw and extracts the winning label and confidence.
func Normalize(raw []byte) (*Result, error) {
	reply, err := Classify(raw)
	if err != nil {
		return nil, err
	}
	return FromReply(reply)
}

// FromReply extracts the winning label from an already classified reply.
func FromReply(reply Reply) (*Result, error) {
	var top Score
	switch r := reply.(type) {
	case *LabeledConfidences:
		top = Score{Label: r.Label}
		for _, c := range r.Confidences {
			if c.Label == r.Label {
				top.Value = c.Value
				break
			}
		}
	case *ScoreMap:
		if len(r.Entries) == 0 {
			return nil, ErrEmptyPrediction
		}
		top = r.Entries[0]
		for _, e := range r.Entries[1:] {
			if e.Value > top.Value {
				top = e
			}
		}
	case *PairedScores:
		if len(r.Pairs) == 0 {
			return nil, ErrEmptyPrediction
		}
		sorted := slices.Clone(r.Pairs)
		slices.SortStableFunc(sorted, func(a, b Score) int {
			return cmp.Compare(b.Value, a.Value)
		})
		top = sorted[0]
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnrecognizedFormat, reply)
	}

	if top.Label == "" || math.IsNaN(top.Value) {
		return nil, ErrUnrecognizedFormat
	}
	conf := clamp01(top.Value)
	return &Result{
		Label:             top.Label,
		Confidence:        conf,
		ConfidencePercent: Percent(conf),
		Description:       Describe(top.Label),
	}, nil
}

// Percent converts a [0,1] confidence to a whole percentage, rounding half up.
func Percent(confidence float64) int {
	p := int(math.Floor(clamp01(confidence)*100 + 0.5))
	return min(max(p, 0), 100)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
