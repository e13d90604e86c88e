package gradio

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const maxEventSize = 4 << 20

type event struct {
	name string
	data string
}

// readResult consumes a /call/<name>/<event_id> stream until the complete or
// error event and returns the complete event's data array.
func readResult(body io.Reader) ([]json.RawMessage, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var (
		cur  event
		data []string
	)
	dispatch := func() (bool, []json.RawMessage, error) {
		defer func() {
			cur = event{}
			data = data[:0]
		}()
		cur.data = strings.Join(data, "\n")
		switch cur.name {
		case "complete":
			var out []json.RawMessage
			if err := json.Unmarshal([]byte(cur.data), &out); err != nil {
				return true, nil, fmt.Errorf("decode complete event: %w", err)
			}
			return true, out, nil
		case "error":
			msg := strings.TrimSpace(cur.data)
			if msg == "" || msg == "null" {
				msg = "app reported an error"
			}
			return true, nil, &AppError{Message: msg}
		default:
			return false, nil, nil
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if done, out, err := dispatch(); done {
				return out, err
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			cur.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	if cur.name != "" {
		if done, out, err := dispatch(); done {
			return out, err
		}
	}
	return nil, errors.New("event stream ended without a result")
}
