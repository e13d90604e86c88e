// Package gate holds the pre-flight checks applied to an upload before it is
// sent for classification.
package gate

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoFile          = errors.New("no file selected")
	ErrConsentRequired = errors.New("age confirmation required")
	ErrTooLarge        = errors.New("file exceeds upload limit")
	ErrUnsupportedType = errors.New("unsupported media type")
)

// AcceptedMediaTypes lists the only media types offered by the file picker.
var AcceptedMediaTypes = []string{"image/jpeg", "image/png"}

// Image is an uploaded photo held for the duration of one analysis.
type Image struct {
	Filename  string
	MediaType string
	Size      int64
	Data      []byte
}

// CanSubmit reports whether an analysis may be started. Each failure maps to
// its own sentinel so callers can show a specific corrective message.
func CanSubmit(image *Image, ageConfirmed bool, maxBytes int64) error {
	if image == nil {
		return ErrNoFile
	}
	if !ageConfirmed {
		return ErrConsentRequired
	}
	if image.Size > maxBytes {
		return ErrTooLarge
	}
	return nil
}

// CheckMediaType is applied when a file is selected. Parameters such as
// "; charset=" are ignored.
func CheckMediaType(mediaType string) error {
	base := strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	for _, accepted := range AcceptedMediaTypes {
		if base == accepted {
			return nil
		}
	}
	return ErrUnsupportedType
}

// Message returns the user-facing prompt for a gate error.
func Message(err error, maxMB int) string {
	switch {
	case errors.Is(err, ErrNoFile):
		return "Select a JPEG/PNG first."
	case errors.Is(err, ErrConsentRequired):
		return "Please confirm you are 13+."
	case errors.Is(err, ErrTooLarge):
		return fmt.Sprintf("Please upload an image under %d MB.", maxMB)
	case errors.Is(err, ErrUnsupportedType):
		return "Only JPEG and PNG photos are supported."
	default:
		return ""
	}
}
