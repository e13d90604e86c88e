// Package leadform passes analysis results into the embedded lead-capture form.
package leadform

import (
	"strconv"
	"sync"
)

// Hidden field keys understood by the form.
const (
	FieldHairType    = "hairType"
	FieldConfidence  = "confidence"
	FieldConsent     = "consent"
	FieldUTMSource   = "utm_source"
	FieldUTMMedium   = "utm_medium"
	FieldUTMCampaign = "utm_campaign"
)

// Options configures one widget instance.
type Options struct {
	Container string
	Hidden    map[string]string
	Opacity   int
	Lazy      bool
}

// WidgetHost mounts third-party form widgets.
type WidgetHost interface {
	CreateWidget(formID string, opts Options) error
	Clear(container string)
}

// Fields is everything the form receives from the page.
type Fields struct {
	Label             string
	ConfidencePercent int
	StorageConsent    bool
	Tracking          Tracking
}

// Hidden renders f as the form's hidden field map. A zero confidence is sent
// as an empty string.
func (f Fields) Hidden() map[string]string {
	confidence := ""
	if f.ConfidencePercent != 0 {
		confidence = strconv.Itoa(f.ConfidencePercent)
	}
	consent := "no_store"
	if f.StorageConsent {
		consent = "store_ok"
	}
	return map[string]string{
		FieldHairType:    f.Label,
		FieldConfidence:  confidence,
		FieldConsent:     consent,
		FieldUTMSource:   f.Tracking.Source,
		FieldUTMMedium:   f.Tracking.Medium,
		FieldUTMCampaign: f.Tracking.Campaign,
	}
}

// Bridge renders the form into containers of a WidgetHost, once per change.
// The change check is per Bridge, so a Bridge that lives for a single
// server-side render always mounts.
type Bridge struct {
	host   WidgetHost
	formID string

	mu   sync.Mutex
	last map[string]Fields
}

// NewBridge returns a bridge for formID.
func NewBridge(host WidgetHost, formID string) *Bridge {
	return &Bridge{host: host, formID: formID, last: make(map[string]Fields)}
}

// Render mounts the form in container unless it is already showing f.
// Any previous widget in the container is cleared first. It reports whether
// a widget was created.
func (b *Bridge) Render(container string, f Fields) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if prev, ok := b.last[container]; ok && prev == f {
		return false, nil
	}
	b.host.Clear(container)
	delete(b.last, container)

	err := b.host.CreateWidget(b.formID, Options{
		Container: container,
		Hidden:    f.Hidden(),
		Opacity:   100,
		Lazy:      false,
	})
	if err != nil {
		return false, err
	}
	b.last[container] = f
	return true, nil
}
