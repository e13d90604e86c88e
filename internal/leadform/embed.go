package leadform

import (
	"bytes"
	"errors"
	"html/template"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// EmbedScriptURL is the loader script that turns embed markup into a form.
const EmbedScriptURL = "https://embed.typeform.com/next/embed.js"

var embedTmpl = template.Must(template.New("embed").Parse(
	`<div data-tf-widget="{{.FormID}}" data-tf-opacity="{{.Opacity}}" data-tf-lazy="{{.Lazy}}" data-tf-hidden="{{.Hidden}}" style="width:100%;height:500px;"></div>`,
))

// EmbedHost is a WidgetHost that produces Typeform embed markup for the
// page template instead of talking to a live browser.
type EmbedHost struct {
	mu      sync.RWMutex
	mounted map[string]template.HTML
}

// NewEmbedHost returns an empty host.
func NewEmbedHost() *EmbedHost {
	return &EmbedHost{mounted: make(map[string]template.HTML)}
}

func (h *EmbedHost) CreateWidget(formID string, opts Options) error {
	if formID == "" {
		return errors.New("leadform: empty form id")
	}
	if opts.Container == "" {
		return errors.New("leadform: empty container")
	}

	var buf bytes.Buffer
	err := embedTmpl.Execute(&buf, map[string]string{
		"FormID":  formID,
		"Opacity": strconv.Itoa(opts.Opacity),
		"Lazy":    strconv.FormatBool(opts.Lazy),
		"Hidden":  encodeHidden(opts.Hidden),
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.mounted[opts.Container]; exists {
		return errors.New("leadform: container " + opts.Container + " already has a widget")
	}
	h.mounted[opts.Container] = template.HTML(buf.String())
	return nil
}

func (h *EmbedHost) Clear(container string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.mounted, container)
}

// Markup returns the widget mounted in container, or "".
func (h *EmbedHost) Markup(container string) template.HTML {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.mounted[container]
}

// encodeHidden produces the "k=v,k2=v2" list the embed script expects, with
// keys sorted. Separators inside values are replaced by spaces.
func encodeHidden(hidden map[string]string) string {
	keys := make([]string, 0, len(hidden))
	for k := range hidden {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	clean := strings.NewReplacer(",", " ", "=", " ")
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+clean.Replace(hidden[k]))
	}
	return strings.Join(pairs, ",")
}
