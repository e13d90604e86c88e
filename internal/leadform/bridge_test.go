package leadform

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	created []Options
	formIDs []string
	cleared []string
	err     error
}

func (f *fakeHost) CreateWidget(formID string, opts Options) error {
	if f.err != nil {
		return f.err
	}
	f.formIDs = append(f.formIDs, formID)
	f.created = append(f.created, opts)
	return nil
}

func (f *fakeHost) Clear(container string) {
	f.cleared = append(f.cleared, container)
}

func TestBridgeRenderPassesHiddenFields(t *testing.T) {
	host := &fakeHost{}
	bridge := NewBridge(host, "form-1")

	created, err := bridge.Render("tf-form", Fields{
		Label:             "Type 2: Wavy",
		ConfidencePercent: 87,
		StorageConsent:    true,
		Tracking:          Tracking{Source: "ig", Medium: "social", Campaign: "fall"},
	})
	require.NoError(t, err)
	assert.True(t, created)

	require.Len(t, host.created, 1)
	assert.Equal(t, []string{"form-1"}, host.formIDs)
	assert.Equal(t, []string{"tf-form"}, host.cleared, "container is cleared before mounting")
	opts := host.created[0]
	assert.Equal(t, "tf-form", opts.Container)
	assert.Equal(t, 100, opts.Opacity)
	assert.False(t, opts.Lazy)
	assert.Equal(t, map[string]string{
		"hairType":     "Type 2: Wavy",
		"confidence":   "87",
		"consent":      "store_ok",
		"utm_source":   "ig",
		"utm_medium":   "social",
		"utm_campaign": "fall",
	}, opts.Hidden)
}

func TestBridgeRendersOnlyOnChange(t *testing.T) {
	host := &fakeHost{}
	bridge := NewBridge(host, "form-1")
	fields := Fields{Label: "Type 1: Straight", ConfidencePercent: 55}

	_, err := bridge.Render("tf-form", fields)
	require.NoError(t, err)
	created, err := bridge.Render("tf-form", fields)
	require.NoError(t, err)
	assert.False(t, created)

	fields.StorageConsent = true
	created, err = bridge.Render("tf-form", fields)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, host.created, 2)
	assert.Len(t, host.cleared, 2)
}

func TestBridgeRetriesAfterHostError(t *testing.T) {
	host := &fakeHost{err: errors.New("script not loaded")}
	bridge := NewBridge(host, "form-1")

	_, err := bridge.Render("tf-form", Fields{})
	require.Error(t, err)

	host.err = nil
	created, err := bridge.Render("tf-form", Fields{})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestHiddenDefaults(t *testing.T) {
	hidden := Fields{}.Hidden()
	assert.Equal(t, "", hidden[FieldHairType])
	assert.Equal(t, "", hidden[FieldConfidence])
	assert.Equal(t, "no_store", hidden[FieldConsent])
}

func TestTrackingFromQuery(t *testing.T) {
	q, err := url.ParseQuery("utm_source=newsletter&utm_medium=email&utm_campaign=%20launch%20&utm_term=x")
	require.NoError(t, err)
	assert.Equal(t, Tracking{Source: "newsletter", Medium: "email", Campaign: "launch"}, TrackingFromQuery(q))
	assert.Equal(t, Tracking{}, TrackingFromQuery(url.Values{}))
}

func TestEmbedHostMarkup(t *testing.T) {
	host := NewEmbedHost()
	bridge := NewBridge(host, "01K4T4CR")

	_, err := bridge.Render("tf-form", Fields{
		Label:             "Type 3: Curly",
		ConfidencePercent: 90,
		Tracking:          Tracking{Source: "a,b", Campaign: `"x"`},
	})
	require.NoError(t, err)

	markup := string(host.Markup("tf-form"))
	assert.True(t, strings.HasPrefix(markup, `<div data-tf-widget="01K4T4CR"`))
	assert.Contains(t, markup, `data-tf-opacity="100"`)
	assert.Contains(t, markup, `data-tf-lazy="false"`)
	assert.Contains(t, markup, "confidence=90,consent=no_store,hairType=Type 3: Curly,utm_campaign=&#34;x&#34;,utm_medium=,utm_source=a b")

	host.Clear("tf-form")
	assert.Empty(t, host.Markup("tf-form"))
}

func TestEmbedHostRejectsDuplicateMount(t *testing.T) {
	host := NewEmbedHost()
	require.NoError(t, host.CreateWidget("f", Options{Container: "c"}))
	assert.Error(t, host.CreateWidget("f", Options{Container: "c"}))
	assert.Error(t, host.CreateWidget("", Options{Container: "d"}))
}
