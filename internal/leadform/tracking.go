package leadform

import (
	"net/url"
	"strings"
)

// Tracking is the campaign attribution captured when a session starts.
type Tracking struct {
	Source   string `json:"source"`
	Medium   string `json:"medium"`
	Campaign string `json:"campaign"`
}

// TrackingFromQuery reads utm_source, utm_medium and utm_campaign.
func TrackingFromQuery(q url.Values) Tracking {
	return Tracking{
		Source:   strings.TrimSpace(q.Get("utm_source")),
		Medium:   strings.TrimSpace(q.Get("utm_medium")),
		Campaign: strings.TrimSpace(q.Get("utm_campaign")),
	}
}
