// Package session keeps the transient per-visitor state of the page.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/keranova/typeteller/internal/leadform"
	"github.com/keranova/typeteller/internal/prediction"
)

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("session not found")

// Consent holds the visitor's explicit choices.
type Consent struct {
	AgeConfirmed   bool `json:"age_confirmed"`
	StorageConsent bool `json:"storage_consent"`
}

// State is everything remembered about one visitor.
type State struct {
	ID        string             `json:"id"`
	Consent   Consent            `json:"consent"`
	Tracking  leadform.Tracking  `json:"tracking"`
	Result    *prediction.Result `json:"result,omitempty"`
	Status    string             `json:"status,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// New starts a session. Tracking is fixed for its lifetime.
func New(tracking leadform.Tracking, now time.Time) *State {
	return &State{
		ID:        uuid.NewString(),
		Tracking:  tracking,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

// LeadFields returns the values forwarded to the lead form.
func (s *State) LeadFields() leadform.Fields {
	f := leadform.Fields{
		StorageConsent: s.Consent.StorageConsent,
		Tracking:       s.Tracking,
	}
	if s.Result != nil {
		f.Label = s.Result.Label
		f.ConfidencePercent = s.Result.ConfidencePercent
	}
	return f
}

// Store persists session state for the session TTL.
type Store interface {
	Get(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, state *State) error
	// TryBegin marks an analysis as in flight for id. It returns false
	// without changing anything when one is already running.
	TryBegin(ctx context.Context, id string) (bool, error)
	End(ctx context.Context, id string) error
}
