// Package inference sends uploaded photos to the hosted classifier.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/keranova/typeteller/internal/gate"
	"github.com/keranova/typeteller/internal/gradio"
)

// connectTimeout bounds a shared connect, which outlives the caller that
// started it.
const connectTimeout = 30 * time.Second

// ErrRequestFailed matches every *RequestFailedError.
var ErrRequestFailed = errors.New("prediction request failed")

// Attempt records one failed step of a request.
type Attempt struct {
	Step string
	Err  error
}

// RequestFailedError is returned when no route produced a reply. It keeps the
// cause of every attempt, in order.
type RequestFailedError struct {
	Attempts []Attempt
}

func (e *RequestFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Step, a.Err))
	}
	return ErrRequestFailed.Error() + ": " + strings.Join(parts, "; ")
}

func (e *RequestFailedError) Unwrap() []error {
	errs := []error{ErrRequestFailed}
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Transport is the subset of the Gradio client used by the adapter.
type Transport interface {
	Connect(ctx context.Context, endpointID string) (*gradio.Handle, error)
	Upload(ctx context.Context, h *gradio.Handle, f gradio.File) (*gradio.FileRef, error)
	Predict(ctx context.Context, h *gradio.Handle, route gradio.Route, inputs ...any) ([]json.RawMessage, error)
}

// Client exposes the functionality used by the analysis flow.
type Client interface {
	Submit(ctx context.Context, image *gate.Image) (json.RawMessage, error)
}

// Adapter is the production Client. The app handle is created lazily and
// reused by every request of the process.
type Adapter struct {
	transport  Transport
	endpointID string
	primary    gradio.Route
	fallback   gradio.Route
	logger     *zap.Logger

	connecting singleflight.Group

	mu     sync.Mutex
	handle *gradio.Handle
}

// NewAdapter returns an adapter for endpointID that calls "/predict" and
// falls back to fn_index 0.
func NewAdapter(transport Transport, endpointID string, logger *zap.Logger) *Adapter {
	return &Adapter{
		transport:  transport,
		endpointID: endpointID,
		primary:    gradio.Named("/predict"),
		fallback:   gradio.Index(0),
		logger:     logger.Named("inference"),
	}
}

// Prefetch connects ahead of the first request. Failures are logged and
// otherwise ignored; Submit connects again on demand.
func (a *Adapter) Prefetch(ctx context.Context) {
	if _, err := a.ensureHandle(ctx); err != nil {
		a.logger.Debug("prefetch connect failed", zap.String("endpoint", a.endpointID), zap.Error(err))
	}
}

// Connected reports whether a handle is cached.
func (a *Adapter) Connected() bool {
	return a.cached() != nil
}

func (a *Adapter) cached() *gradio.Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handle
}

// ensureHandle returns the cached handle or joins the connect in progress,
// starting one if needed. Callers stop waiting when their ctx is done; the
// connect itself carries on for the others.
func (a *Adapter) ensureHandle(ctx context.Context) (*gradio.Handle, error) {
	if h := a.cached(); h != nil {
		return h, nil
	}

	ch := a.connecting.DoChan(a.endpointID, func() (any, error) {
		if h := a.cached(); h != nil {
			return h, nil
		}
		connectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), connectTimeout)
		defer cancel()
		h, err := a.transport.Connect(connectCtx, a.endpointID)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.handle = h
		a.mu.Unlock()
		return h, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*gradio.Handle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit uploads image and returns the first output of the prediction. The
// primary route is tried once, then the fallback route once.
func (a *Adapter) Submit(ctx context.Context, image *gate.Image) (json.RawMessage, error) {
	h, err := a.ensureHandle(ctx)
	if err != nil {
		return nil, &RequestFailedError{Attempts: []Attempt{{Step: "connect", Err: err}}}
	}

	ref, err := a.transport.Upload(ctx, h, gradio.File{
		Name:      image.Filename,
		MediaType: image.MediaType,
		Data:      image.Data,
	})
	if err != nil {
		return nil, &RequestFailedError{Attempts: []Attempt{{Step: "upload", Err: err}}}
	}

	data, err := a.transport.Predict(ctx, h, a.primary, ref)
	if err == nil {
		return first(data), nil
	}
	a.logger.Info("primary route failed, trying fallback",
		zap.String("route", a.primary.String()),
		zap.String("fallback", a.fallback.String()),
		zap.Error(err),
	)
	attempts := []Attempt{{Step: a.primary.String(), Err: err}}

	data, err = a.transport.Predict(ctx, h, a.fallback, ref)
	if err == nil {
		return first(data), nil
	}
	attempts = append(attempts, Attempt{Step: a.fallback.String(), Err: err})
	return nil, &RequestFailedError{Attempts: attempts}
}

// first returns data[0], or JSON null when the app returned no outputs.
func first(data []json.RawMessage) json.RawMessage {
	if len(data) == 0 || len(data[0]) == 0 {
		return json.RawMessage("null")
	}
	return data[0]
}
