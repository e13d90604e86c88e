package inference

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keranova/typeteller/internal/gate"
	"github.com/keranova/typeteller/internal/gradio"
)

type stubTransport struct {
	connectErrs []error
	uploadErr   error
	predictErrs []error
	reply       []json.RawMessage

	connectCalls int
	uploads      int
	routes       []string
}

func (s *stubTransport) Connect(ctx context.Context, endpointID string) (*gradio.Handle, error) {
	s.connectCalls++
	if len(s.connectErrs) > 0 {
		err := s.connectErrs[0]
		s.connectErrs = s.connectErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &gradio.Handle{SpaceID: endpointID, Host: "http://space.local"}, nil
}

func (s *stubTransport) Upload(ctx context.Context, h *gradio.Handle, f gradio.File) (*gradio.FileRef, error) {
	s.uploads++
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	return &gradio.FileRef{Path: "/tmp/" + f.Name}, nil
}

func (s *stubTransport) Predict(ctx context.Context, h *gradio.Handle, route gradio.Route, inputs ...any) ([]json.RawMessage, error) {
	s.routes = append(s.routes, route.String())
	if len(s.predictErrs) > 0 {
		err := s.predictErrs[0]
		s.predictErrs = s.predictErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.reply, nil
}

func testImage() *gate.Image {
	return &gate.Image{Filename: "hair.jpg", MediaType: "image/jpeg", Size: 4, Data: []byte("jpeg")}
}

func TestSubmitUsesPrimaryRoute(t *testing.T) {
	transport := &stubTransport{reply: []json.RawMessage{json.RawMessage(`{"A":1}`), json.RawMessage(`"ignored"`)}}
	adapter := NewAdapter(transport, "acme/hair", zap.NewNop())

	raw, err := adapter.Submit(context.Background(), testImage())
	require.NoError(t, err)
	assert.JSONEq(t, `{"A":1}`, string(raw))
	assert.Equal(t, []string{"/predict"}, transport.routes)
}

func TestSubmitFallsBackExactlyOnce(t *testing.T) {
	transport := &stubTransport{
		predictErrs: []error{gradio.ErrRouteNotFound},
		reply:       []json.RawMessage{json.RawMessage(`[["X",0.4]]`)},
	}
	adapter := NewAdapter(transport, "acme/hair", zap.NewNop())

	raw, err := adapter.Submit(context.Background(), testImage())
	require.NoError(t, err)
	assert.JSONEq(t, `[["X",0.4]]`, string(raw))
	assert.Equal(t, []string{"/predict", "0"}, transport.routes)
	assert.Equal(t, 1, transport.uploads)
}

func TestSubmitReportsBothCausesAfterFallbackFails(t *testing.T) {
	primaryErr := errors.New("primary rejected")
	fallbackErr := errors.New("fallback exploded")
	transport := &stubTransport{predictErrs: []error{primaryErr, fallbackErr, nil}}
	adapter := NewAdapter(transport, "acme/hair", zap.NewNop())

	_, err := adapter.Submit(context.Background(), testImage())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.ErrorIs(t, err, primaryErr)
	assert.ErrorIs(t, err, fallbackErr)
	assert.Len(t, transport.routes, 2, "a third attempt must never be made")

	var failed *RequestFailedError
	require.ErrorAs(t, err, &failed)
	require.Len(t, failed.Attempts, 2)
	assert.Equal(t, "/predict", failed.Attempts[0].Step)
	assert.Equal(t, "0", failed.Attempts[1].Step)
}

func TestPrefetchFailureIsAbsorbedAndRetriedOnUse(t *testing.T) {
	transport := &stubTransport{
		connectErrs: []error{errors.New("space sleeping")},
		reply:       []json.RawMessage{json.RawMessage(`{"A":1}`)},
	}
	adapter := NewAdapter(transport, "acme/hair", zap.NewNop())

	adapter.Prefetch(context.Background())
	assert.False(t, adapter.Connected())

	_, err := adapter.Submit(context.Background(), testImage())
	require.NoError(t, err)
	assert.True(t, adapter.Connected())
	assert.Equal(t, 2, transport.connectCalls)

	_, err = adapter.Submit(context.Background(), testImage())
	require.NoError(t, err)
	assert.Equal(t, 2, transport.connectCalls, "handle is reused")
}

func TestSubmitConnectAndUploadFailuresAreRequestFailed(t *testing.T) {
	transport := &stubTransport{connectErrs: []error{errors.New("dns")}}
	adapter := NewAdapter(transport, "acme/hair", zap.NewNop())

	_, err := adapter.Submit(context.Background(), testImage())
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Empty(t, transport.routes)

	transport = &stubTransport{uploadErr: errors.New("413")}
	adapter = NewAdapter(transport, "acme/hair", zap.NewNop())
	_, err = adapter.Submit(context.Background(), testImage())
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Empty(t, transport.routes)
}

func TestSubmitWithoutOutputsYieldsNull(t *testing.T) {
	adapter := NewAdapter(&stubTransport{}, "acme/hair", zap.NewNop())

	raw, err := adapter.Submit(context.Background(), testImage())
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))
}

type slowConnectTransport struct {
	stubTransport
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (s *slowConnectTransport) Connect(ctx context.Context, endpointID string) (*gradio.Handle, error) {
	if s.calls.Add(1) == 1 {
		close(s.started)
	}
	select {
	case <-s.release:
		return &gradio.Handle{SpaceID: endpointID, Host: "http://space.local"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newSlowConnectTransport() *slowConnectTransport {
	return &slowConnectTransport{
		stubTransport: stubTransport{reply: []json.RawMessage{json.RawMessage(`{"A":1}`)}},
		started:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func TestSubmitDeadlineHonouredWhilePrefetchConnects(t *testing.T) {
	transport := newSlowConnectTransport()
	adapter := NewAdapter(transport, "acme/hair", zap.NewNop())

	prefetched := make(chan struct{})
	go func() {
		adapter.Prefetch(context.Background())
		close(prefetched)
	}()
	<-transport.started

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	begin := time.Now()
	_, err := adapter.Submit(ctx, testImage())
	assert.Less(t, time.Since(begin), time.Second, "Submit must not wait past its deadline")
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(transport.release)
	<-prefetched
	assert.True(t, adapter.Connected(), "the pending connect still completes")

	raw, err := adapter.Submit(context.Background(), testImage())
	require.NoError(t, err)
	assert.JSONEq(t, `{"A":1}`, string(raw))
	assert.Equal(t, int32(1), transport.calls.Load())
}

func TestConcurrentSubmitsShareOneConnect(t *testing.T) {
	transport := newSlowConnectTransport()
	adapter := NewAdapter(transport, "acme/hair", zap.NewNop())

	handles := make(chan *gradio.Handle, 5)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := adapter.ensureHandle(context.Background())
			assert.NoError(t, err)
			handles <- h
		}()
	}
	<-transport.started
	close(transport.release)
	wg.Wait()
	close(handles)

	var first *gradio.Handle
	for h := range handles {
		if first == nil {
			first = h
		}
		assert.Same(t, first, h)
	}
	assert.Equal(t, int32(1), transport.calls.Load())
}
