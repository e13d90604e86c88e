package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keranova/typeteller/internal/gate"
	"github.com/keranova/typeteller/internal/inference"
	"github.com/keranova/typeteller/internal/leadform"
	"github.com/keranova/typeteller/internal/logging"
	"github.com/keranova/typeteller/internal/prediction"
	"github.com/keranova/typeteller/internal/session"
)

// ErrAnalysisInFlight is returned when the session already has an analysis running.
var ErrAnalysisInFlight = errors.New("analysis already in progress")

// Session status values shown next to the analyze button.
const (
	StatusAnalyzing = "Analyzing…"
	StatusDone      = "Done."
	StatusFailed    = "Error. Try again."
)

// Settings are the tunables of the analysis flow.
type Settings struct {
	MaxUploadBytes int64
	// PredictTimeout bounds one Submit call. Zero means no limit.
	PredictTimeout time.Duration
}

// Outcome is a successful analysis.
type Outcome struct {
	AnalysisID string
	Result     *prediction.Result
	Session    *session.State
}

// AnalysisUseCase encapsulates the page's business logic.
type AnalysisUseCase struct {
	sessions session.Store
	client   inference.Client
	metrics  *Metrics
	logger   *zap.Logger
	settings Settings
	now      func() time.Time
}

// NewAnalysisUseCase constructs a new use case instance. metrics may be nil.
func NewAnalysisUseCase(sessions session.Store, client inference.Client, metrics *Metrics, logger *zap.Logger, settings Settings) *AnalysisUseCase {
	return &AnalysisUseCase{
		sessions: sessions,
		client:   client,
		metrics:  metrics,
		logger:   logger.Named("analysis_usecase"),
		settings: settings,
		now:      time.Now,
	}
}

// MaxUploadBytes returns the configured upload limit.
func (uc *AnalysisUseCase) MaxUploadBytes() int64 {
	return uc.settings.MaxUploadBytes
}

// EnsureSession returns the session id refers to, or starts a new one with
// tracking when it is unknown or expired. Tracking of an existing session is
// never changed.
func (uc *AnalysisUseCase) EnsureSession(ctx context.Context, id string, tracking leadform.Tracking) (*session.State, bool, error) {
	if id != "" {
		state, err := uc.sessions.Get(ctx, id)
		if err == nil {
			return state, false, nil
		}
		if !errors.Is(err, session.ErrNotFound) {
			return nil, false, err
		}
	}

	state := session.New(tracking, uc.now())
	if err := uc.sessions.Save(ctx, state); err != nil {
		return nil, false, err
	}
	logging.WithOperation(uc.logger, "usecase.start_session", "").Debug("session started",
		zap.String("session_id", state.ID),
		zap.String("utm_source", tracking.Source),
		zap.String("utm_campaign", tracking.Campaign),
	)
	return state, true, nil
}

// GetSession loads an existing session.
func (uc *AnalysisUseCase) GetSession(ctx context.Context, id string) (*session.State, error) {
	return uc.sessions.Get(ctx, id)
}

// UpdateConsent replaces the session's consent flags.
func (uc *AnalysisUseCase) UpdateConsent(ctx context.Context, id string, consent session.Consent) (*session.State, error) {
	state, err := uc.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	state.Consent = consent
	state.UpdatedAt = uc.now().UTC()
	if err := uc.sessions.Save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Analyze classifies image for the session. The session's previous result is
// replaced only when the reply was fully understood.
func (uc *AnalysisUseCase) Analyze(ctx context.Context, sessionID string, image *gate.Image) (*Outcome, error) {
	analysisID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.analyze", analysisID).With(zap.String("session_id", sessionID))

	state, err := uc.sessions.Get(ctx, sessionID)
	if err != nil {
		uc.metrics.observeOutcome(OutcomeError)
		return nil, err
	}

	if err := gate.CanSubmit(image, state.Consent.AgeConfirmed, uc.settings.MaxUploadBytes); err != nil {
		uc.metrics.observeOutcome(OutcomeRejected)
		opLogger.Info("analysis rejected", zap.Error(err))
		return nil, err
	}

	started, err := uc.sessions.TryBegin(ctx, sessionID)
	if err != nil {
		uc.metrics.observeOutcome(OutcomeError)
		return nil, logging.NewOperationError("usecase.try_begin", analysisID, err)
	}
	if !started {
		uc.metrics.observeOutcome(OutcomeInFlight)
		return nil, ErrAnalysisInFlight
	}
	defer func() {
		if err := uc.sessions.End(context.WithoutCancel(ctx), sessionID); err != nil {
			opLogger.Warn("failed to clear in-flight flag", zap.Error(err))
		}
	}()

	uc.setStatus(ctx, sessionID, StatusAnalyzing, nil, opLogger)

	result, err := uc.classify(ctx, analysisID, image, opLogger)
	if err != nil {
		uc.metrics.observeOutcome(outcomeFor(err))
		uc.setStatus(context.WithoutCancel(ctx), sessionID, StatusFailed, nil, opLogger)
		return nil, err
	}

	updated := uc.setStatus(context.WithoutCancel(ctx), sessionID, StatusDone, result, opLogger)
	if updated == nil {
		uc.metrics.observeOutcome(OutcomeError)
		return nil, logging.NewOperationError("usecase.save_result", analysisID, errors.New("session state could not be saved"))
	}

	uc.metrics.observeOutcome(OutcomeSuccess)
	opLogger.Info("analysis complete",
		zap.String("label", result.Label),
		zap.Int("confidence_percent", result.ConfidencePercent),
	)
	return &Outcome{AnalysisID: analysisID, Result: result, Session: updated}, nil
}

func (uc *AnalysisUseCase) classify(ctx context.Context, analysisID string, image *gate.Image, opLogger *zap.Logger) (*prediction.Result, error) {
	submitCtx := ctx
	if uc.settings.PredictTimeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, uc.settings.PredictTimeout)
		defer cancel()
	}

	started := uc.now()
	raw, err := uc.client.Submit(submitCtx, image)
	uc.metrics.observeInference(uc.now().Sub(started))
	if err != nil {
		wrapped := logging.NewOperationError("usecase.submit", analysisID, err)
		opLogger.Error("prediction request failed", zap.Error(wrapped))
		return nil, wrapped
	}

	reply, err := prediction.Classify(raw)
	if err != nil {
		opLogger.Warn("unrecognized reply", zap.ByteString("reply", truncate(raw, 256)))
		return nil, logging.NewOperationError("usecase.normalize", analysisID, err)
	}
	uc.metrics.observeShape(prediction.ShapeName(reply))

	result, err := prediction.FromReply(reply)
	if err != nil {
		opLogger.Warn("reply could not be normalized", zap.String("shape", prediction.ShapeName(reply)), zap.Error(err))
		return nil, logging.NewOperationError("usecase.normalize", analysisID, err)
	}
	return result, nil
}

// setStatus reloads the session so concurrent consent changes are kept, then
// stores status and, when non-nil, result. It returns nil if the session
// could not be saved.
func (uc *AnalysisUseCase) setStatus(ctx context.Context, sessionID, status string, result *prediction.Result, opLogger *zap.Logger) *session.State {
	state, err := uc.sessions.Get(ctx, sessionID)
	if err != nil {
		opLogger.Warn("failed to reload session", zap.String("status", status), zap.Error(err))
		return nil
	}
	state.Status = status
	if result != nil {
		state.Result = result
	}
	state.UpdatedAt = uc.now().UTC()
	if err := uc.sessions.Save(ctx, state); err != nil {
		opLogger.Warn("failed to save session", zap.String("status", status), zap.Error(err))
		return nil
	}
	return state
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, inference.ErrRequestFailed):
		return OutcomeRequestFailed
	case errors.Is(err, prediction.ErrUnrecognizedFormat):
		return OutcomeUnrecognizedFormat
	case errors.Is(err, prediction.ErrEmptyPrediction):
		return OutcomeEmptyPrediction
	default:
		return OutcomeError
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
