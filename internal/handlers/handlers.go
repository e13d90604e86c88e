package handlers

import (
	"embed"
	"errors"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/keranova/typeteller/internal/gate"
	"github.com/keranova/typeteller/internal/inference"
	"github.com/keranova/typeteller/internal/leadform"
	"github.com/keranova/typeteller/internal/prediction"
	"github.com/keranova/typeteller/internal/session"
	"github.com/keranova/typeteller/internal/usecase"
)

const (
	// SessionCookie carries the visitor's session id.
	SessionCookie = "typeteller_session"

	formContainer = "tf-form"

	// multipartOverhead is allowed on top of the upload limit for form
	// boundaries and the other fields.
	multipartOverhead = 1 << 20

	predictionFailedMessage = "Prediction failed. Please try another photo."
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Options configures the HTTP surface.
type Options struct {
	FormID     string
	MaxMB      int
	SessionTTL time.Duration
	Metrics    http.Handler
	Logger     *zap.Logger
}

type handler struct {
	uc     *usecase.AnalysisUseCase
	opts   Options
	logger *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.AnalysisUseCase, opts Options) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &handler{uc: uc, opts: opts, logger: opts.Logger.Named("handlers")}

	router.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/*.tmpl")))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	router.GET("/", h.page)
	api := router.Group("/api")
	api.POST("/consent", h.consent)
	api.POST("/analyze", h.analyze)
	api.GET("/result", h.result)
}

type pageData struct {
	Session     *session.State
	Display     string
	MaxMB       int
	Accept      string
	FormID      string
	FormMarkup  template.HTML
	EmbedScript string
}

func (h *handler) page(c *gin.Context) {
	state, err := h.session(c)
	if err != nil {
		h.logger.Error("failed to load session", zap.Error(err))
		c.String(http.StatusInternalServerError, "Something went wrong. Please reload the page.")
		return
	}

	// Each page load is a fresh document, so the form is mounted every time.
	host := leadform.NewEmbedHost()
	bridge := leadform.NewBridge(host, h.opts.FormID)
	if _, err := bridge.Render(formContainer, state.LeadFields()); err != nil {
		h.logger.Warn("failed to render lead form", zap.Error(err))
	}

	c.HTML(http.StatusOK, "page.html.tmpl", pageData{
		Session:     state,
		Display:     display(state.Result),
		MaxMB:       h.opts.MaxMB,
		Accept:      strings.Join(gate.AcceptedMediaTypes, ","),
		FormID:      h.opts.FormID,
		FormMarkup:  host.Markup(formContainer),
		EmbedScript: leadform.EmbedScriptURL,
	})
}

type consentRequest struct {
	AgeConfirmed   bool `json:"age_confirmed"`
	StorageConsent bool `json:"storage_consent"`
}

func (h *handler) consent(c *gin.Context) {
	var req consentRequest
	if c.ContentType() == binding.MIMEJSON {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid consent payload."})
			return
		}
	} else {
		req.AgeConfirmed = checked(c.PostForm("age_confirmed"))
		req.StorageConsent = checked(c.PostForm("storage_consent"))
	}

	state, err := h.session(c)
	if err != nil {
		h.internalError(c, err)
		return
	}
	state, err = h.uc.UpdateConsent(c.Request.Context(), state.ID, session.Consent{
		AgeConfirmed:   req.AgeConfirmed,
		StorageConsent: req.StorageConsent,
	})
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.stateResponse(state))
}

func (h *handler) analyze(c *gin.Context) {
	maxBytes := h.uc.MaxUploadBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)

	state, err := h.session(c)
	if err != nil {
		h.internalError(c, err)
		return
	}

	image, err := readImage(c)
	if err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			// The form was cut off unread, so only the session's consent is known.
			h.fail(c, gate.CanSubmit(&gate.Image{Size: tooBig.Limit}, state.Consent.AgeConfirmed, maxBytes))
		case errors.Is(err, gate.ErrUnsupportedType):
			h.fail(c, err)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Unable to read the uploaded photo."})
		}
		return
	}

	if consent, changed := consentFromForm(c, state.Consent); changed {
		if state, err = h.uc.UpdateConsent(c.Request.Context(), state.ID, consent); err != nil {
			h.internalError(c, err)
			return
		}
	}

	out, err := h.uc.Analyze(c.Request.Context(), state.ID, image)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := h.stateResponse(out.Session)
	resp["analysis_id"] = out.AnalysisID
	c.JSON(http.StatusOK, resp)
}

func (h *handler) result(c *gin.Context) {
	state, err := h.session(c)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.stateResponse(state))
}

// session resolves the visitor's session from the cookie, starting a new one
// (with tracking from the current URL) when needed.
func (h *handler) session(c *gin.Context) (*session.State, error) {
	id, _ := c.Cookie(SessionCookie)
	state, created, err := h.uc.EnsureSession(c.Request.Context(), id, leadform.TrackingFromQuery(c.Request.URL.Query()))
	if err != nil {
		return nil, err
	}
	if created || id != state.ID {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(SessionCookie, state.ID, int(h.opts.SessionTTL.Seconds()), "/", "", c.Request.TLS != nil, true)
	}
	return state, nil
}

func readImage(c *gin.Context) (*gate.Image, error) {
	file, err := c.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	mediaType := file.Header.Get("Content-Type")
	if err := gate.CheckMediaType(mediaType); err != nil {
		return nil, err
	}

	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	return &gate.Image{
		Filename:  file.Filename,
		MediaType: mediaType,
		Size:      file.Size,
		Data:      data,
	}, nil
}

func consentFromForm(c *gin.Context, current session.Consent) (session.Consent, bool) {
	next := current
	if v, ok := c.GetPostForm("age_confirmed"); ok {
		next.AgeConfirmed = checked(v)
	}
	if v, ok := c.GetPostForm("storage_consent"); ok {
		next.StorageConsent = checked(v)
	}
	return next, next != current
}

// checked interprets a checkbox value; browsers send "on" by default.
func checked(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "yes":
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}

func (h *handler) stateResponse(state *session.State) gin.H {
	resp := gin.H{
		"status":  state.Status,
		"consent": state.Consent,
		"result":  nil,
		"lead_form": gin.H{
			"form_id": h.opts.FormID,
			"hidden":  state.LeadFields().Hidden(),
		},
	}
	if state.Result != nil {
		resp["result"] = state.Result
		resp["display"] = display(state.Result)
	}
	return resp
}

func (h *handler) fail(c *gin.Context, err error) {
	status, code, message := classifyError(err, h.opts.MaxMB)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		h.logger.Error("analysis failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code, "message": message})
}

func (h *handler) internalError(c *gin.Context, err error) {
	h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "Something went wrong. Please try again."})
}

func classifyError(err error, maxMB int) (int, string, string) {
	switch {
	case errors.Is(err, gate.ErrNoFile):
		return http.StatusBadRequest, "no_file", gate.Message(err, maxMB)
	case errors.Is(err, gate.ErrConsentRequired):
		return http.StatusBadRequest, "consent_required", gate.Message(err, maxMB)
	case errors.Is(err, gate.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large", gate.Message(err, maxMB)
	case errors.Is(err, gate.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType, "unsupported_type", gate.Message(err, maxMB)
	case errors.Is(err, usecase.ErrAnalysisInFlight):
		return http.StatusConflict, "analysis_in_flight", usecase.StatusAnalyzing
	case errors.Is(err, inference.ErrRequestFailed):
		return http.StatusBadGateway, "request_failed", predictionFailedMessage
	case errors.Is(err, prediction.ErrUnrecognizedFormat):
		return http.StatusBadGateway, "unrecognized_format", predictionFailedMessage
	case errors.Is(err, prediction.ErrEmptyPrediction):
		return http.StatusBadGateway, "empty_prediction", predictionFailedMessage
	default:
		return http.StatusInternalServerError, "internal", predictionFailedMessage
	}
}

func display(result *prediction.Result) string {
	if result == nil {
		return ""
	}
	return result.Label + " — " + strconv.Itoa(result.ConfidencePercent) + "%"
}
