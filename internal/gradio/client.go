// Package gradio is a minimal client for the HTTP API of a hosted Gradio app
// (typically a Hugging Face Space).
package gradio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// ErrRouteNotFound is returned when the app does not expose the requested route.
var ErrRouteNotFound = errors.New("route not found")

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Code, e.Body)
}

// AppError carries an error reported by the Gradio app itself.
type AppError struct {
	Message string
}

func (e *AppError) Error() string { return "gradio app error: " + e.Message }

// Handle is a connection to one Gradio app. It is safe for concurrent use.
type Handle struct {
	SpaceID   string
	Host      string
	APIPrefix string
	Version   string

	routes map[string]int
}

// HasRoute reports whether the app advertised the named route in its config.
func (h *Handle) HasRoute(name string) bool {
	_, ok := h.routes[strings.TrimPrefix(name, "/")]
	return ok
}

func (h *Handle) endpoint(path string) string {
	return h.Host + h.APIPrefix + path
}

// File is a local file to be uploaded as a model input.
type File struct {
	Name      string
	MediaType string
	Data      []byte
}

// FileRef is an uploaded file as referenced in prediction inputs.
type FileRef struct {
	Path     string            `json:"path"`
	OrigName string            `json:"orig_name,omitempty"`
	MimeType string            `json:"mime_type,omitempty"`
	Size     int               `json:"size,omitempty"`
	Meta     map[string]string `json:"meta"`
}

// Client talks to the Hugging Face hub and Gradio apps.
type Client struct {
	httpClient *http.Client
	hubURL     string
	token      string
	logger     *zap.Logger
}

// NewClient constructs a client. token is optional and sent as a bearer
// token for private Spaces.
func NewClient(httpClient *http.Client, hubURL, token string, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		hubURL:     strings.TrimRight(hubURL, "/"),
		token:      token,
		logger:     logger.Named("gradio"),
	}
}

// Connect resolves endpointID to an app host and loads its config.
// endpointID is either a Space id ("owner/name") or an http(s) base URL.
func (c *Client) Connect(ctx context.Context, endpointID string) (*Handle, error) {
	host, err := c.resolveHost(ctx, endpointID)
	if err != nil {
		return nil, err
	}

	var cfg struct {
		Version      string `json:"version"`
		APIPrefix    string `json:"api_prefix"`
		Dependencies []struct {
			ID      *int `json:"id"`
			APIName any  `json:"api_name"`
		} `json:"dependencies"`
	}
	if err := c.getJSON(ctx, "gradio.config", host+"/config", &cfg); err != nil {
		return nil, err
	}

	h := &Handle{
		SpaceID:   endpointID,
		Host:      host,
		APIPrefix: strings.TrimRight(cfg.APIPrefix, "/"),
		Version:   cfg.Version,
		routes:    make(map[string]int, len(cfg.Dependencies)),
	}
	for i, dep := range cfg.Dependencies {
		name, ok := dep.APIName.(string)
		if !ok || name == "" {
			continue
		}
		idx := i
		if dep.ID != nil {
			idx = *dep.ID
		}
		h.routes[name] = idx
	}

	c.logger.Debug("connected to gradio app",
		zap.String("space_id", endpointID),
		zap.String("host", host),
		zap.String("version", h.Version),
		zap.Int("routes", len(h.routes)),
	)
	return h, nil
}

func (c *Client) resolveHost(ctx context.Context, endpointID string) (string, error) {
	endpointID = strings.TrimSpace(endpointID)
	if endpointID == "" {
		return "", errors.New("gradio: empty endpoint id")
	}
	if strings.HasPrefix(endpointID, "http://") || strings.HasPrefix(endpointID, "https://") {
		return strings.TrimRight(endpointID, "/"), nil
	}

	var info struct {
		Host string `json:"host"`
	}
	if err := c.getJSON(ctx, "gradio.resolve_space", c.hubURL+"/api/spaces/"+endpointID+"/host", &info); err != nil {
		return "", err
	}
	if info.Host == "" {
		return "", fmt.Errorf("gradio.resolve_space: no host for %q", endpointID)
	}
	return strings.TrimRight(info.Host, "/"), nil
}

// Upload stores f on the app server and returns a reference usable as a
// prediction input.
func (c *Client) Upload(ctx context.Context, h *Handle, f File) (*FileRef, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.Name))
	if f.MediaType != "" {
		header.Set("Content-Type", f.MediaType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("gradio.upload: %w", err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, fmt.Errorf("gradio.upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gradio.upload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, h.endpoint("/upload"), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var paths []string
	if err := c.doJSON(req, "gradio.upload", &paths); err != nil {
		return nil, err
	}
	if len(paths) == 0 || paths[0] == "" {
		return nil, errors.New("gradio.upload: no path returned")
	}
	return &FileRef{
		Path:     paths[0],
		OrigName: f.Name,
		MimeType: f.MediaType,
		Size:     len(f.Data),
		Meta:     map[string]string{"_type": "gradio.FileData"},
	}, nil
}

// Predict calls route with the positional inputs and returns the output data
// array. Named routes use the two-step /call API; positional routes use the
// legacy /api/predict endpoint with fn_index.
func (c *Client) Predict(ctx context.Context, h *Handle, route Route, inputs ...any) ([]json.RawMessage, error) {
	if inputs == nil {
		inputs = []any{}
	}
	if route.IsNamed() {
		return c.callNamed(ctx, h, route.Name(), inputs)
	}
	return c.callIndexed(ctx, h, route.Position(), inputs)
}

func (c *Client) callNamed(ctx context.Context, h *Handle, name string, inputs []any) ([]json.RawMessage, error) {
	if !h.HasRoute(name) {
		return nil, fmt.Errorf("gradio.call /%s: %w", name, ErrRouteNotFound)
	}

	path := "/call/" + url.PathEscape(name)
	req, err := c.newJSONRequest(ctx, h.endpoint(path), map[string]any{"data": inputs})
	if err != nil {
		return nil, err
	}
	var queued struct {
		EventID string `json:"event_id"`
	}
	if err := c.doJSON(req, "gradio.call", &queued); err != nil {
		return nil, err
	}
	if queued.EventID == "" {
		return nil, errors.New("gradio.call: missing event id")
	}

	req, err = c.newRequest(ctx, http.MethodGet, h.endpoint(path+"/"+url.PathEscape(queued.EventID)), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gradio.result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("gradio.result", resp)
	}
	return readResult(resp.Body)
}

func (c *Client) callIndexed(ctx context.Context, h *Handle, index int, inputs []any) ([]json.RawMessage, error) {
	req, err := c.newJSONRequest(ctx, h.endpoint("/api/predict/"), map[string]any{
		"data":     inputs,
		"fn_index": index,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Data  []json.RawMessage `json:"data"`
		Error *string           `json:"error"`
	}
	if err := c.doJSON(req, "gradio.predict", &out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, &AppError{Message: *out.Error}
	}
	return out.Data, nil
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, op, out)
}

func (c *Client) newJSONRequest(ctx context.Context, endpoint string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && (op == "gradio.call" || op == "gradio.predict") {
		return fmt.Errorf("%s: %w", op, ErrRouteNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}
