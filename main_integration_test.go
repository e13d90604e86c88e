package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/keranova/typeteller/internal/gate"
	"github.com/keranova/typeteller/internal/handlers"
	"github.com/keranova/typeteller/internal/session"
	"github.com/keranova/typeteller/internal/usecase"
)

type blockingClient struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingClient) Submit(ctx context.Context, image *gate.Image) (json.RawMessage, error) {
	close(b.started)
	<-b.release
	return json.RawMessage(`{"Type 2: Wavy":0.91,"Type 3: Curly":0.09}`), nil
}

func TestServerGracefulShutdownFinishesAnalysis(t *testing.T) {
	logger := zap.NewNop()
	gin.SetMode(gin.TestMode)

	client := &blockingClient{started: make(chan struct{}), release: make(chan struct{})}
	defer func() {
		select {
		case <-client.release:
		default:
			close(client.release)
		}
	}()

	uc := usecase.NewAnalysisUseCase(session.NewMemoryStore(time.Hour), client, usecase.NewMetrics(prometheus.NewRegistry()), logger, usecase.Settings{MaxUploadBytes: 1 << 20})
	router := gin.New()
	handlers.RegisterRoutes(router, uc, handlers.Options{FormID: "form-1", MaxMB: 1, SessionTTL: time.Hour})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	waitForServer(t, addr)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("failed to create cookie jar: %v", err)
	}
	httpClient := &http.Client{Timeout: 5 * time.Second, Jar: jar}
	page, err := httpClient.Get("http://" + addr + "/?utm_source=test")
	if err != nil {
		t.Fatalf("page request failed: %v", err)
	}
	page.Body.Close()

	body, contentType := analyzeBody(t)
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := httpClient.Post("http://"+addr+"/api/analyze", contentType, body)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-client.started:
	case err := <-errCh:
		t.Fatalf("analyze request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("analysis did not start in time")
	}

	signalCh <- syscall.SIGTERM
	time.Sleep(50 * time.Millisecond)
	close(client.release)

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		payload, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, string(payload))
		}
		var out struct {
			Display string `json:"display"`
		}
		if err := json.Unmarshal(payload, &out); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if out.Display != "Type 2: Wavy — 91%" {
			t.Fatalf("unexpected display: %q", out.Display)
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func analyzeBody(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("age_confirmed", "true"); err != nil {
		t.Fatalf("failed to write field: %v", err)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="hair.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create part: %v", err)
	}
	if _, err := part.Write([]byte("jpeg-bytes")); err != nil {
		t.Fatalf("failed to write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
