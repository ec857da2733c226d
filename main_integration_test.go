package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/formreader/internal/config"
	"github.com/example/formreader/internal/extraction"
	"github.com/example/formreader/internal/gemini"
	"github.com/example/formreader/internal/interpret"
	"github.com/example/formreader/internal/usecase"
)

type blockingProcessor struct {
	started chan struct{}
	release chan struct{}
}

func (p *blockingProcessor) Process(ctx context.Context, imageBytes []byte) (string, interpret.Result) {
	select {
	case <-p.started:
	default:
		close(p.started)
	}
	<-p.release
	return "req-1", interpret.Unstructured("done")
}

func TestServerGracefulShutdown(t *testing.T) {
	logger := zap.NewNop()

	processor := &blockingProcessor{started: make(chan struct{}), release: make(chan struct{})}
	defer func() {
		select {
		case <-processor.release:
		default:
			close(processor.release)
		}
	}()

	t.Log("creating listener")
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: newRouter(config.DefaultConfig(), processor, logger)}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	t.Logf("listening on %s", addr)
	waitForServer(t, addr)

	client := &http.Client{Timeout: 2 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		t.Log("sending request")
		body, contentType := multipartImage(t, []byte("image"))
		resp, err := client.Post("http://"+addr+"/api/extract", contentType, body)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-processor.started:
		t.Log("request started")
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	t.Log("sending signal")
	signalCh <- syscall.SIGTERM

	time.Sleep(50 * time.Millisecond)
	close(processor.release)
	t.Log("released request")

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, string(body))
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
		t.Log("server shutdown complete")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func TestExtractEndToEnd(t *testing.T) {
	fakeModel := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		reply := map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": "نتیجه: {\"نام\": \"علی\", \"امضا\": true} پایان"}},
				},
			}},
		}
		_ = json.NewEncoder(w).Encode(reply)
	}))
	defer fakeModel.Close()

	cfg := config.DefaultConfig()
	cfg.APIKey = "test-key"
	logger := zap.NewNop()
	client := extraction.NewClient(cfg, gemini.Factory(gemini.WithBaseURL(fakeModel.URL)), logger)
	router := newRouter(cfg, usecase.NewFormExtractionUseCase(client, cfg.MaxImagePixels, logger), logger)

	var img bytes.Buffer
	if err := png.Encode(&img, image.NewGray(image.Rect(0, 0, 3, 3))); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	body, contentType := multipartImage(t, img.Bytes())
	req := httptest.NewRequest(http.MethodPost, "/api/extract", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload["kind"] != "structured" {
		t.Fatalf("expected structured result, got %v", payload)
	}
	if want := "{\n  \"نام\": \"علی\",\n  \"امضا\": true\n}"; payload["result"] != want {
		t.Fatalf("unexpected result: %q", payload["result"])
	}
}

func TestExtractWithoutCredentialReportsError(t *testing.T) {
	t.Setenv(config.APIKeyEnv, "")
	t.Setenv("GOOGLE_API_KEY", "")

	cfg := config.DefaultConfig()
	logger := zap.NewNop()
	client := extraction.NewClient(cfg, gemini.Factory(), logger)
	router := newRouter(cfg, usecase.NewFormExtractionUseCase(client, cfg.MaxImagePixels, logger), logger)

	var img bytes.Buffer
	if err := png.Encode(&img, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	body, contentType := multipartImage(t, img.Bytes())
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), interpret.ErrorLabel+": ") {
		t.Fatalf("expected labeled error on page: %s", resp.Body.String())
	}
}

func multipartImage(t *testing.T, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "form.png")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("failed to write form file: %v", err)
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
