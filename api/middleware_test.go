package api

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func gzipBytes(t *testing.T, data []byte) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return &buf
}

func TestGzipRequestMiddlewareLimit(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr error
	}{
		{name: "under limit", size: 10},
		{name: "exactly limit", size: 32},
		{name: "over limit", size: 33, wantErr: errBodyTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			var readErr error
			var got []byte
			handler := GzipRequestMiddleware(32)(func(c echo.Context) error {
				got, readErr = io.ReadAll(c.Request().Body)
				return c.NoContent(http.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodPost, "/", gzipBytes(t, bytes.Repeat([]byte("x"), tt.size)))
			req.Header.Set(echo.HeaderContentEncoding, "br, gzip")
			rec := httptest.NewRecorder()
			if err := handler(e.NewContext(req, rec)); err != nil {
				t.Fatalf("handler: %v", err)
			}
			if !errors.Is(readErr, tt.wantErr) {
				t.Fatalf("read error = %v, want %v", readErr, tt.wantErr)
			}
			if tt.wantErr == nil && len(got) != tt.size {
				t.Fatalf("read %d bytes, want %d", len(got), tt.size)
			}
			if req.Header.Get(echo.HeaderContentEncoding) != "" {
				t.Fatal("content encoding should be cleared")
			}
		})
	}
}

func TestGzipRequestMiddlewarePassThrough(t *testing.T) {
	e := echo.New()
	called := false
	handler := GzipRequestMiddleware(8)(func(c echo.Context) error {
		called = true
		body, _ := io.ReadAll(c.Request().Body)
		if string(body) != "plain body longer than limit" {
			t.Fatalf("unexpected body %q", body)
		}
		return nil
	})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("plain body longer than limit"))
	if err := handler(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !called {
		t.Fatal("next handler not called")
	}
}
