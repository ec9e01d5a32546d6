// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/logging"
)

func TestRequestLoggerMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		status     int
		wantLevel  string
		wantStatus float64
	}{
		{name: "health check logs at debug", path: "/health", status: http.StatusOK, wantLevel: "DEBUG", wantStatus: 200},
		{name: "metrics scrape logs at debug", path: "/metrics", status: http.StatusOK, wantLevel: "DEBUG", wantStatus: 200},
		{name: "other paths log at info", path: "/debug/vars", status: http.StatusNotFound, wantLevel: "INFO", wantStatus: 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			previous := slog.Default()
			slog.SetDefault(slog.New(logging.NewContextHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))))
			defer slog.SetDefault(previous)

			next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})

			rec := httptest.NewRecorder()
			RequestLoggerMiddleware()(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.status, rec.Code)

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, tt.path, entry["path"])
			assert.Equal(t, tt.wantStatus, entry["status"])
		})
	}
}

func TestRequestLoggerMiddleware_ImplicitOK(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(logging.NewContextHandler(slog.NewJSONHandler(&buf, nil))))
	defer slog.SetDefault(previous)

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hello"))
	})
	RequestLoggerMiddleware()(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/other", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, float64(200), entry["status"])
}
