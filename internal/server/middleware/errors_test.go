package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	apperrors "github.com/3leaps/simstat/internal/errors"
)

func serve(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRecovery(t *testing.T) {
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		wantStatus  int
		wantMessage string
	}{
		{
			name: "passes through",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"jobs":[]}`))
			},
			wantStatus: http.StatusOK,
		},
		{
			name:        "string panic",
			handler:     func(w http.ResponseWriter, r *http.Request) { panic("scan snapshot missing") },
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "panic: scan snapshot missing",
		},
		{
			name:        "error panic",
			handler:     func(w http.ResponseWriter, r *http.Request) { panic(errors.New("nil job record")) },
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "panic: nil job record",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec *httptest.ResponseRecorder
			require.NotPanics(t, func() {
				rec = serve(t, Recovery(tt.handler), httptest.NewRequest(http.MethodGet, "/jobs", nil))
			})
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantMessage == "" {
				assert.Equal(t, `{"jobs":[]}`, rec.Body.String())
				return
			}
			resp := decodeEnvelope(t, rec)
			assert.Equal(t, apperrors.CodeInternal, resp.Error.Code)
			assert.Equal(t, tt.wantMessage, resp.Error.Message)
		})
	}
}

func TestRecovery_AbortHandlerRepanics(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		serve(t, h, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	})
}

func TestRecoveryWithLogger(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := RequestID(RecoveryWithLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodGet, "/jobs/wing-01", nil)
	req.Header.Set(apperrors.RequestIDHeader, "req-42")
	rec := serve(t, h, req)

	resp := decodeEnvelope(t, rec)
	assert.Equal(t, "req-42", resp.Error.RequestID)
	assert.Equal(t, "req-42", rec.Header().Get(apperrors.RequestIDHeader))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Handler panic", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "/jobs/wing-01", fields["path"])
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Contains(t, fields, "stack")
}

func TestErrorHandler(t *testing.T) {
	h := ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("x") }))
	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, apperrors.CodeInternal, decodeEnvelope(t, rec).Error.Code)
}

func TestWriteErrorResponse(t *testing.T) {
	tests := []struct {
		name        string
		err         *apperrors.Error
		status      int
		wantReqID   string
		wantDetails map[string]any
	}{
		{
			name:   "bad sort key",
			err:    apperrors.NewBadRequest("unknown sort key"),
			status: http.StatusBadRequest,
		},
		{
			name:        "unknown job with request id",
			err:         apperrors.NewNotFound("job not found").WithDetails(map[string]any{"request_id": "corr-7"}),
			status:      http.StatusNotFound,
			wantReqID:   "corr-7",
			wantDetails: map[string]any{"request_id": "corr-7"},
		},
		{
			name:        "details kept",
			err:         apperrors.NewBadRequest("ambiguous job name").WithDetails(map[string]any{"matches": float64(2)}),
			status:      http.StatusBadRequest,
			wantDetails: map[string]any{"matches": float64(2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeErrorResponse(rec, tt.err, tt.status)

			assert.Equal(t, tt.status, rec.Code)
			resp := decodeEnvelope(t, rec)
			assert.Equal(t, tt.err.Code, resp.Error.Code)
			assert.Equal(t, tt.err.Message, resp.Error.Message)
			assert.Equal(t, tt.wantReqID, resp.Error.RequestID)
			assert.Equal(t, tt.wantDetails, resp.Error.Details)
		})
	}
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{name: "generated", header: ""},
		{name: "propagated", header: "client-supplied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = apperrors.RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
			if tt.header != "" {
				req.Header.Set(apperrors.RequestIDHeader, tt.header)
			}
			rec := serve(t, h, req)

			require.NotEmpty(t, seen)
			if tt.header != "" {
				assert.Equal(t, tt.header, seen)
			}
			assert.Equal(t, seen, rec.Header().Get(apperrors.RequestIDHeader))
		})
	}
}

func TestAccessLog(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int64
		wantBytes  int64
	}{
		{
			name: "explicit status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("stale"))
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBytes:  5,
		},
		{
			name:       "implicit ok",
			handler:    func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) },
			wantStatus: http.StatusOK,
			wantBytes:  2,
		},
		{
			name:       "no body",
			handler:    func(w http.ResponseWriter, r *http.Request) {},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.InfoLevel)
			serve(t, AccessLog(zap.New(core))(tt.handler), httptest.NewRequest(http.MethodGet, "/jobs", nil))

			require.Equal(t, 1, logs.Len())
			fields := logs.All()[0].ContextMap()
			assert.Equal(t, "GET", fields["method"])
			assert.Equal(t, "/jobs", fields["path"])
			assert.Equal(t, tt.wantStatus, fields["status"])
			assert.Equal(t, tt.wantBytes, fields["bytes"])
		})
	}
}
