package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/s35241607/ticket-system/internal/domain"
	apperrors "github.com/s35241607/ticket-system/internal/pkg/errors"
	"github.com/s35241607/ticket-system/internal/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

func serve(handler gin.HandlerFunc) *httptest.ResponseRecorder {
	router := gin.New()
	router.Use(RequestID(), ErrorHandler())
	router.GET("/x", handler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return body
}

func TestErrorHandler_NoErrors(t *testing.T) {
	w := serve(func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
}

func TestErrorHandler_AppError(t *testing.T) {
	w := serve(func(c *gin.Context) {
		_ = c.Error(apperrors.ErrApprovalAlreadyOpen("doc-1"))
	})

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	body := decode(t, w)
	if body["code"] != apperrors.CodeApprovalAlreadyOpen {
		t.Errorf("code = %v, want %s", body["code"], apperrors.CodeApprovalAlreadyOpen)
	}
	params, ok := body["params"].(map[string]interface{})
	if !ok || params["document_id"] != "doc-1" {
		t.Errorf("params = %v, want document_id doc-1", body["params"])
	}
}

func TestErrorHandler_DomainError(t *testing.T) {
	w := serve(func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("load workflow: %w", domain.ErrNotFound))
	})

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if body := decode(t, w); body["code"] != apperrors.CodeNotFound {
		t.Errorf("code = %v, want %s", body["code"], apperrors.CodeNotFound)
	}
}

func TestErrorHandler_GenericError(t *testing.T) {
	w := serve(func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("something unexpected"))
	})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if body := decode(t, w); body["code"] != apperrors.CodeInternal {
		t.Errorf("code = %v, want %s", body["code"], apperrors.CodeInternal)
	}
}

func TestRequestID_PropagatesHeader(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	var seen string
	router.GET("/x", func(c *gin.Context) {
		seen = GetRequestID(c.Request.Context())
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "rid-42")
	router.ServeHTTP(w, req)

	if seen != "rid-42" {
		t.Errorf("request id = %q, want rid-42", seen)
	}
	if got := w.Header().Get(RequestIDHeader); got != "rid-42" {
		t.Errorf("header = %q, want rid-42", got)
	}
}

func TestRequestID_ReplacesMalformedHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"too long", strings.Repeat("a", maxRequestIDLen+1)},
		{"control characters", "rid\n42"},
		{"spaces", "rid 42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(RequestID())
			var seen string
			router.GET("/x", func(c *gin.Context) {
				seen = GetRequestID(c.Request.Context())
			})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}
			router.ServeHTTP(w, req)

			if _, err := uuid.Parse(seen); err != nil {
				t.Errorf("request id = %q, want a generated uuid", seen)
			}
			if got := w.Header().Get(RequestIDHeader); got != seen {
				t.Errorf("header = %q, want %q", got, seen)
			}
		})
	}
}
