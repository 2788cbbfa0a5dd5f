package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func runRequestWithMiddleware(t *testing.T, middleware gin.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware)
	router.Any("/*path", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	responseRecorder := httptest.NewRecorder()
	router.ServeHTTP(responseRecorder, req)
	return responseRecorder
}

func TestInternalKeyMiddlewareDisabledWithoutKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/activate-by-phone", nil)
	responseRecorder := runRequestWithMiddleware(t, InternalKeyMiddleware(""), req)
	if responseRecorder.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", responseRecorder.Code)
	}
}

func TestInternalKeyMiddlewareRejectsMissingKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/activate-by-phone", nil)
	responseRecorder := runRequestWithMiddleware(t, InternalKeyMiddleware("s3cret"), req)
	if responseRecorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", responseRecorder.Code)
	}
}

func TestInternalKeyMiddlewareRejectsWrongKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/activate-by-phone", nil)
	req.Header.Set(InternalKeyHeader, "nope")
	responseRecorder := runRequestWithMiddleware(t, InternalKeyMiddleware("s3cret"), req)
	if responseRecorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", responseRecorder.Code)
	}
}

func TestInternalKeyMiddlewareAcceptsHeaderOrBearer(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/activate-by-phone", nil)
	req.Header.Set(InternalKeyHeader, "s3cret")
	if code := runRequestWithMiddleware(t, InternalKeyMiddleware("s3cret"), req).Code; code != http.StatusNoContent {
		t.Fatalf("header: expected status 204, got %d", code)
	}

	req = httptest.NewRequest(http.MethodPost, "/activate-by-phone", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	if code := runRequestWithMiddleware(t, InternalKeyMiddleware("s3cret"), req).Code; code != http.StatusNoContent {
		t.Fatalf("bearer: expected status 204, got %d", code)
	}
}

func TestRequestLoggerEchoesOrAssignsRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	responseRecorder := runRequestWithMiddleware(t, RequestLogger(), req)
	if got := responseRecorder.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	responseRecorder = runRequestWithMiddleware(t, RequestLogger(), req)
	if got := responseRecorder.Header().Get(RequestIDHeader); len(got) != 36 {
		t.Fatalf("expected generated uuid, got %q", got)
	}
}
