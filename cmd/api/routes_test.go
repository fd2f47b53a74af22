package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"callhub/internal/httpapi"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	denyAll := func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) }

	var healthErr error
	r := gin.New()
	registerRoutes(r, httpapi.Handlers{}, denyAll, func(context.Context) error { return healthErr })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	healthErr = errors.New("db down")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/calls/abc", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
