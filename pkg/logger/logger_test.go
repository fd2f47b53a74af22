package logger

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrom_FallsBackToDefault(t *testing.T) {
	assert.Same(t, slog.Default(), From(context.Background()))

	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.Same(t, l, From(With(context.Background(), l)))
}

func TestParseLevel(t *testing.T) {
	lvl, ok := parseLevel("WARN")
	require.True(t, ok)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, ok = parseLevel("loud")
	assert.False(t, ok)
}

func TestMiddleware_PropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Middleware(slog.Default()))

	var fromCtx *slog.Logger
	r.GET("/x", func(c *gin.Context) {
		fromCtx = From(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	r.ServeHTTP(w, req)

	assert.Equal(t, "rid-1", w.Header().Get("X-Request-Id"))
	require.NotNil(t, fromCtx)
	assert.NotSame(t, slog.Default(), fromCtx)
}
