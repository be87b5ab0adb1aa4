package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestManagerStopsAtAbort(t *testing.T) {
	var ran []string
	m := NewManager(
		func(c *gin.Context) { ran = append(ran, "a") },
		func(c *gin.Context) { ran = append(ran, "b"); c.AbortWithStatus(http.StatusTeapot) },
	)
	m.Add(func(c *gin.Context) { ran = append(ran, "c") })

	r := gin.New()
	r.Use(m.Use())
	GET(r, "/", func(c *gin.Context) { ran = append(ran, "handler") }, RouteOpt{})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, []string{"a", "b"}, ran)

	m.Clear()
	assert.Equal(t, 0, m.Len())
}

func TestRouteOptMiddlewaresRunFirst(t *testing.T) {
	var ran []string
	r := gin.New()
	POST(r, "/x", func(c *gin.Context) { ran = append(ran, "handler") }, RouteOpt{
		Middlewares: []gin.HandlerFunc{func(c *gin.Context) { ran = append(ran, "mw") }},
	})
	serve(r, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, []string{"mw", "handler"}, ran)
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc")
	assert.Equal(t, "abc", serve(r, req).Body.String())
}

func TestMaxBody(t *testing.T) {
	r := gin.New()
	r.Use(MaxBody(4))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("ok")))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRecoveryAndAccessLog(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := zap.New(core)

	r := gin.New()
	r.Use(AccessLog(log), Recovery(log))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, logs.FilterMessage("handler panic").Len())

	entries := logs.FilterMessage("request").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, int64(http.StatusInternalServerError), entries[0].ContextMap()["status"])
	}
}
