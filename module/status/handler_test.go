package status

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusbridge/middleware"
	"statusbridge/tools/clock"
	"statusbridge/tools/idem"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	b, _ := newBot(t)
	h := NewHandler(b, idem.NewMem(time.Minute, clock.Fake(t0)), HandlerConfig{Token: "secret", DedupeTTL: time.Minute}, nil)
	r := gin.New()
	h.Register(r, middleware.RouteOpt{})
	return r
}

func post(t *testing.T, r *gin.Engine, hook Webhook) (int, map[string]any) {
	t.Helper()
	body, err := json.Marshal(hook)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/status", bytes.NewReader(body)))
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w.Code, out
}

func hook(id int64, text string) Webhook {
	return Webhook{
		Data:    text,
		Token:   "secret",
		Trigger: "direct_message",
		Message: WebhookMessage{ID: id, SenderID: 7},
	}
}

func TestHeartbeat(t *testing.T) {
	r := newRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
}

func TestWebhookCommands(t *testing.T) {
	r := newRouter(t)

	code, out := post(t, r, hook(1, "register 42"))
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, out["content"], "registered")

	_, out = post(t, r, hook(2, "status 🍔 lunch in 30m"))
	assert.Equal(t, "Status set: 🍔 lunch (until Sat 12:30 UTC)", out["content"])

	_, out = post(t, r, hook(3, "what"))
	assert.Equal(t, HelpText, out["content"])
}

func TestWebhookMentionIgnored(t *testing.T) {
	r := newRouter(t)
	h := hook(1, "status lunch")
	h.Trigger = "mention"
	_, out := post(t, r, h)
	assert.Equal(t, true, out["response_not_required"])
	assert.NotContains(t, out, "content")
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	r := newRouter(t)
	_, out := post(t, r, hook(9, "register 42"))
	assert.Contains(t, out["content"], "registered")

	_, out = post(t, r, hook(9, "register 42"))
	assert.Equal(t, true, out["response_not_required"])
}

func TestWebhookTokenMismatchStillAnswers(t *testing.T) {
	r := newRouter(t)
	h := hook(1, "help")
	h.Token = "wrong"
	code, out := post(t, r, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, HelpText, out["content"])
}

func TestWebhookBadBody(t *testing.T) {
	r := newRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/status", bytes.NewReader([]byte("{"))))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
