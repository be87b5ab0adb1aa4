package zulip

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusbridge/module/status/service"
	"statusbridge/tools/errs"
)

type seen struct {
	path string
	form map[string]string
	user string
	pass string
}

func newServer(t *testing.T, status int, body string) (*httptest.Server, func() []seen) {
	t.Helper()
	var mu sync.Mutex
	var reqs []seen
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		s := seen{path: r.URL.Path, form: map[string]string{}}
		s.user, s.pass, _ = r.BasicAuth()
		for k := range r.PostForm {
			s.form[k] = r.PostForm.Get(k)
		}
		mu.Lock()
		reqs = append(reqs, s)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []seen {
		mu.Lock()
		defer mu.Unlock()
		return append([]seen(nil), reqs...)
	}
}

func TestApplyAndClear(t *testing.T) {
	srv, reqs := newServer(t, http.StatusOK, `{"result":"success","msg":""}`)
	c := New(Config{Site: srv.URL + "/", BotEmail: "bot@zulip", BotAPIKey: "key"})
	ctx := context.Background()

	require.NoError(t, c.Apply(ctx, service.Target{ChatUserID: "125", PresenceID: "42"}, service.Payload{Text: "lunch", Emoji: "🍔"}))
	require.NoError(t, c.Clear(ctx, service.Target{ChatUserID: "125"}))

	got := reqs()
	require.Len(t, got, 2)
	assert.Equal(t, "/api/v1/users/125/status", got[0].path)
	assert.Equal(t, "🍔 lunch", got[0].form["status_text"])
	assert.Equal(t, "bot@zulip", got[0].user)
	assert.Equal(t, "key", got[0].pass)
	assert.Equal(t, "", got[1].form["status_text"])
	assert.Contains(t, got[1].form, "emoji_name")
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   *errs.CodeError
	}{
		{http.StatusForbidden, `{"result":"error","msg":"Insufficient permission","code":"BAD_REQUEST"}`, errs.ErrForbidden},
		{http.StatusBadRequest, `{"result":"error","msg":"No such user","code":"BAD_REQUEST"}`, errs.ErrNotFound},
		{http.StatusNotFound, `{"result":"error","msg":"Not found"}`, errs.ErrNotFound},
		{http.StatusInternalServerError, `{"result":"error","msg":"boom"}`, errs.ErrPublisherFailure},
	}
	for _, tc := range cases {
		srv, _ := newServer(t, tc.status, tc.body)
		c := New(Config{Site: srv.URL})
		err := c.Apply(context.Background(), service.Target{ChatUserID: "1"}, service.Payload{Text: "x"})
		assert.True(t, errors.Is(err, tc.want), "status %d: %v", tc.status, err)
		assert.True(t, errors.Is(err, errs.ErrPublisherFailure), "status %d", tc.status)
	}
}

func TestFeedbackGoesToMaintainers(t *testing.T) {
	srv, reqs := newServer(t, http.StatusOK, `{"result":"success","msg":"","id":9}`)
	c := New(Config{Site: srv.URL, Maintainers: []string{"8", "ops@zulip"}})

	require.NoError(t, c.SendFeedback(context.Background(), "125", "love it"))
	got := reqs()
	require.Len(t, got, 1)
	assert.Equal(t, "/api/v1/messages", got[0].path)
	assert.Equal(t, "direct", got[0].form["type"])
	assert.Equal(t, `[8,"ops@zulip"]`, got[0].form["to"])
	assert.Contains(t, got[0].form["content"], "love it")

	empty := New(Config{Site: srv.URL})
	assert.True(t, errors.Is(empty.SendFeedback(context.Background(), "1", "x"), errs.ErrNotFound))
}
