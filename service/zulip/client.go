// Package zulip talks to the Zulip REST API as the status bot: it sets
// and clears user statuses and sends direct messages.
package zulip

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"statusbridge/module/status/service"
	"statusbridge/tools/errs"
)

const Platform = "zulip"

type Config struct {
	Site      string `mapstructure:"site"`
	BotEmail  string `mapstructure:"bot_email"`
	BotAPIKey string `mapstructure:"bot_api_key"`
	// BotAPIToken authenticates outgoing webhooks; the client doesn't use it.
	BotAPIToken string        `mapstructure:"bot_api_token"`
	Maintainers []string      `mapstructure:"maintainers"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type Client struct {
	rc          *resty.Client
	maintainers []string
}

// apiResult is the envelope of every Zulip API response.
type apiResult struct {
	Result string `json:"result"`
	Msg    string `json:"msg"`
	Code   string `json:"code"`
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Site, "/")).
		SetBasicAuth(cfg.BotEmail, cfg.BotAPIKey).
		SetTimeout(timeout).
		SetHeader("User-Agent", "statusbridge")
	return &Client{rc: rc, maintainers: cfg.Maintainers}
}

func (c *Client) Platform() string { return Platform }

// Apply sets the user's Zulip status. The emoji goes in front of the text:
// Zulip's emoji fields want an emoji name, and a unicode emoji in the text
// renders the same.
func (c *Client) Apply(ctx context.Context, target service.Target, p service.Payload) error {
	text := p.Text
	if p.Emoji != "" {
		text = strings.TrimSpace(p.Emoji + " " + text)
	}
	return c.updateStatus(ctx, target.ChatUserID, text)
}

func (c *Client) Clear(ctx context.Context, target service.Target) error {
	return c.updateStatus(ctx, target.ChatUserID, "")
}

func (c *Client) updateStatus(ctx context.Context, userID, text string) error {
	if userID == "" {
		return errs.ErrNotFound.WrapMsg("no zulip user id")
	}
	var failure apiResult
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("id", userID).
		SetFormData(map[string]string{
			"status_text": text,
			"emoji_name":  "",
		}).
		SetError(&failure).
		Post("/api/v1/users/{id}/status")
	if err != nil {
		return errs.ErrPublisherFailure.WrapMsg(Platform, "op", "update status", "cause", err.Error())
	}
	return checkResponse(resp, failure, "update status")
}

// SendDirectMessage sends content to the given users, identified by email
// or numeric user id.
func (c *Client) SendDirectMessage(ctx context.Context, to []string, content string) error {
	recipients := make([]any, 0, len(to))
	for _, r := range to {
		if id, err := strconv.ParseInt(r, 10, 64); err == nil {
			recipients = append(recipients, id)
		} else {
			recipients = append(recipients, r)
		}
	}
	toJSON, err := json.Marshal(recipients)
	if err != nil {
		return errs.Wrap(err)
	}

	var failure apiResult
	resp, err := c.rc.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"type":    "direct",
			"to":      string(toJSON),
			"content": content,
		}).
		SetError(&failure).
		Post("/api/v1/messages")
	if err != nil {
		return errs.ErrPublisherFailure.WrapMsg(Platform, "op", "send message", "cause", err.Error())
	}
	return checkResponse(resp, failure, "send message")
}

// SendFeedback forwards a user's feedback to the maintainers.
func (c *Client) SendFeedback(ctx context.Context, fromUserID, text string) error {
	if len(c.maintainers) == 0 {
		return errs.ErrNotFound.WrapMsg("no maintainers configured")
	}
	content := "**Status Bot feedback** from user " + fromUserID + ":\n\n" + text
	return c.SendDirectMessage(ctx, c.maintainers, content)
}

func checkResponse(resp *resty.Response, failure apiResult, op string) error {
	if !resp.IsError() {
		return nil
	}
	switch {
	case resp.StatusCode() == http.StatusForbidden || resp.StatusCode() == http.StatusUnauthorized:
		return errs.ErrForbidden.WrapMsg(Platform, "op", op, "msg", failure.Msg)
	case resp.StatusCode() == http.StatusNotFound,
		resp.StatusCode() == http.StatusBadRequest && strings.Contains(strings.ToLower(failure.Msg), "no such user"):
		return errs.ErrNotFound.WrapMsg(Platform, "op", op, "msg", failure.Msg)
	}
	return errs.ErrPublisherFailure.WrapMsg(Platform, "op", op, "status", resp.StatusCode(), "msg", failure.Msg)
}
