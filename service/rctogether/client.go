// Package rctogether publishes statuses to desks in RC Together. The API
// only lets a bot edit a desk it stands next to, so every update first
// walks the bot to a free neighbouring cell.
package rctogether

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"statusbridge/module/status/service"
	"statusbridge/tools/clock"
	"statusbridge/tools/errs"
)

const Platform = "rctogether"

// MaxExpiry is the furthest out RC Together accepts a desk expiry.
const MaxExpiry = 24 * time.Hour

type Config struct {
	Site         string        `mapstructure:"site"`
	AppID        string        `mapstructure:"app_id"`
	AppSecret    string        `mapstructure:"app_secret"`
	BotID        string        `mapstructure:"bot_id"`
	DeskCacheTTL time.Duration `mapstructure:"desk_cache_ttl"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type Client struct {
	rc    *resty.Client
	botID string
	clock clock.Clock
	log   *zap.Logger

	ttl       time.Duration
	group     singleflight.Group
	mu        sync.RWMutex
	desks     map[int64]Desk
	fetchedAt time.Time

	// moveMu keeps one bot walk + desk patch in flight at a time; the bot
	// can only stand in one place.
	moveMu sync.Mutex
}

func New(cfg Config, c clock.Clock, log *zap.Logger) *Client {
	if c == nil {
		c = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DeskCacheTTL <= 0 {
		cfg.DeskCacheTTL = time.Minute
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Site, "/")).
		SetBasicAuth(cfg.AppID, cfg.AppSecret).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{rc: rc, botID: cfg.BotID, clock: c, log: log.Named(Platform), ttl: cfg.DeskCacheTTL}
}

func (c *Client) Platform() string { return Platform }

// Apply writes the status onto the user's desk. RC Together requires an
// expiry with every status, so a status without one gets the maximum.
func (c *Client) Apply(ctx context.Context, target service.Target, p service.Payload) error {
	exp := p.ExpiresAt
	if exp == nil {
		t := c.clock.Now().Add(MaxExpiry).UTC()
		exp = &t
	}
	text, emoji := p.Text, p.Emoji
	fields := deskFields{ExpiresAt: exp}
	if text != "" {
		fields.Status = &text
	}
	if emoji != "" {
		fields.Emoji = &emoji
	}
	return c.updateDesk(ctx, target.PresenceID, fields)
}

func (c *Client) Clear(ctx context.Context, target service.Target) error {
	return c.updateDesk(ctx, target.PresenceID, deskFields{})
}

// Desks returns every desk, from cache when it is younger than the TTL.
func (c *Client) Desks(ctx context.Context) (map[int64]Desk, error) {
	c.mu.RLock()
	if c.desks != nil && c.clock.Now().Sub(c.fetchedAt) < c.ttl {
		d := c.desks
		c.mu.RUnlock()
		return d, nil
	}
	c.mu.RUnlock()
	return c.refreshDesks(ctx)
}

func (c *Client) refreshDesks(ctx context.Context) (map[int64]Desk, error) {
	v, err, _ := c.group.Do("desks", func() (any, error) {
		var list []Desk
		resp, err := c.rc.R().SetContext(ctx).SetResult(&list).Get("/api/desks")
		if err != nil {
			return nil, errs.ErrPublisherFailure.WrapMsg(Platform, "op", "get desks", "cause", err.Error())
		}
		if err := statusError(resp, "get desks"); err != nil {
			return nil, err
		}
		desks := make(map[int64]Desk, len(list))
		for _, d := range list {
			desks[d.ID] = d
		}
		c.mu.Lock()
		c.desks = desks
		c.fetchedAt = c.clock.Now()
		c.mu.Unlock()
		c.log.Debug("desks refreshed", zap.Int("count", len(desks)))
		return desks, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[int64]Desk), nil
}

// Desk finds one desk, refreshing the cache once if it isn't there.
func (c *Client) Desk(ctx context.Context, id int64) (Desk, error) {
	desks, err := c.Desks(ctx)
	if err != nil {
		return Desk{}, err
	}
	if d, ok := desks[id]; ok {
		return d, nil
	}
	if desks, err = c.refreshDesks(ctx); err != nil {
		return Desk{}, err
	}
	if d, ok := desks[id]; ok {
		return d, nil
	}
	return Desk{}, errs.ErrNotFound.WrapMsg(Platform, "desk", id)
}

func (c *Client) updateDesk(ctx context.Context, presenceID string, fields deskFields) error {
	id, err := strconv.ParseInt(presenceID, 10, 64)
	if err != nil {
		return errs.ErrNotFound.WrapMsg(Platform, "presence_id", presenceID)
	}
	desk, err := c.Desk(ctx, id)
	if err != nil {
		return err
	}

	c.moveMu.Lock()
	defer c.moveMu.Unlock()

	body := updateDeskRequest{BotID: c.botID, Desk: fields}
	for _, pos := range surroundingPositions(desk.Pos) {
		if err := c.moveBot(ctx, pos); err != nil {
			if ctx.Err() != nil {
				return errs.ErrPublisherFailure.WrapMsg(Platform, "op", "move bot", "cause", ctx.Err().Error())
			}
			if errors.Is(err, errs.ErrForbidden) {
				return err
			}
			c.log.Debug("cell unavailable", zap.Int("x", pos.X), zap.Int("y", pos.Y), zap.Error(err))
			continue
		}
		var updated Desk
		resp, err := c.rc.R().
			SetContext(ctx).
			SetPathParam("id", strconv.FormatInt(id, 10)).
			SetBody(body).
			SetResult(&updated).
			Patch("/api/desks/{id}")
		if err != nil {
			return errs.ErrPublisherFailure.WrapMsg(Platform, "op", "update desk", "cause", err.Error())
		}
		if err := statusError(resp, "update desk"); err != nil {
			return err
		}
		c.remember(updated)
		return nil
	}
	return errs.ErrPublisherFailure.WrapMsg(Platform, "op", "update desk", "cause", "no free cell next to desk", "desk", id)
}

func (c *Client) moveBot(ctx context.Context, pos Position) error {
	x, y := pos.X, pos.Y
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("id", c.botID).
		SetBody(updateBotRequest{Bot: botFields{X: &x, Y: &y}}).
		Patch("/api/bots/{id}")
	if err != nil {
		return err
	}
	return statusError(resp, "move bot")
}

// remember swaps in a copy of the cache with d updated; maps handed out
// by Desks are never written.
func (c *Client) remember(d Desk) {
	if d.ID == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.desks == nil {
		return
	}
	next := make(map[int64]Desk, len(c.desks))
	for k, v := range c.desks {
		next[k] = v
	}
	next[d.ID] = d
	c.desks = next
}

func statusError(resp *resty.Response, op string) error {
	if !resp.IsError() {
		return nil
	}
	switch resp.StatusCode() {
	case http.StatusForbidden, http.StatusUnauthorized:
		return errs.ErrForbidden.WrapMsg(Platform, "op", op)
	case http.StatusNotFound:
		return errs.ErrNotFound.WrapMsg(Platform, "op", op)
	case http.StatusUnprocessableEntity:
		return errs.ErrPublisherFailure.WrapMsg(Platform, "op", op, "cause", "request rejected", "body", resp.String())
	}
	return errs.ErrPublisherFailure.WrapMsg(Platform, "op", op, "status", resp.StatusCode())
}
