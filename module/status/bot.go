// Package status wires the chat-facing side of the bridge: it turns an
// incoming message into a command, runs it through the lifecycle manager
// and writes the reply.
package status

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"statusbridge/module/status/model"
	"statusbridge/module/status/parse"
	"statusbridge/module/status/service"
	"statusbridge/tools/errs"
)

const HelpText = "**How to use Status Bot**\n" +
	"* `register {desk id}` Link your RC Together desk, e.g. `register 42`\n" +
	"* `status \"{text}\" {emoji} {expiry}` Set your status, e.g. `status \"lunch\" 🍔 in 30m`\n" +
	"* `status {emoji} {text} {expiry}` Same thing without quotes, e.g. `status 🦀 Rewriting Status Bot until 5pm`\n" +
	"  * `{emoji}` (optional) a unicode emoji; custom emoji like `:sadparrot:` are not supported\n" +
	"  * `{text}` may not contain `<` or `>`\n" +
	"  * `{expiry}` (optional) `in 30m`, `for 2 hours`, `until 3pm` or Zulip's [<time> picker](https://zulip.com/help/global-times)\n" +
	"* `show` Display your current status\n" +
	"* `clear` Clear your status\n" +
	"* `feedback {text}` Send feedback to the Status Bot maintainers\n" +
	"* `help` Print this message"

const emptyStatus = "Your status is empty"

// FeedbackSender delivers feedback to whoever maintains the bot.
type FeedbackSender interface {
	SendFeedback(ctx context.Context, fromUserID, text string) error
}

type Bot struct {
	m        *service.Manager
	feedback FeedbackSender
	log      *zap.Logger
}

func NewBot(m *service.Manager, feedback FeedbackSender, log *zap.Logger) *Bot {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bot{m: m, feedback: feedback, log: log.Named("bot")}
}

// Respond runs the command in text for the user and returns the reply.
func (b *Bot) Respond(ctx context.Context, chatUserID, text string) string {
	cmd, err := parse.Parse(text)
	if err != nil {
		return b.failure(cmd.Kind, err)
	}

	switch cmd.Kind {
	case parse.Register:
		id, err := b.m.HandleRegister(ctx, chatUserID, cmd.Arg)
		if err != nil {
			return b.failure(cmd.Kind, err)
		}
		return fmt.Sprintf("You're registered! Status Bot will update RC Together desk **%s** for you.", id.PresenceID)

	case parse.Status:
		res, err := b.m.HandleSetStatus(ctx, chatUserID, cmd.Status)
		if err != nil {
			return b.failure(cmd.Kind, err)
		}
		reply := "Status set: " + b.describe(res.Record)
		return reply + degraded("saved", res.Failures)

	case parse.Clear:
		res, err := b.m.HandleClearStatus(ctx, chatUserID)
		if err != nil {
			return b.failure(cmd.Kind, err)
		}
		if res.WasEmpty {
			return emptyStatus
		}
		return "Status cleared." + degraded("cleared", res.Failures)

	case parse.Show:
		rec, ok, err := b.m.HandleShow(ctx, chatUserID)
		if err != nil {
			return b.failure(cmd.Kind, err)
		}
		if !ok {
			return emptyStatus
		}
		return "Your status: " + b.describe(rec)

	case parse.Feedback:
		if strings.TrimSpace(cmd.Arg) == "" || b.feedback == nil {
			return HelpText
		}
		if err := b.feedback.SendFeedback(ctx, chatUserID, cmd.Arg); err != nil {
			b.log.Warn("feedback not delivered", zap.String("user", chatUserID), zap.Error(err))
			return "Sorry, your feedback could not be delivered. Please try again later."
		}
		return "Thanks! Your feedback was sent to the Status Bot maintainers."
	}
	return HelpText
}

func (b *Bot) describe(rec model.StatusRecord) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(rec.Emoji + " " + rec.Text))
	if rec.ExpiresAt != nil {
		at := rec.ExpiresAt.In(b.m.Location())
		sb.WriteString(" (until ")
		sb.WriteString(at.Format("Mon 15:04 MST"))
		sb.WriteString(")")
	}
	return sb.String()
}

// degraded explains which platforms missed an update that was stored.
func degraded(verb string, failures []service.PublishFailure) string {
	if len(failures) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, f := range failures {
		sb.WriteString(fmt.Sprintf("\nStatus %s, but the %s update failed: %s.", verb, platformName(f.Platform), publishReason(f.Err)))
	}
	return sb.String()
}

func platformName(p string) string {
	switch p {
	case "zulip":
		return "Zulip"
	case "rctogether":
		return "RC Together"
	}
	return p
}

func publishReason(err error) string {
	switch {
	case errors.Is(err, errs.ErrForbidden):
		return "Status Bot isn't allowed to change it (is the desk yours?)"
	case errors.Is(err, errs.ErrNotFound):
		return "your desk or account could not be found"
	}
	return "the service didn't answer properly"
}

func (b *Bot) failure(kind parse.Kind, err error) string {
	ce, ok := errs.AsCode(err)
	if !ok {
		b.log.Error("command failed", zap.Stringer("command", kind), zap.Error(err))
		return "Something went wrong. Please try again in a moment."
	}
	switch ce.Code {
	case errs.UnregisteredUserCode:
		return "You need to register first: `register {desk id}`"
	case errs.InvalidIdentityCode:
		return "That doesn't look like an RC Together desk id: " + detailReason(ce) + ". Try e.g. `register 42`."
	case errs.InvalidTimeSpecCode:
		return "I couldn't use that expiry: " + detailReason(ce) + ". Try `in 30m`, `until 3pm` or Zulip's time picker, at most " + b.maxExpiryText() + " ahead."
	case errs.InvalidStatusCode:
		return "I couldn't set that status: " + detailReason(ce) + "."
	case errs.StoreUnavailableCode:
		b.log.Error("store unavailable", zap.Stringer("command", kind), zap.Error(err))
		return "Status Bot couldn't save that right now. Please try again in a moment."
	}
	b.log.Error("command failed", zap.Stringer("command", kind), zap.Error(err))
	return "Something went wrong. Please try again in a moment."
}

func (b *Bot) maxExpiryText() string {
	d := b.m.MaxExpiry()
	if d <= 0 {
		return "any time"
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return d.String()
}

// detailReason is the message part of a code error's detail, without the
// key=value context.
func detailReason(ce *errs.CodeError) string {
	reason, _, _ := strings.Cut(ce.Detail, ", ")
	if reason == "" {
		return strings.ToLower(ce.Msg)
	}
	return reason
}
