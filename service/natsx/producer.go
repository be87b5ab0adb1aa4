package natsx

import (
	"context"
	"encoding/json"

	"statusbridge/service/events"
	"statusbridge/tools/errs"
)

const (
	HeaderMsgID = "Nats-Msg-Id"
	HeaderKind  = "Status-Kind"
	HeaderUser  = "Chat-User-Id"
)

// EventProducer publishes status events as JSON, one subject per kind.
type EventProducer struct {
	c      *NatsxClient
	prefix string
	retry  NatsxSyncPublisher
}

func NewEventProducer(c *NatsxClient) *EventProducer {
	return &EventProducer{
		c:      c,
		prefix: c.cfg.Subject,
		retry:  NatsxSyncPublisher{Retries: c.cfg.Retries, Backoff: c.cfg.ReconnectWait},
	}
}

func (p *EventProducer) Name() string { return "nats" }

func (p *EventProducer) Publish(ctx context.Context, ev events.StatusEvent) error {
	subject, data, hdr, err := encodeEvent(p.prefix, ev)
	if err != nil {
		return err
	}
	return p.retry.Do(ctx, func(ctx context.Context) error {
		return p.c.send(ctx, subject, data, hdr)
	})
}

func (p *EventProducer) Close() error { return p.c.Close() }

// encodeEvent 事件 ID 作为 Nats-Msg-Id，JetStream 据此去重
func encodeEvent(prefix string, ev events.StatusEvent) (string, []byte, map[string]string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", nil, nil, errs.WrapMsg(err, "marshal status event", "id", ev.ID)
	}
	hdr := map[string]string{
		HeaderMsgID: ev.ID,
		HeaderKind:  string(ev.Kind),
		HeaderUser:  ev.ChatUserID,
	}
	return prefix + "." + string(ev.Kind), data, hdr, nil
}
