package natsx

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"statusbridge/logger"
	"statusbridge/tools/errs"
)

// newMsg 用 NewMsg 构造，header 一并带上
func newMsg(subject string, data []byte, hdr map[string]string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	return msg
}

func (c *NatsxClient) send(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
	if c.js != nil {
		return c.sendJS(ctx, subject, data, hdr)
	}
	return c.sendCore(subject, data, hdr)
}

func (c *NatsxClient) sendCore(subject string, data []byte, hdr map[string]string) error {
	if err := c.nc.PublishMsg(newMsg(subject, data, hdr)); err != nil {
		return errs.WrapMsg(err, "nats publish", "subject", subject)
	}
	return nil
}

func (c *NatsxClient) sendJS(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
	ack, err := c.js.PublishMsg(newMsg(subject, data, hdr), nats.Context(ctx))
	if err != nil {
		return errs.WrapMsg(err, "jetstream publish", "subject", subject)
	}
	logger.Debug("jetstream published", zap.String("stream", ack.Stream), zap.Uint64("seq", ack.Sequence))
	return nil
}
