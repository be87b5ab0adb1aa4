package natsx

import (
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"statusbridge/tools/errs"
)

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers  []string `mapstructure:"servers"`
	Name     string   `mapstructure:"name"`
	User     string   `mapstructure:"user"`
	Password string   `mapstructure:"password"`
	// Subject is the prefix; events go to "<Subject>.<kind>".
	Subject string `mapstructure:"subject"`
	// JetStream publishes with acks and Nats-Msg-Id dedupe instead of
	// fire-and-forget core NATS.
	JetStream       bool          `mapstructure:"jetstream"`
	ReconnectWait   time.Duration `mapstructure:"reconnect_wait"`
	Timeout         time.Duration `mapstructure:"timeout"`
	PublishAsyncMax int           `mapstructure:"publish_async_max"`
	Retries         int           `mapstructure:"retries"`
}

func (c *NatsxConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "statusbridge"
	}
	if c.Subject == "" {
		c.Subject = "statusbridge.status"
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
	if c.PublishAsyncMax == 0 {
		c.PublishAsyncMax = 4096
	}
}

// NatsxClient 统一客户端
type NatsxClient struct {
	cfg NatsxConfig
	nc  *nats.Conn
	js  nats.JetStreamContext
}

// NewNatsxClient 连接 NATS
func NewNatsxClient(cfg NatsxConfig) (*NatsxClient, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	cfg.setDefaults()
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errs.WrapMsg(err, "nats connect", "servers", strings.Join(cfg.Servers, ","))
	}
	c := &NatsxClient{cfg: cfg, nc: nc}
	if cfg.JetStream {
		if err := c.ensureJS(); err != nil {
			nc.Close()
			return nil, errs.WrapMsg(err, "init jetstream")
		}
	}
	return c, nil
}

// Close 优雅关闭
func (c *NatsxClient) Close() error {
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

// ensureJS 初始化 JetStream 上下文
func (c *NatsxClient) ensureJS() error {
	if c.js != nil {
		return nil
	}
	js, err := c.nc.JetStream(nats.PublishAsyncMaxPending(c.cfg.PublishAsyncMax))
	if err != nil {
		return err
	}
	c.js = js
	return nil
}
