// Package nats implements the messaging interfaces on top of NATS JetStream.
package nats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alphagov/pay-ledger-sub002/common/messaging"
)

// Client is a core NATS connection.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// Config holds NATS connection settings.
type Config struct {
	URL string

	// Name identifies the connection on the server.
	Name string

	// MaxReconnects is the reconnect budget; -1 retries forever.
	MaxReconnects int

	ReconnectWait time.Duration
	Timeout       time.Duration

	Username string
	Password string
	Token    string
}

// DefaultConfig returns a Config pointing at a local server.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "ledger",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NewClient connects to NATS.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "nats"))

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

// Close closes the connection without draining.
func (c *Client) Close() error {
	c.conn.Close()
	return nil
}

// Drain flushes pending publishes and closes the connection.
func (c *Client) Drain() error {
	return c.conn.Drain()
}

func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// RTT measures a round trip to the server.
func (c *Client) RTT() (time.Duration, error) {
	return c.conn.RTT()
}

func toNatsMsg(subject string, data []byte, o messaging.PublishOptions) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range o.Headers {
		msg.Header.Set(k, v)
	}
	if o.MsgID != "" {
		msg.Header.Set(nats.MsgIdHdr, o.MsgID)
	}
	return msg
}

func headersToMetadata(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	md := make(map[string]string, len(h))
	for k := range h {
		md[k] = h.Get(k)
	}
	return md
}
