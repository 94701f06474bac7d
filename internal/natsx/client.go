package natsx

import (
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/senutpal/devradar/internal/config"
)

// Subscription 变更订阅句柄，允许按频道拆除监听
type Subscription interface {
	Unsubscribe() error
}

type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewClient(cfg config.NATSConfig, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	return &Client{conn: conn, logger: logger}, nil
}

func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe 订阅主题，返回订阅句柄供调用方拆除
func (c *Client) Subscribe(subject string, handler func(data []byte)) (Subscription, error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Connected 连接是否可用（健康检查用）
func (c *Client) Connected() bool {
	return c.conn.Status() == nats.CONNECTED
}

func (c *Client) Close() {
	c.conn.Close()
}
