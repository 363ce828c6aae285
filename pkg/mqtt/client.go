// Package mqtt 封装 autopaho 连接管理器，提供带自动重连与重订阅的客户端。
// 上游断线重连策略由 autopaho 负责，本层不做额外排序或缓冲。
package mqtt

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap"
)

// MessageHandler 收到消息时的回调
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client MQTT 客户端接口，屏蔽底层 paho 细节
type Client interface {
	// Start 启动连接管理器（非阻塞），用 AwaitConnection 等待首次连接
	Start(ctx context.Context) error
	// Disconnect 断开连接
	Disconnect(ctx context.Context)
	// Publish 发布消息到指定主题
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error
	// Subscribe 注册主题过滤器的处理函数；断线重连后自动重订阅
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error
	// AwaitConnection 阻塞直到连接建立
	AwaitConnection(ctx context.Context) error
}

// Config 客户端配置
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	KeepAlive      uint16
	ConnectTimeout time.Duration
}

type pahoClient struct {
	logger *zap.Logger
	cfg    Config
	cm     *autopaho.ConnectionManager

	// subscriptions 保存已注册的处理函数，key 为主题过滤器
	subscriptions sync.Map
}

type subscriptionEntry struct {
	topic   string
	qos     int
	handler MessageHandler
}

// NewClient 创建客户端
func NewClient(logger *zap.Logger, cfg Config) (Client, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("mqtt broker url is required")
	}
	if _, err := url.Parse(cfg.BrokerURL); err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &pahoClient{logger: logger, cfg: cfg}, nil
}

func (c *pahoClient) Start(ctx context.Context) error {
	brokerURL, _ := url.Parse(c.cfg.BrokerURL)

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:       []*url.URL{brokerURL},
		KeepAlive:        c.cfg.KeepAlive,
		ReconnectBackoff: autopaho.NewConstantBackoff(3 * time.Second),
		ConnectTimeout:   c.cfg.ConnectTimeout,
		ConnectUsername:  c.cfg.Username,
		ConnectPassword:  []byte(c.cfg.Password),
		OnConnectionUp:   c.onConnectionUp,
		OnConnectError:   c.onConnectError,
		ClientConfig: paho.ClientConfig{
			ClientID: c.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.route,
			},
			OnClientError: func(err error) {
				c.logger.Error("MQTT client error", zap.Error(err))
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				c.logger.Warn("MQTT server requested disconnect")
			},
		},
	}

	c.logger.Info("Starting MQTT client",
		zap.String("broker", c.cfg.BrokerURL),
		zap.String("client_id", c.cfg.ClientID))

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("create mqtt connection: %w", err)
	}
	c.cm = cm
	return nil
}

func (c *pahoClient) Disconnect(ctx context.Context) {
	if c.cm != nil {
		_ = c.cm.Disconnect(ctx)
		c.logger.Info("MQTT client disconnected")
	}
}

func (c *pahoClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	if c.cm == nil {
		return fmt.Errorf("mqtt client not started")
	}
	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (c *pahoClient) Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error {
	if c.cm == nil {
		return fmt.Errorf("mqtt client not started")
	}

	c.subscriptions.Store(topic, subscriptionEntry{topic: topic, qos: qos, handler: handler})

	_, err := c.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topic, QoS: byte(qos)},
		},
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	c.logger.Info("Subscribed to topic", zap.String("topic", topic))
	return nil
}

func (c *pahoClient) AwaitConnection(ctx context.Context) error {
	if c.cm == nil {
		return fmt.Errorf("mqtt client not started")
	}
	return c.cm.AwaitConnection(ctx)
}

// onConnectionUp 连接建立（或重连）后重新订阅全部主题
func (c *pahoClient) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	c.logger.Info("MQTT connection established")

	c.subscriptions.Range(func(_, value any) bool {
		entry := value.(subscriptionEntry)
		if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{
				{Topic: entry.topic, QoS: byte(entry.qos)},
			},
		}); err != nil {
			c.logger.Error("Failed to re-subscribe",
				zap.String("topic", entry.topic), zap.Error(err))
		}
		return true
	})
}

func (c *pahoClient) onConnectError(err error) {
	c.logger.Error("MQTT connect failed, retrying", zap.Error(err))
}

// route 将收到的消息分发给匹配的处理函数。
// 处理函数在独立协程中执行，避免慢速处理阻塞读取循环。
func (c *pahoClient) route(p paho.PublishReceived) (bool, error) {
	matched := false
	c.subscriptions.Range(func(_, value any) bool {
		entry := value.(subscriptionEntry)
		if topicMatch(entry.topic, p.Packet.Topic) {
			matched = true
			go entry.handler(context.Background(), p.Packet.Topic, p.Packet.Payload)
		}
		return true
	})

	if !matched {
		c.logger.Debug("Message on unhandled topic", zap.String("topic", p.Packet.Topic))
	}
	return true, nil
}

// topicMatch 判断主题是否匹配过滤器（支持 + 与 # 通配符）
func topicMatch(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if !strings.Contains(filter, "+") && !strings.Contains(filter, "#") {
		return false
	}

	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	for i, part := range filterParts {
		if part == "#" {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if part != "+" && part != topicParts[i] {
			return false
		}
	}
	return len(filterParts) == len(topicParts)
}
