package mqttbridge

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/arloliu/go-xsig/logger"
)

// Client is the subset of an MQTT client used by the bridge.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topic string) error
}

// MessageHandler handles a message received on a subscribed topic.
type MessageHandler func(topic string, payload []byte)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultOperationTimeout  = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
)

var (
	// ErrConnectionFailed is returned when the broker can't be reached.
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	// ErrTimeout is returned when the broker doesn't acknowledge an operation in time.
	ErrTimeout = errors.New("mqtt: operation timeout")
)

// PahoConfig describes the broker connection of a PahoClient.
type PahoConfig struct {
	Host     string
	Port     int
	TLS      bool
	ClientID string
	Username string
	Password string

	// StatusTopic, when set, is registered as the last will with an "offline" payload.
	StatusTopic string

	ReconnectMaxDelay time.Duration
}

// PahoClient implements Client with eclipse/paho.mqtt.golang.
type PahoClient struct {
	client pahomqtt.Client
	logger logger.Logger
}

var _ Client = (*PahoClient)(nil)

// NewPahoClient connects to the broker. The client reconnects automatically afterwards.
func NewPahoClient(cfg PahoConfig, l logger.Logger) (*PahoClient, error) {
	if l == nil {
		l = logger.GetLogger()
	}

	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	if cfg.ReconnectMaxDelay > 0 {
		opts.SetMaxReconnectInterval(cfg.ReconnectMaxDelay)
	}
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.StatusTopic != "" {
		opts.SetWill(cfg.StatusTopic, StatusOffline, 1, true)
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		l.Info("mqtt connected", "host", cfg.Host, "port", cfg.Port)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		l.Warn("mqtt connection lost", "error", err)
	})

	c := &PahoClient{client: pahomqtt.NewClient(opts), logger: l}

	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return c, nil
}

func (c *PahoClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return wait(c.client.Publish(topic, qos, retained, payload), "publish "+topic)
}

func (c *PahoClient) Subscribe(topic string, qos byte, handler MessageHandler) error {
	token := c.client.Subscribe(topic, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("mqtt handler panicked", "topic", msg.Topic(), "panic", r)
			}
		}()

		handler(msg.Topic(), msg.Payload())
	})

	return wait(token, "subscribe "+topic)
}

func (c *PahoClient) Unsubscribe(topic string) error {
	return wait(c.client.Unsubscribe(topic), "unsubscribe "+topic)
}

// Close disconnects from the broker after a quiesce period for pending operations.
func (c *PahoClient) Close() {
	c.client.Disconnect(defaultDisconnectQuiesce)
}

func wait(token pahomqtt.Token, op string) error {
	if !token.WaitTimeout(defaultOperationTimeout) {
		return fmt.Errorf("%w: %s", ErrTimeout, op)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
