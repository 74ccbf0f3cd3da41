// Package mqtt wraps the paho client with the connect, subscribe and
// publish calls used by the message bridge.
package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MessageHandler processes one inbound message. A returned error is logged;
// it does not stop the subscription.
type MessageHandler = func(topic string, payload []byte) error

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Options builds paho client options from cfg.
func Options(cfg Config) *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)
	return opts
}

type Client struct {
	client paho.Client
	logger zerolog.Logger
}

// Connect dials the broker and blocks until the connection is established.
func Connect(cfg Config, logger zerolog.Logger) (*Client, error) {
	logger = logger.With().Str("component", "mqtt").Str("broker", cfg.Broker).Logger()
	opts := Options(cfg)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn().Err(err).Msg("mqtt connection lost")
	})
	opts.SetOnConnectHandler(func(paho.Client) {
		logger.Info().Msg("mqtt connected")
	})

	c := paho.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker: %w", token.Error())
	}
	return NewClient(c, logger), nil
}

// NewClient wraps an existing paho client.
func NewClient(c paho.Client, logger zerolog.Logger) *Client {
	return &Client{client: c, logger: logger}
}

func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	token := c.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Error().Err(err).Str("topic", msg.Topic()).Msg("mqtt message handler failed")
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
	}
	return nil
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (c *Client) Unsubscribe(topics ...string) error {
	token := c.client.Unsubscribe(topics...)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

// Disconnect waits up to 250ms for in-flight work.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}
