package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
)

const (
	defaultConnectTimeout = 10 * time.Second
	disconnectQuiesce     = 250 // milliseconds
)

// Handler receives one message. Handlers run on paho's goroutines.
type Handler func(topic string, payload []byte)

// Transport is the broker surface the host needs.
type Transport interface {
	Subscribe(topic string, qos byte, h Handler) error
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
	Close()
}

// Options configures the broker connection.
type Options struct {
	Broker         string // tcp://host:1883
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// Client is a Transport backed by paho.
type Client struct {
	client pahomqtt.Client
}

// Dial connects to the broker. Subscriptions made through the returned
// client are restored by paho after a reconnect.
func Dial(opts Options) (*Client, error) {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	o := pahomqtt.NewClientOptions()
	o.AddBroker(opts.Broker)
	o.SetClientID(opts.ClientID)
	if opts.Username != "" {
		o.SetUsername(opts.Username)
		o.SetPassword(opts.Password)
	}
	o.SetCleanSession(false)
	o.SetResumeSubs(true)
	o.SetAutoReconnect(true)
	o.SetConnectTimeout(timeout)
	o.SetOnConnectHandler(func(_ pahomqtt.Client) {
		log.Info().Str("broker", opts.Broker).Msg("Connected to MQTT broker")
	})
	o.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", opts.Broker).Msg("MQTT connection lost")
	})

	c := pahomqtt.NewClient(o)
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return &Client{client: c}, nil
}

// Subscribe implements Transport.
func (c *Client) Subscribe(topic string, qos byte, h Handler) error {
	token := c.client.Subscribe(topic, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("topic", msg.Topic()).Msg("MQTT handler panic recovered")
			}
		}()
		h(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: %s: timeout", ErrSubscribeFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// Publish implements Transport. It waits for the broker to accept the
// message or for ctx to end.
func (c *Client) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	token := c.client.Publish(topic, qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.client.Disconnect(disconnectQuiesce)
}
