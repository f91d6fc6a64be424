// Package mqtt wraps the paho client with the publish-only surface the
// bridge needs: single and batched publishes with retain semantics.
package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Config holds MQTT connection settings.
type Config struct {
	Host     string // broker hostname (required)
	Port     int    // broker port
	ClientID string // unique client id
	Username string // optional
	Password string // optional
	UseTLS   bool   // connect with ssl:// instead of tcp://
}

// Message is one publish request.
type Message struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// Client wraps the paho MQTT client.
type Client struct {
	client paho.Client
	config Config
	log    *logrus.Logger
}

// New creates an MQTT client. The connection is established by Connect.
func New(cfg Config, log *logrus.Logger) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("MQTT broker host is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("hdsentinel-mqtt-%d", time.Now().Unix())
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	broker := fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)

	c := &Client{config: cfg, log: log}

	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{})
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.WithError(err).Warn("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(paho.Client) {
		c.log.WithField("broker", broker).Info("connected to MQTT broker")
	})
	opts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		c.log.Debug("reconnecting to MQTT broker")
	})

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)

	c.client = paho.NewClient(opts)
	return c, nil
}

// Connect establishes the broker connection.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Disconnect closes the broker connection, allowing a short grace
// period for in-flight messages.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
	c.log.Debug("disconnected from MQTT broker")
}

// PublishSingle publishes one message. Retained messages use QoS 1 so
// discovery and availability survive broker restarts; plain telemetry
// goes out at QoS 0.
func (c *Client) PublishSingle(topic string, payload []byte, retain bool) error {
	var qos byte
	if retain {
		qos = 1
	}
	token := c.client.Publish(topic, qos, retain, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	return nil
}

// PublishMultiple publishes a batch, attempting every message even when
// some fail. The combined error reports all failures.
func (c *Client) PublishMultiple(msgs []Message) error {
	var errs []error
	for _, msg := range msgs {
		if err := c.PublishSingle(msg.Topic, msg.Payload, msg.Retain); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}
