// Package mqtt maintains the broker subscription feeding the ingestion
// pipeline. Reconnects are handled here; the pipeline only ever sees
// delivered messages.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wattscope/wattscope/internal/config"
)

// MessageHandler receives every message delivered on the subscribed
// topic, with the server receive time attached.
type MessageHandler func(topic string, payload []byte, receivedAt time.Time)

// EventFunc observes connection lifecycle events ("connected",
// "connection lost"). It may be nil.
type EventFunc func(event string)

const (
	connectTimeout       = 30 * time.Second
	maxReconnectInterval = 60 * time.Second
	disconnectQuiesceMs  = 250
)

// Client wraps a paho MQTT connection subscribed to one topic filter.
type Client struct {
	client paho.Client
	topic  string
}

// NewClient builds a client from config. password is the resolved
// broker password (may be empty). The handler runs on paho's delivery
// goroutines; it must be safe for concurrent use.
func NewClient(cfg config.MQTTConfig, password string, handler MessageHandler, events EventFunc) (*Client, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "wattscope-" + uuid.NewString()[:8]
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetMaxReconnectInterval(maxReconnectInterval).
		SetOrderMatters(false)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(password)
	}

	if cfg.TLSEnabled {
		tlsCfg, err := tlsConfig(cfg.TLSCAFile)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	topic := cfg.Topic
	deliver := func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload(), time.Now())
	}

	// Re-subscribe on every (re)connect; subscriptions do not survive a
	// clean-session reconnect.
	opts.SetOnConnectHandler(func(c paho.Client) {
		log.Info().Str("broker", cfg.BrokerURL()).Str("topic", topic).Msg("mqtt connected, subscribing")
		if events != nil {
			events("connected")
		}
		if token := c.Subscribe(topic, 0, deliver); token.Wait() && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", topic).Msg("mqtt subscribe failed")
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost, reconnecting")
		if events != nil {
			events("connection lost")
		}
	})

	return &Client{client: paho.NewClient(opts), topic: topic}, nil
}

// Connect establishes the initial connection, waiting up to the
// connect timeout. Later reconnects happen in the background.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt: connect timed out after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect: %w", err)
	}
	return nil
}

// Disconnect unsubscribes and closes the connection.
func (c *Client) Disconnect() {
	if c.client.IsConnected() {
		if token := c.client.Unsubscribe(c.topic); token.Wait() && token.Error() != nil {
			log.Warn().Err(token.Error()).Msg("mqtt unsubscribe failed")
		}
		c.client.Disconnect(disconnectQuiesceMs)
	}
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

func tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("mqtt: reading CA file %q: %w", caFile, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("mqtt: no certificates parsed from %q", caFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}
