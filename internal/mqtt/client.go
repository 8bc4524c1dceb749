package mqtt

import (
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client owns the broker connection. Subscriber and Publisher share its
// native client.
type Client struct {
	client mqtt.Client
	config ClientConfig
}

// ClientConfig holds MQTT client configuration
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// OnConnect runs after every (re)connect; the subscriber uses it to
	// restore its subscriptions.
	OnConnect func()

	ConnectTimeout time.Duration // zero means 10s
}

func (c ClientConfig) connectTimeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return 10 * time.Second
	}
	return c.ConnectTimeout
}

// NewClient connects to the broker
func NewClient(config ClientConfig) (*Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetDefaultPublishHandler(unroutedHandler)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Println("MQTT: Connection established")
		if config.OnConnect != nil {
			config.OnConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("MQTT: Connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, o *mqtt.ClientOptions) {
		log.Printf("MQTT: Reconnecting to %v", o.Servers)
	})
	// handlers only parse and hand off to a channel
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetWriteTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(config.connectTimeout()) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", config.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	log.Printf("MQTT Client: Connected to %s as %s", config.Broker, config.ClientID)

	return &Client{
		client: client,
		config: config,
	}, nil
}

// Native returns the underlying paho client
func (c *Client) Native() mqtt.Client {
	return c.client
}

// IsConnected reports whether the broker connection is up
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close disconnects, giving in-flight messages 250ms to drain
func (c *Client) Close() {
	c.client.Disconnect(250)
	log.Println("MQTT Client: Disconnected")
}

var unroutedHandler mqtt.MessageHandler = func(client mqtt.Client, msg mqtt.Message) {
	log.Printf("MQTT: Unrouted message on topic: %s", msg.Topic())
}
