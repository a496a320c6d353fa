package terrain

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// CaptureHandler is called when a capture message is received
// Parameters: roverID, decoded capture, error
type CaptureHandler func(roverID string, c *Capture, err error)

// MQTTClient manages the MQTT connection and the capture and command
// subscriptions of every configured rover
type MQTTClient struct {
	client         mqtt.Client
	config         *Config
	captureHandler CaptureHandler
	fullScan       map[string]bool
	isConnected    bool
	mu             sync.RWMutex
}

// InitMQTT creates the MQTT client and connects in the background
// If neither MQTT_BROKER nor the config sets a broker, MQTT is disabled and
// this returns nil
func InitMQTT(config *Config, handler CaptureHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("[MQTT] disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || len(config.Rovers) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no rover configuration provided")
	}

	client := newMQTTClient(nil, config, handler)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "exosim"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// Captures of one rover must be handled in arrival order
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

func newMQTTClient(client mqtt.Client, config *Config, handler CaptureHandler) *MQTTClient {
	c := &MQTTClient{
		client:         client,
		config:         config,
		captureHandler: handler,
		fullScan:       make(map[string]bool),
	}
	if config != nil {
		for i := range config.Rovers {
			c.fullScan[config.Rovers[i].ID] = config.Rovers[i].FullScan()
		}
	}
	return c
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] Connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] Successfully connected to broker")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] Retrying connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay = min(retryDelay*2, maxRetryDelay)
	}
}

// onConnect subscribes to every rover's capture and command topics
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("[MQTT] connected, subscribing to rover topics...")
	c.setConnected(true)

	for _, rover := range c.config.Rovers {
		if rover.Topic == "" {
			log.Printf("[MQTT] Warning: rover %s has no topic configured", rover.ID)
			continue
		}
		c.subscribe(client, rover.Topic, c.createCaptureHandler(rover.ID))

		if cmdTopic, ok := deriveCommandTopic(rover.Topic); ok {
			c.subscribe(client, cmdTopic, c.createCommandHandler(rover.ID))
		}
	}
}

func (c *MQTTClient) subscribe(client mqtt.Client, topic string, handler mqtt.MessageHandler) {
	token := client.Subscribe(topic, 0, handler)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[MQTT] Error subscribing to %s: %v", topic, token.Error())
		return
	}
	log.Printf("[MQTT] Subscribed to %s", topic)
}

// onConnectionLost is called when the MQTT connection is lost
// Auto-reconnect is enabled, so this is typically a transient event
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] reconnecting...")
}

// createCaptureHandler decodes capture messages for one rover. A capture
// only asks for a point cloud when the rover is in full scan mode.
func (c *MQTTClient) createCaptureHandler(roverID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("[MQTT] Received capture for %s (topic: %s, size: %d bytes)",
			roverID, msg.Topic(), len(payload))

		capture, err := DecodeCapture(payload)
		if err != nil {
			log.Printf("[MQTT] Error decoding capture for %s: %v", roverID, err)
			if c.captureHandler != nil {
				c.captureHandler(roverID, nil, err)
			}
			return
		}

		capture.RoverID = roverID
		capture.Full = capture.Full && c.FullScan(roverID)
		if c.captureHandler != nil {
			c.captureHandler(roverID, capture, nil)
		}
	}
}

// deriveCommandTopic converts a capture topic to its command topic.
// Example: "exosim/rover1/capture" -> "exosim/rover1/cmd"
func deriveCommandTopic(captureTopic string) (string, bool) {
	parts := strings.Split(captureTopic, "/")
	if len(parts) < 2 || parts[len(parts)-1] == "cmd" {
		return "", false
	}
	parts[len(parts)-1] = "cmd"
	return strings.Join(parts, "/"), true
}

// commandPayload is the JSON form of a scan mode command
type commandPayload struct {
	Full  *bool `json:"full"`
	State *int  `json:"state"`
}

// parseCommand reads a scan mode command. Accepted forms are
// {"full": true}, {"state": 1}, a bare number and the strings
// "full" and "pose".
func parseCommand(payload []byte) (bool, error) {
	var cmd commandPayload
	if err := json.Unmarshal(payload, &cmd); err == nil {
		switch {
		case cmd.Full != nil:
			return *cmd.Full, nil
		case cmd.State != nil:
			return *cmd.State == 1, nil
		}
		return false, fmt.Errorf("command has neither full nor state")
	}

	raw := strings.Trim(strings.TrimSpace(string(payload)), `"`)
	switch strings.ToLower(raw) {
	case "full":
		return true, nil
	case "pose":
		return false, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n == 1, nil
	}
	return false, fmt.Errorf("unrecognized command %q", raw)
}

// createCommandHandler switches a rover between pose-only and full scans
func (c *MQTTClient) createCommandHandler(roverID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		full, err := parseCommand(msg.Payload())
		if err != nil {
			log.Printf("[MQTT] Ignoring command for %s: %v", roverID, err)
			return
		}
		c.SetFullScan(roverID, full)
		log.Printf("[MQTT] Rover %s full scan: %v", roverID, full)
	}
}

// SetFullScan enables or disables point clouds for a rover
func (c *MQTTClient) SetFullScan(roverID string, full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fullScan[roverID] = full
}

// FullScan reports whether captures of a rover produce point clouds
func (c *MQTTClient) FullScan(roverID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	full, ok := c.fullScan[roverID]
	return !ok || full
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] Disconnecting from broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetRoverByTopic returns the rover ID for a capture topic
func (c *MQTTClient) GetRoverByTopic(topic string) (string, bool) {
	for _, rover := range c.config.Rovers {
		if rover.Topic == topic {
			return rover.ID, true
		}
	}
	return "", false
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}
