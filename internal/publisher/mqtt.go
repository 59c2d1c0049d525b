package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/shopspring/decimal"
)

const (
	defaultTopicPrefix = "energybot"
	publishTimeout     = 10 * time.Second
	qos                = 1
)

// Options configures the broker connection
type Options struct {
	Broker      string // host:port
	Username    string
	Password    string
	TopicPrefix string
	Provider    string
}

// Reading is the outcome of one run, as published for Home Assistant
type Reading struct {
	Date       string // YYYY-MM-DD of the usage point
	UsageKWh   float64
	RatePerKWh decimal.Decimal // zero when the rate is unknown
	Cost       decimal.Decimal
	Timestamp  time.Time
}

// Message is one retained MQTT publication
type Message struct {
	Topic   string
	Payload []byte
}

// RatePayload is the JSON state of <prefix>/rate
type RatePayload struct {
	PricePerKWh decimal.Decimal `json:"price_per_kwh"`
	Provider    string          `json:"provider"`
	UpdatedAt   string          `json:"updated_at"`
}

// UsagePayload is the JSON state of <prefix>/usage
type UsagePayload struct {
	KWh      float64          `json:"kwh"`
	Date     string           `json:"date"`
	Cost     *decimal.Decimal `json:"cost,omitempty"`
	Provider string           `json:"provider"`
}

// Publisher publishes retained state messages to an MQTT broker
type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	provider    string
	logger      *slog.Logger
}

// New connects to the broker
func New(opts Options, logger *slog.Logger) (*Publisher, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required")
	}

	logger = logger.With(slog.String("module", "publisher"))

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(brokerURL(opts.Broker))
	clientOpts.SetClientID("energybot")
	clientOpts.SetConnectTimeout(10 * time.Second)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}
	clientOpts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", slog.Any("error", err))
	}

	mqttLogger := logger.With(slog.String("component", "paho"))
	mqtt.CRITICAL = newMqttLogger(mqttLogger, slog.LevelError)
	mqtt.ERROR = newMqttLogger(mqttLogger, slog.LevelError)
	mqtt.WARN = newMqttLogger(mqttLogger, slog.LevelWarn)

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("connecting to MQTT broker: timed out after %s", publishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", err)
	}
	logger.Info("MQTT connected", slog.String("broker", opts.Broker))

	return &Publisher{
		client:      client,
		topicPrefix: topicPrefix(opts.TopicPrefix),
		provider:    opts.Provider,
		logger:      logger,
	}, nil
}

// Publish sends the usage state and, when known, the rate state
func (p *Publisher) Publish(r Reading) error {
	msgs, err := BuildMessages(p.topicPrefix, p.provider, r)
	if err != nil {
		return err
	}

	for _, m := range msgs {
		token := p.client.Publish(m.Topic, qos, true, m.Payload)
		if !token.WaitTimeout(publishTimeout) {
			return fmt.Errorf("publishing %s: timed out", m.Topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("publishing %s: %w", m.Topic, err)
		}
		p.logger.Debug("published", slog.String("topic", m.Topic))
	}

	return nil
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// BuildMessages renders the retained state messages for a reading
func BuildMessages(prefix, provider string, r Reading) ([]Message, error) {
	prefix = topicPrefix(prefix)

	usage := UsagePayload{
		KWh:      r.UsageKWh,
		Date:     r.Date,
		Provider: provider,
	}
	if r.RatePerKWh.IsPositive() {
		cost := r.Cost.Round(2)
		usage.Cost = &cost
	}

	body, err := json.Marshal(usage)
	if err != nil {
		return nil, fmt.Errorf("encoding usage payload: %w", err)
	}
	msgs := []Message{{Topic: prefix + "/usage", Payload: body}}

	if r.RatePerKWh.IsPositive() {
		body, err := json.Marshal(RatePayload{
			PricePerKWh: r.RatePerKWh,
			Provider:    provider,
			UpdatedAt:   r.Timestamp.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return nil, fmt.Errorf("encoding rate payload: %w", err)
		}
		msgs = append(msgs, Message{Topic: prefix + "/rate", Payload: body})
	}

	return msgs, nil
}

func topicPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return defaultTopicPrefix
	}
	return prefix
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}
