// Package feed subscribes to pushed telemetry over MQTT. Each variable is
// published on "<prefix>/<variable>" with a JSON payload
// {"ts": <unix seconds>, "value": <number|null>}.
package feed

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Reading is one decoded telemetry sample. Value is NaN for null.
type Reading struct {
	Variable string
	TS       int64
	Value    float64
}

// Handler receives decoded readings on the MQTT client's goroutine.
type Handler func(Reading)

// Topic returns the topic a variable is published on.
func Topic(prefix, variable string) string {
	return strings.TrimRight(prefix, "/") + "/" + variable
}

// ParsePayload decodes one message. The variable is the topic with the
// prefix removed. A missing ts means "now".
func ParsePayload(prefix, topic string, payload []byte, now time.Time) (Reading, error) {
	variable := strings.TrimPrefix(topic, strings.TrimRight(prefix, "/")+"/")
	if variable == "" || variable == topic {
		return Reading{}, fmt.Errorf("topic %q is not under prefix %q", topic, prefix)
	}
	var raw struct {
		TS    int64    `json:"ts"`
		Value *float64 `json:"value"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Reading{}, fmt.Errorf("decoding payload on %s: %w", topic, err)
	}
	r := Reading{Variable: variable, TS: raw.TS, Value: math.NaN()}
	if r.TS == 0 {
		r.TS = now.Unix()
	}
	if raw.Value != nil {
		r.Value = *raw.Value
	}
	return r, nil
}

// NewMessageHandler adapts h to the paho callback. Undecodable messages are
// logged and dropped.
func NewMessageHandler(prefix string, h Handler, log *slog.Logger) mqtt.MessageHandler {
	if log == nil {
		log = slog.Default()
	}
	return func(_ mqtt.Client, msg mqtt.Message) {
		r, err := ParsePayload(prefix, msg.Topic(), msg.Payload(), time.Now())
		if err != nil {
			log.Warn("dropping telemetry message", "topic", msg.Topic(), "err", err)
			return
		}
		h(r)
	}
}

// Subscriber is a connected MQTT client.
type Subscriber struct {
	client mqtt.Client
	prefix string
	log    *slog.Logger
}

// Dial connects to broker (e.g. "tcp://localhost:1883").
func Dial(broker, clientID, prefix string, timeout time.Duration, log *slog.Logger) (*Subscriber, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("mqtt connection lost", "broker", broker, "err", err)
		})
	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out after %s", broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	log.Info("mqtt connected", "broker", broker)
	return &Subscriber{client: c, prefix: prefix, log: log}, nil
}

// Subscribe routes readings of every variable to h.
func (s *Subscriber) Subscribe(variables []string, h Handler) error {
	if len(variables) == 0 {
		return nil
	}
	filters := make(map[string]byte, len(variables))
	for _, v := range variables {
		filters[Topic(s.prefix, v)] = 0
	}
	token := s.client.SubscribeMultiple(filters, NewMessageHandler(s.prefix, h, s.log))
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe: %w", err)
	}
	s.log.Debug("mqtt subscribed", "topics", len(filters))
	return nil
}

// Unsubscribe stops delivery for variables.
func (s *Subscriber) Unsubscribe(variables []string) error {
	if len(variables) == 0 {
		return nil
	}
	topics := make([]string, len(variables))
	for i, v := range variables {
		topics[i] = Topic(s.prefix, v)
	}
	token := s.client.Unsubscribe(topics...)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt unsubscribe: %w", err)
	}
	s.log.Debug("mqtt unsubscribed", "topics", len(topics))
	return nil
}

// Close disconnects, waiting briefly for in-flight work.
func (s *Subscriber) Close() {
	s.client.Disconnect(250)
}
