package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// TransportMQTT labels messages received from the broker.
const TransportMQTT = "mqtt"

// Subscriber and Publisher are satisfied by *mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
}

type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTBridge feeds broker messages to the router and publishes each reply
// to <replyTopic>/<identity>.
type MQTTBridge struct {
	router     *Router
	pub        Publisher
	inTopic    string
	replyTopic string
	qos        byte
	logger     zerolog.Logger
}

func NewMQTTBridge(router *Router, pub Publisher, inTopic, replyTopic string, logger zerolog.Logger) *MQTTBridge {
	return &MQTTBridge{
		router:     router,
		pub:        pub,
		inTopic:    inTopic,
		replyTopic: strings.TrimSuffix(replyTopic, "/"),
		qos:        1,
		logger:     logger.With().Str("component", "mqtt-bridge").Logger(),
	}
}

// Start subscribes to the inbound topic.
func (b *MQTTBridge) Start(sub Subscriber) error {
	if err := sub.Subscribe(b.inTopic, b.qos, b.HandleMessage); err != nil {
		return err
	}
	b.logger.Info().Str("topic", b.inTopic).Msg("mqtt bridge subscribed")
	return nil
}

// HandleMessage decodes a {identity, text} payload, dispatches it and
// publishes the reply. Unhandled messages get no reply.
func (b *MQTTBridge) HandleMessage(topic string, payload []byte) error {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode message on %s: %w", topic, err)
	}
	if msg.Identity == "" {
		return fmt.Errorf("message on %s has no identity", topic)
	}

	reply, handled := b.router.Dispatch(context.Background(), TransportMQTT, msg)
	if !handled {
		b.logger.Debug().Str("identity", msg.Identity).Msg("message not handled")
		return nil
	}

	out, err := json.Marshal(Message{Identity: msg.Identity, Text: reply.Text})
	if err != nil {
		return err
	}
	return b.pub.Publish(b.replyTopic+"/"+msg.Identity, b.qos, false, out)
}
