package bus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/quizzer-app/quizzer/internal/game/events"
)

// Consumer subscribes to mutation events and fans them out to the local
// relay, so every gateway process serving the room converges on the same
// broadcasts.
type Consumer struct {
	nc          *nats.Conn
	broadcaster Broadcaster
	config      Config
	sub         *nats.Subscription
}

// NewConsumer creates a consumer over an existing connection.
func NewConsumer(nc *nats.Conn, b Broadcaster, cfg Config) *Consumer {
	return &Consumer{nc: nc, broadcaster: b, config: cfg}
}

// Start subscribes to every game subject under the prefix.
func (c *Consumer) Start() error {
	subject := c.config.SubjectPrefix + ".>"
	sub, err := c.nc.Subscribe(subject, c.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.sub = sub

	log.Info().Str("subject", subject).Msg("bus consumer started")
	return nil
}

// Stop drops the subscription.
func (c *Consumer) Stop() error {
	if c.sub != nil {
		return c.sub.Unsubscribe()
	}
	return nil
}

func (c *Consumer) handle(msg *nats.Msg) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("bad event envelope")
		return
	}

	log.Debug().
		Str("event_id", event.ID.String()).
		Str("event_type", event.Type).
		Str("game_id", event.GameID).
		Msg("broadcasting bus event")

	c.broadcaster.Broadcast(event.GameID, event.Type, event.Payload, events.Recipient{})
}
