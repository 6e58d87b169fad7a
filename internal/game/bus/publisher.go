package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/quizzer-app/quizzer/internal/game/events"
)

// Event is one mutation result in flight between the mutation service and
// the relay. Delivery is best effort: a lost event is corrected by the next
// state-changing event or by reconnect catch-up, never by replay.
type Event struct {
	ID        uuid.UUID       `json:"eventId"`
	Type      string          `json:"eventType"`
	GameID    string          `json:"gameId"`
	CreatedAt time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher hands mutation results to the broadcast path.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Broadcaster is the slice of the relay router the bus needs.
type Broadcaster interface {
	Broadcast(room, typ string, payload any, filter events.Recipient)
}

// Config holds NATS connection settings.
type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns NATS defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "quizzer.game",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// NATSPublisher publishes events over core NATS. Core, not JetStream: the
// coordination channel gives no delivery guarantee and keeps no log.
type NATSPublisher struct {
	nc     *nats.Conn
	config Config
}

// Connect dials NATS with reconnect handling.
func Connect(cfg Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NewNATSPublisher creates a publisher over an existing connection.
func NewNATSPublisher(nc *nats.Conn, cfg Config) *NATSPublisher {
	return &NATSPublisher{nc: nc, config: cfg}
}

// Publish sends the event envelope to quizzer.game.<gameID>.<type>.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s.%s", p.config.SubjectPrefix, event.GameID, event.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// LoopbackPublisher hands events straight to the local router. Used for
// single-process deployments and tests, where no NATS server is running.
type LoopbackPublisher struct {
	broadcaster Broadcaster
}

// NewLoopbackPublisher creates the in-process publisher.
func NewLoopbackPublisher(b Broadcaster) *LoopbackPublisher {
	return &LoopbackPublisher{broadcaster: b}
}

// Publish broadcasts the event to the local room without a network hop.
func (p *LoopbackPublisher) Publish(ctx context.Context, event Event) error {
	p.broadcaster.Broadcast(event.GameID, event.Type, event.Payload, events.Recipient{})
	return nil
}
