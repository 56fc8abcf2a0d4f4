package broadcast

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/quizdash/internal/game"
)

const SubjectPrefix = "quiz.events"

type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: SubjectPrefix,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATS publishes events on <prefix>.<CODE> so other server instances can
// relay them to their own clients.
type NATS struct {
	nc     *nats.Conn
	config NATSConfig
	origin string
	sub    *nats.Subscription
}

func NewNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = SubjectPrefix
	}
	opts := []nats.Option{
		nats.Name("quizdash"),
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
	return &NATS{nc: nc, config: cfg, origin: uuid.NewString()}, nil
}

func (n *NATS) subject(room string) string {
	return n.config.SubjectPrefix + "." + room
}

func (n *NATS) Publish(room, event string, payload any) {
	env, err := NewEnvelope(n.origin, room, event, payload)
	if err != nil {
		log.Error().Err(err).Str("room", room).Str("event", event).Msg("failed to encode event")
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("room", room).Str("event", event).Msg("failed to encode envelope")
		return
	}
	if err := n.nc.Publish(n.subject(room), data); err != nil {
		log.Error().Err(err).Str("room", room).Str("event", event).Msg("failed to publish event")
		return
	}
	log.Debug().Str("subject", n.subject(room)).Str("event", event).Msg("event published")
}

// Relay forwards events published by other instances to sink. Events this
// instance published itself are skipped since they were delivered locally.
func (n *NATS) Relay(sink game.Broadcaster) error {
	sub, err := n.nc.Subscribe(n.config.SubjectPrefix+".>", func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed event")
			return
		}
		if env.Origin == n.origin {
			return
		}
		room := env.Room
		if room == "" {
			room = strings.TrimPrefix(msg.Subject, n.config.SubjectPrefix+".")
		}
		sink.Publish(room, env.EventType, env.Payload)
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	n.sub = sub
	log.Info().Str("subject", sub.Subject).Msg("relaying remote events")
	return nil
}

func (n *NATS) Close() {
	if n.sub != nil {
		_ = n.sub.Unsubscribe()
	}
	if n.nc != nil {
		n.nc.Close()
	}
}
