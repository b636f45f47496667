// Package gateway publishes directives, risk snapshots, and emergency stops
// to downstream consumers without ever blocking decision-making.
package gateway

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/apexguard/guardian/internal/domain"
)

// Message types carried on the wire. Consumers must tolerate additional
// optional fields within a version.
const (
	TypeTradeDirective = "trade_directive"
	TypeRiskState      = "risk_state"
	TypeEmergencyStop  = "emergency_stop"

	envelopeVersion = 1
)

// Envelope is the stable, versioned message shape for downstream surfaces.
type Envelope struct {
	Type      string      `json:"type"`
	Version   int         `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Sink delivers envelopes to the transport (websocket hub, test double).
type Sink interface {
	Send(env Envelope) error
}

// Config bounds the publication buffer and retry behavior.
type Config struct {
	BufferSize   int           `yaml:"buffer_size"`
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// DefaultConfig returns a 256-message buffer with up to 5 retries backing
// off from 100ms to 2s.
func DefaultConfig() Config {
	return Config{
		BufferSize:   256,
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	}
}

// Publisher buffers outbound messages. Directives and risk states share the
// bounded buffer (oldest dropped with a warning once full); emergency stops
// ride a dedicated lane drained ahead of everything else.
type Publisher struct {
	cfg         Config
	sink        Sink
	messages    chan Envelope
	emergencies chan Envelope
	dropped     atomic.Int64
	published   atomic.Int64
}

// NewPublisher creates a publisher over the given sink.
func NewPublisher(cfg Config, sink Sink) *Publisher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultConfig().InitialDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}
	return &Publisher{
		cfg:         cfg,
		sink:        sink,
		messages:    make(chan Envelope, cfg.BufferSize),
		emergencies: make(chan Envelope, 16),
	}
}

// PublishDirective enqueues a directive. Never blocks.
func (p *Publisher) PublishDirective(d domain.TradeDirective) {
	p.enqueue(Envelope{Type: TypeTradeDirective, Version: envelopeVersion, Timestamp: time.Now().UTC(), Payload: d})
}

// PublishRiskState enqueues a risk snapshot. Never blocks.
func (p *Publisher) PublishRiskState(s domain.RiskState) {
	p.enqueue(Envelope{Type: TypeRiskState, Version: envelopeVersion, Timestamp: time.Now().UTC(), Payload: s})
}

// PublishEmergencyStop enqueues on the priority lane, guaranteed to be
// delivered before any directive enqueued afterwards.
func (p *Publisher) PublishEmergencyStop(e domain.EmergencyStop) {
	env := Envelope{Type: TypeEmergencyStop, Version: envelopeVersion, Timestamp: time.Now().UTC(), Payload: e}
	select {
	case p.emergencies <- env:
	default:
		// The emergency lane should never fill; if it does, displace the
		// oldest rather than lose the newest.
		select {
		case <-p.emergencies:
		default:
		}
		p.emergencies <- env
		log.Error().Str("instrument", e.Instrument).Msg("emergency lane overflow, displaced oldest")
	}
}

func (p *Publisher) enqueue(env Envelope) {
	for {
		select {
		case p.messages <- env:
			return
		default:
		}
		// Buffer full: directives are advisory, not transactional — drop the
		// oldest unsent message and warn.
		select {
		case old := <-p.messages:
			p.dropped.Add(1)
			log.Warn().Str("type", old.Type).Int64("dropped_total", p.dropped.Load()).
				Msg("gateway buffer full, dropped oldest unsent message")
		default:
		}
	}
}

// Dropped returns the count of messages discarded due to a full buffer.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Published returns the count of messages delivered to the sink.
func (p *Publisher) Published() int64 { return p.published.Load() }

// Run drains the buffers until ctx is cancelled. Emergency messages are
// always drained first.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case env := <-p.emergencies:
			p.deliver(ctx, env)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case env := <-p.emergencies:
			p.deliver(ctx, env)
		case env := <-p.messages:
			p.deliver(ctx, env)
		}
	}
}

// deliver retries with exponential backoff; after the retry budget the
// message is dropped with a warning so fresh decisions are never held back.
func (p *Publisher) deliver(ctx context.Context, env Envelope) {
	delay := p.cfg.InitialDelay
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if err := p.sink.Send(env); err == nil {
			p.published.Add(1)
			return
		} else if attempt == p.cfg.MaxRetries {
			p.dropped.Add(1)
			log.Warn().Err(err).Str("type", env.Type).Int("attempts", attempt+1).
				Msg("downstream unavailable, message dropped after retries")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > p.cfg.MaxDelay {
			delay = p.cfg.MaxDelay
		}
	}
}
