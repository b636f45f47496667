package gateway

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexguard/guardian/internal/domain"
)

type captureSink struct {
	mu       sync.Mutex
	sent     []Envelope
	failures int
}

func (s *captureSink) Send(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("downstream unavailable")
	}
	s.sent = append(s.sent, env)
	return nil
}

func (s *captureSink) snapshot() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Envelope, len(s.sent))
	copy(out, s.sent)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublisher_DeliversInOrder(t *testing.T) {
	sink := &captureSink{}
	p := NewPublisher(DefaultConfig(), sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.PublishDirective(domain.TradeDirective{Instrument: "NQ"})
	p.PublishRiskState(domain.RiskState{})

	waitFor(t, func() bool { return p.Published() == 2 })
	sent := sink.snapshot()
	require.Len(t, sent, 2)
	assert.Equal(t, TypeTradeDirective, sent[0].Type)
	assert.Equal(t, TypeRiskState, sent[1].Type)
	assert.Equal(t, 1, sent[0].Version)
}

func TestPublisher_EmergencyStopJumpsQueue(t *testing.T) {
	sink := &captureSink{}
	p := NewPublisher(Config{BufferSize: 64}, sink)

	// Enqueue before starting the dispatcher so ordering is deterministic.
	for i := 0; i < 10; i++ {
		p.PublishDirective(domain.TradeDirective{Instrument: "NQ"})
	}
	p.PublishEmergencyStop(domain.EmergencyStop{Instrument: "NQ", Rule: "daily_loss"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, func() bool { return p.Published() == 11 })
	sent := sink.snapshot()
	assert.Equal(t, TypeEmergencyStop, sent[0].Type, "emergency drained before buffered directives")
}

func TestPublisher_FullBufferDropsOldest(t *testing.T) {
	sink := &captureSink{}
	p := NewPublisher(Config{BufferSize: 2}, sink)

	p.PublishDirective(domain.TradeDirective{ID: "first"})
	p.PublishDirective(domain.TradeDirective{ID: "second"})
	p.PublishDirective(domain.TradeDirective{ID: "third"})

	assert.Equal(t, int64(1), p.Dropped())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, func() bool { return p.Published() == 2 })
	sent := sink.snapshot()
	require.Len(t, sent, 2)
	first := sent[0].Payload.(domain.TradeDirective)
	assert.Equal(t, "second", first.ID, "oldest unsent message was dropped")
}

func TestPublisher_RetriesTransientFailure(t *testing.T) {
	sink := &captureSink{failures: 2}
	p := NewPublisher(Config{BufferSize: 8, MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.PublishDirective(domain.TradeDirective{Instrument: "ES"})

	waitFor(t, func() bool { return p.Published() == 1 })
	assert.Len(t, sink.snapshot(), 1)
}

func TestPublisher_GivesUpAfterRetryBudget(t *testing.T) {
	sink := &captureSink{failures: 100}
	p := NewPublisher(Config{BufferSize: 8, MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.PublishDirective(domain.TradeDirective{Instrument: "ES"})

	waitFor(t, func() bool { return p.Dropped() == 1 })
	assert.Equal(t, int64(0), p.Published())
}

func TestHub_BroadcastsToSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	require.NoError(t, hub.Send(Envelope{
		Type:      TypeEmergencyStop,
		Version:   1,
		Timestamp: time.Now().UTC(),
		Payload:   domain.EmergencyStop{Instrument: "NQ", Rule: "daily_loss"},
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"type":"emergency_stop"`)
	assert.Contains(t, string(payload), `"daily_loss"`)
}

func TestHub_SendWithNoClientsIsNoop(t *testing.T) {
	hub := NewHub()
	assert.NoError(t, hub.Send(Envelope{Type: TypeRiskState, Version: 1}))
}

// Broadcasts and keepalive pings share one connection; everything must funnel
// through the connection's write pump or the websocket library panics on the
// overlapping write.
func TestHub_BroadcastsInterleaveWithKeepalivePings(t *testing.T) {
	hub := NewHub()
	hub.pingPeriod = 5 * time.Millisecond
	defer hub.Close()

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	const messages = 50
	received := make(chan int, 1)
	go func() {
		count := 0
		for count < messages {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
			count++
		}
		received <- count
	}()

	for i := 0; i < messages; i++ {
		require.NoError(t, hub.Send(Envelope{Type: TypeRiskState, Version: 1, Payload: domain.RiskState{Equity: float64(i)}}))
		time.Sleep(2 * time.Millisecond)
	}

	assert.Equal(t, messages, <-received)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestHub_SlowConsumerIsDropped(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	// Never read: large frames stall the write pump on the socket, the client
	// queue fills, and the hub must retire the consumer instead of blocking
	// the broadcast path.
	padding := strings.Repeat("x", 1<<16)
	for i := 0; i < clientQueueSize*4 && hub.ClientCount() > 0; i++ {
		require.NoError(t, hub.Send(Envelope{Type: TypeRiskState, Version: 1, Payload: padding}))
	}
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}
