// Package advisor attaches an optional confidence hint from an external
// advisory AI service to emitted directives. The hint is enrichment only and
// never overrides the core verdict.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/apexguard/guardian/internal/domain"
)

// Hint is the advisory response attached to a directive.
type Hint struct {
	Confidence float64 `json:"confidence"` // 0..1
	Commentary string  `json:"commentary,omitempty"`
}

// Client fetches a hint for a directive.
type Client interface {
	Enrich(ctx context.Context, directive domain.TradeDirective) (Hint, error)
}

// Config holds the advisory call budget.
type Config struct {
	Enabled       bool          `yaml:"enabled"`
	Endpoint      string        `yaml:"endpoint"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
}

// DefaultConfig returns a disabled advisor with a 2s timeout and a
// 1 call/sec budget.
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		Timeout:       2 * time.Second,
		RatePerSecond: 1.0,
		Burst:         2,
	}
}

// ErrRateLimited reports that the advisory budget was exhausted.
var ErrRateLimited = errors.New("advisory rate limit exhausted")

// Advisor wraps a client with a circuit breaker and a rate limiter so a slow
// or failing advisory service can never stall decision-making.
type Advisor struct {
	client  Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

// New creates an advisor around the given client.
func New(cfg Config, client Client) *Advisor {
	settings := gobreaker.Settings{Name: "advisor"}
	settings.Interval = 60 * time.Second
	settings.Timeout = 60 * time.Second
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}

	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = DefaultConfig().RatePerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultConfig().Burst
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}

	return &Advisor{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		timeout: timeout,
	}
}

// Annotate attaches a hint to the directive. Failures degrade to no hint;
// the directive's verdict is never changed.
func (a *Advisor) Annotate(ctx context.Context, directive *domain.TradeDirective) {
	if a == nil || a.client == nil {
		return
	}
	if !a.limiter.Allow() {
		log.Debug().Str("instrument", directive.Instrument).Msg("advisory call skipped: rate limited")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.client.Enrich(ctx, *directive)
	})
	if err != nil {
		log.Warn().Err(err).Str("instrument", directive.Instrument).Msg("advisory enrichment failed")
		return
	}
	hint := result.(Hint)
	if hint.Confidence < 0 || hint.Confidence > 1 {
		log.Warn().Float64("confidence", hint.Confidence).Msg("advisory hint out of range, dropped")
		return
	}
	directive.ConfidenceHint = hint.Confidence
	if hint.Commentary != "" {
		directive.Reasoning = append(directive.Reasoning, "advisor: "+hint.Commentary)
	}
}

// HTTPClient posts the directive to an advisory endpoint and decodes the hint.
type HTTPClient struct {
	endpoint string
	http     *http.Client
}

// NewHTTPClient creates a client for the configured endpoint.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Enrich(ctx context.Context, directive domain.TradeDirective) (Hint, error) {
	body, err := json.Marshal(directive)
	if err != nil {
		return Hint{}, fmt.Errorf("encode directive: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Hint{}, fmt.Errorf("build advisory request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Hint{}, fmt.Errorf("advisory request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Hint{}, fmt.Errorf("advisory status %d", resp.StatusCode)
	}

	var hint Hint
	if err := json.NewDecoder(resp.Body).Decode(&hint); err != nil {
		return Hint{}, fmt.Errorf("decode advisory hint: %w", err)
	}
	return hint, nil
}
