// Package engine aggregates the ledger, sizing, risk, cadence, and compliance
// subsystems into per-instrument decision workers.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/apexguard/guardian/internal/account"
	"github.com/apexguard/guardian/internal/cadence"
	"github.com/apexguard/guardian/internal/compliance"
	"github.com/apexguard/guardian/internal/domain"
	"github.com/apexguard/guardian/internal/ledger"
	"github.com/apexguard/guardian/internal/metrics"
	"github.com/apexguard/guardian/internal/risk"
	"github.com/apexguard/guardian/internal/sizing"
	"github.com/apexguard/guardian/internal/snapshot"
)

// Publisher is the downstream surface the engine emits to.
type Publisher interface {
	PublishDirective(d domain.TradeDirective)
	PublishRiskState(s domain.RiskState)
	PublishEmergencyStop(e domain.EmergencyStop)
}

// Recorder persists emitted directives and recorded outcomes. Persistence is
// best-effort: a storage failure is logged, never blocks a decision.
type Recorder interface {
	SaveDirective(ctx context.Context, d domain.TradeDirective) error
	SaveOutcome(ctx context.Context, o domain.TradeOutcome) error
}

// Annotator enriches a directive after the verdict is final.
type Annotator interface {
	Annotate(ctx context.Context, d *domain.TradeDirective)
}

// Config holds the aggregation parameters.
type Config struct {
	MinTier            domain.Tier   `yaml:"min_tier"`             // readings below are rejected
	SessionSplitHour   int           `yaml:"session_split_hour"`   // local hour separating AM from PM
	QueueSize          int           `yaml:"queue_size"`           // per-instrument inbox depth
	FullConfidence     float64       `yaml:"full_confidence"`      // score for full-size approval
	CautiousConfidence float64       `yaml:"cautious_confidence"`  // score floor for reduced-size approval
	CautiousSizeFactor float64       `yaml:"cautious_size_factor"` // size multiplier in the cautious band
	RiskStateInterval  time.Duration `yaml:"risk_state_interval"`  // periodic risk snapshot cadence
}

// DefaultConfig returns the documented defaults: L2 minimum tier, noon
// session split, 64-deep inboxes, 0.7/0.5 confidence bands with half size in
// the cautious band, risk snapshots every 5s.
func DefaultConfig() Config {
	return Config{
		MinTier:            domain.TierL2,
		SessionSplitHour:   12,
		QueueSize:          64,
		FullConfidence:     0.7,
		CautiousConfidence: 0.5,
		CautiousSizeFactor: 0.5,
		RiskStateInterval:  5 * time.Second,
	}
}

type worker struct {
	instrument string
	in         chan domain.SignalReading

	mu         sync.Mutex
	paused     bool
	pausedRule string
}

func (w *worker) pause(rule string) {
	w.mu.Lock()
	w.paused = true
	w.pausedRule = rule
	w.mu.Unlock()
}

func (w *worker) resume() {
	w.mu.Lock()
	w.paused = false
	w.pausedRule = ""
	w.mu.Unlock()
}

func (w *worker) pauseState() (bool, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused, w.pausedRule
}

// Engine routes signal readings to per-instrument workers, each running the
// full decision pipeline sequentially so directives for one instrument are
// strictly ordered.
type Engine struct {
	cfg       Config
	ledger    *ledger.Ledger
	tracker   *cadence.Tracker
	sizer     *sizing.Engine
	levels    *risk.Calculator
	monitor   *compliance.Monitor
	accounts  *account.Store
	snapshots snapshot.Store
	publisher Publisher
	recorder  Recorder
	annotator Annotator
	metrics   *metrics.Registry

	mu      sync.Mutex
	workers map[string]*worker
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	directives atomic.Int64
	denials    atomic.Int64
}

// Deps carries the engine's collaborators. Recorder and Annotator are
// optional; Snapshots defaults to the in-memory store.
type Deps struct {
	Ledger    *ledger.Ledger
	Tracker   *cadence.Tracker
	Sizer     *sizing.Engine
	Levels    *risk.Calculator
	Monitor   *compliance.Monitor
	Accounts  *account.Store
	Snapshots snapshot.Store
	Publisher Publisher
	Recorder  Recorder
	Annotator Annotator
	Metrics   *metrics.Registry
}

// New creates an engine. Call Start before submitting readings.
func New(cfg Config, deps Deps) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.SessionSplitHour <= 0 || cfg.SessionSplitHour > 23 {
		cfg.SessionSplitHour = DefaultConfig().SessionSplitHour
	}
	if cfg.MinTier == 0 {
		cfg.MinTier = DefaultConfig().MinTier
	}
	if cfg.FullConfidence <= 0 {
		cfg.FullConfidence = DefaultConfig().FullConfidence
	}
	if cfg.CautiousConfidence <= 0 {
		cfg.CautiousConfidence = DefaultConfig().CautiousConfidence
	}
	if cfg.CautiousSizeFactor <= 0 {
		cfg.CautiousSizeFactor = DefaultConfig().CautiousSizeFactor
	}
	if deps.Snapshots == nil {
		deps.Snapshots = snapshot.NewMemoryStore()
	}
	return &Engine{
		cfg:       cfg,
		ledger:    deps.Ledger,
		tracker:   deps.Tracker,
		sizer:     deps.Sizer,
		levels:    deps.Levels,
		monitor:   deps.Monitor,
		accounts:  deps.Accounts,
		snapshots: deps.Snapshots,
		publisher: deps.Publisher,
		recorder:  deps.Recorder,
		annotator: deps.Annotator,
		metrics:   deps.Metrics,
		workers:   make(map[string]*worker),
	}
}

// Start launches the engine. Workers spawn lazily per instrument; the risk
// snapshot loop runs until Stop or ctx cancellation.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	if e.cfg.RiskStateInterval > 0 {
		e.wg.Add(1)
		go e.riskStateLoop()
	}
	log.Info().Str("min_tier", e.cfg.MinTier.String()).
		Int("queue_size", e.cfg.QueueSize).Msg("decision engine started")
}

// Stop cancels workers and waits for them to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// Submit routes a reading to its instrument worker. Never blocks: a full
// inbox drops the reading with a warning, protecting every other instrument's
// latency. Readings submitted before Start are refused.
func (e *Engine) Submit(reading domain.SignalReading) bool {
	w := e.workerFor(reading.Instrument)
	if w == nil {
		log.Warn().Str("instrument", reading.Instrument).Msg("engine not started, reading refused")
		return false
	}
	select {
	case w.in <- reading:
		return true
	default:
		log.Warn().Str("instrument", reading.Instrument).Msg("worker inbox full, reading dropped")
		return false
	}
}

func (e *Engine) workerFor(instrument string) *worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return nil
	}
	w := e.workers[instrument]
	if w == nil {
		w = &worker{instrument: instrument, in: make(chan domain.SignalReading, e.cfg.QueueSize)}
		e.workers[instrument] = w
		e.wg.Add(1)
		go e.runWorker(w)
	}
	return w
}

func (e *Engine) runWorker(w *worker) {
	defer e.wg.Done()
	e.restoreWorker(w)
	for {
		select {
		case <-e.ctx.Done():
			return
		case reading := <-w.in:
			e.safeProcess(w, reading)
		}
	}
}

// safeProcess isolates a panic to the offending reading: the worker state is
// rebuilt from the last snapshot and processing continues.
func (e *Engine) safeProcess(w *worker, reading domain.SignalReading) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("instrument", w.instrument).
				Msg("worker panicked, restoring from snapshot")
			if e.metrics != nil {
				e.metrics.WorkerRestarts.Inc()
			}
			e.restoreWorker(w)
		}
	}()
	e.process(w, reading)
}

// restoreWorker rebuilds ledger and cadence state for one instrument by
// replaying its saved outcome window.
func (e *Engine) restoreWorker(w *worker) {
	state, err := e.snapshots.Load(e.ctx, w.instrument)
	if err != nil {
		log.Error().Err(err).Str("instrument", w.instrument).Msg("snapshot load failed, starting clean")
		return
	}
	if state == nil {
		return
	}

	e.ledger.Reset(w.instrument)
	e.tracker.Reset(w.instrument)
	for _, outcome := range state.Outcomes {
		e.ledger.Record(outcome)
		session := domain.SessionAt(outcome.Timestamp, e.cfg.SessionSplitHour)
		e.tracker.RecordOutcome(outcome.Instrument, session, outcome.Result, outcome.Timestamp)
	}
	if state.Paused {
		w.pause(state.PausedRule)
	} else {
		w.resume()
	}
	log.Info().Str("instrument", w.instrument).Int("outcomes", len(state.Outcomes)).
		Bool("paused", state.Paused).Msg("worker state restored from snapshot")
}

func (e *Engine) saveSnapshot(w *worker) {
	paused, rule := w.pauseState()
	state := snapshot.WorkerState{
		Instrument: w.instrument,
		Outcomes:   e.ledger.Outcomes(w.instrument),
		Paused:     paused,
		PausedRule: rule,
	}
	if err := e.snapshots.Save(e.ctx, state); err != nil {
		log.Warn().Err(err).Str("instrument", w.instrument).Msg("snapshot save failed")
	}
}

// ApplyOutcome folds an externally reported trade outcome into the ledger and
// cadence tracker, persisting it when a recorder is configured.
func (e *Engine) ApplyOutcome(outcome domain.TradeOutcome) {
	if !e.ledger.Record(outcome) {
		return
	}
	session := domain.SessionAt(outcome.Timestamp, e.cfg.SessionSplitHour)
	e.tracker.RecordOutcome(outcome.Instrument, session, outcome.Result, outcome.Timestamp)
	e.persistOutcome(outcome)
	if w := e.peekWorker(outcome.Instrument); w != nil {
		e.saveSnapshot(w)
	}
}

func (e *Engine) peekWorker(instrument string) *worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workers[instrument]
}

// UpdateAccount replaces the account snapshot used by sizing and compliance.
func (e *Engine) UpdateAccount(state domain.AccountState) {
	e.accounts.Update(state)
}

// ClearEmergency lifts an instrument's emergency pause after manual review.
func (e *Engine) ClearEmergency(instrument string) bool {
	w := e.peekWorker(instrument)
	if w == nil {
		return false
	}
	paused, rule := w.pauseState()
	if !paused {
		return false
	}
	w.resume()
	e.saveSnapshot(w)
	log.Info().Str("instrument", instrument).Str("rule", rule).Msg("emergency pause cleared")
	return true
}

// RiskState builds the current account-protection snapshot.
func (e *Engine) RiskState() domain.RiskState {
	acct, _ := e.accounts.Snapshot()

	emergencyActive := false
	e.mu.Lock()
	for _, w := range e.workers {
		if paused, _ := w.pauseState(); paused {
			emergencyActive = true
			break
		}
	}
	e.mu.Unlock()

	return domain.RiskState{
		Timestamp:        time.Now().UTC(),
		Equity:           acct.Equity,
		PeakEquity:       acct.PeakEquity,
		DailyPnL:         acct.DailyPnL,
		Drawdown:         acct.Drawdown(),
		OpenPositionRisk: acct.OpenPositionRisk,
		TradingEnabled:   !emergencyActive,
		EmergencyActive:  emergencyActive,
		Directives:       e.directives.Load(),
		Denials:          e.denials.Load(),
	}
}

func (e *Engine) riskStateLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.RiskStateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.publisher.PublishRiskState(e.RiskState())
		}
	}
}

func (e *Engine) persistOutcome(outcome domain.TradeOutcome) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.SaveOutcome(e.ctx, outcome); err != nil {
		log.Warn().Err(err).Str("instrument", outcome.Instrument).Msg("outcome persistence failed")
	}
}

func (e *Engine) persistDirective(d domain.TradeDirective) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.SaveDirective(e.ctx, d); err != nil {
		log.Warn().Err(err).Str("directive_id", d.ID).Msg("directive persistence failed")
	}
}
