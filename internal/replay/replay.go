package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/scoreguard/internal/risk"
	"github.com/mbd888/scoreguard/internal/session"
)

// Result is the outcome of one replayed session.
type Result struct {
	SessionID            string      `json:"sessionId"`
	Report               risk.Report `json:"report"`
	BlockedAt            *time.Time  `json:"blockedAt,omitempty"`
	BlockedAtObservation int         `json:"blockedAtObservation,omitempty"`

	// CloseReason is "closed" for explicit and end-of-input closes, "idle"
	// for sessions swept by a janitor.
	CloseReason string `json:"closeReason,omitempty"`
}

// WasBlocked reports whether the session was blocked at any point, even if a
// later reset cleared the decision.
func (r Result) WasBlocked() bool {
	return r.BlockedAt != nil
}

// AnyBlocked reports whether any result was blocked.
func AnyBlocked(results []Result) bool {
	for _, r := range results {
		if r.WasBlocked() {
			return true
		}
	}
	return false
}

type blockInfo struct {
	at          time.Time
	observation int
}

// Replayer feeds records into a tracker under a record-driven clock, or under
// a wall clock in live mode. Run and Apply must not be called concurrently.
type Replayer struct {
	clock   risk.Clock
	manual  *risk.ManualClock // nil in live mode
	tracker *session.Tracker
	logger  *slog.Logger
	onBlock func(Result)

	started bool
	lastAt  time.Time

	// guards blocks and results, which a janitor may update via Sweep
	mu      sync.Mutex
	blocks  map[string]blockInfo
	results []Result
}

// Option configures the replayer
type Option func(*config)

type config struct {
	logger     *slog.Logger
	thresholds risk.Thresholds
	liveClock  risk.Clock
	onBlock    func(Result)
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithThresholds sets the heuristic thresholds for replayed sessions.
func WithThresholds(th risk.Thresholds) Option {
	return func(c *config) { c.thresholds = th }
}

// WithLiveClock switches to live mode: observations are stamped by clock and
// record timestamps are ignored.
func WithLiveClock(clock risk.Clock) Option {
	return func(c *config) { c.liveClock = clock }
}

// WithOnBlock registers a callback for the first block of each session.
func WithOnBlock(fn func(Result)) Option {
	return func(c *config) { c.onBlock = fn }
}

// New creates a replayer with its own clock and tracker.
func New(opts ...Option) *Replayer {
	cfg := config{
		logger:     slog.Default(),
		thresholds: risk.DefaultThresholds(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Replayer{
		logger:  cfg.logger,
		onBlock: cfg.onBlock,
		blocks:  make(map[string]blockInfo),
	}
	if cfg.liveClock != nil {
		p.clock = cfg.liveClock
	} else {
		p.manual = risk.NewManualClock(time.Time{})
		p.clock = p.manual
	}
	p.tracker = session.NewTracker(
		session.WithClock(p.clock),
		session.WithLogger(cfg.logger),
		session.WithThresholds(cfg.thresholds),
		session.WithOnBlock(p.recordBlock),
		session.WithOnClose(p.recordClose),
	)
	return p
}

// Tracker exposes the underlying tracker, e.g. for health checks.
func (p *Replayer) Tracker() *session.Tracker {
	return p.tracker
}

// Run replays every record from in and returns one result per session, in
// the order sessions were closed. Sessions still open at the end of the input
// are closed in id order.
//
// A bad record aborts a replay. In live mode it is logged and skipped, since
// the stream cannot be corrected after the fact.
func (p *Replayer) Run(ctx context.Context, in io.Reader) ([]Result, error) {
	rd := NewReader(in)
	count, skipped := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err == nil {
			if err = p.Apply(ctx, rec); err != nil {
				err = fmt.Errorf("line %d: %w", rd.Line(), err)
			}
		}
		if err != nil {
			if p.Live() && skippable(err) {
				skipped++
				p.logger.Warn("skipping record", "line", rd.Line(), "error", err)
				continue
			}
			return nil, err
		}
		count++
	}

	results, err := p.Finish(ctx)
	if err != nil {
		return nil, err
	}
	p.logger.Info("replay finished", "records", count, "skipped", skipped, "sessions", len(results))
	return results, nil
}

// Live reports whether the replayer runs on a wall clock.
func (p *Replayer) Live() bool {
	return p.manual == nil
}

// Apply replays a single validated record.
func (p *Replayer) Apply(ctx context.Context, rec Record) error {
	if !p.Live() {
		if err := p.advance(rec.At); err != nil {
			return err
		}
	}

	switch rec.Op {
	case OpOpen:
		return p.open(ctx, rec)
	case OpObserve:
		if !p.tracker.Has(rec.Session) {
			if err := p.open(ctx, rec); err != nil {
				return err
			}
		}
		_, err := p.tracker.Observe(ctx, rec.Session, *rec.Score, rec.level(), rec.Elapsed)
		return err
	case OpReset:
		return p.tracker.Reset(ctx, rec.Session)
	case OpMarkNotFirst:
		return p.tracker.MarkNotFirstSession(ctx, rec.Session)
	case OpClose:
		_, err := p.tracker.Close(ctx, rec.Session)
		return err
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidRecord, rec.Op)
	}
}

// skippable reports whether err concerns a single record rather than the
// input stream itself.
func skippable(err error) bool {
	return errors.Is(err, ErrInvalidRecord) ||
		errors.Is(err, session.ErrSessionNotFound) ||
		errors.Is(err, session.ErrSessionExists)
}

// Finish closes every session still open and returns all results.
func (p *Replayer) Finish(ctx context.Context) ([]Result, error) {
	for _, id := range p.tracker.IDs() {
		if _, err := p.tracker.Close(ctx, id); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			return nil, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	results := make([]Result, len(p.results))
	copy(results, p.results)
	return results, nil
}

// advance moves the replay clock to at, which must not go backwards.
func (p *Replayer) advance(at time.Time) error {
	if at.IsZero() {
		return fmt.Errorf("%w: at is required", ErrInvalidRecord)
	}
	if p.started && at.Before(p.lastAt) {
		return fmt.Errorf("%w: at %s is before previous record at %s",
			ErrInvalidRecord, at.Format(time.RFC3339Nano), p.lastAt.Format(time.RFC3339Nano))
	}
	p.started = true
	p.lastAt = at
	p.manual.Set(at)
	return nil
}

func (p *Replayer) open(ctx context.Context, rec Record) error {
	_, err := p.tracker.Open(ctx, rec.Session, rec.firstSession())
	return err
}

// recordClose turns a closed session into a result.
func (p *Replayer) recordClose(sessionID, reason string, report risk.Report) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := Result{SessionID: sessionID, Report: report, CloseReason: reason}
	if b, ok := p.blocks[sessionID]; ok {
		at := b.at
		res.BlockedAt = &at
		res.BlockedAtObservation = b.observation
	}
	p.results = append(p.results, res)
	delete(p.blocks, sessionID)
}

// recordBlock keeps the first block of each session's lifetime.
func (p *Replayer) recordBlock(sessionID string, report risk.Report) {
	p.mu.Lock()
	if _, ok := p.blocks[sessionID]; ok {
		p.mu.Unlock()
		return
	}
	b := blockInfo{at: p.clock.Now(), observation: report.TotalObservations}
	p.blocks[sessionID] = b
	p.mu.Unlock()

	if p.onBlock != nil {
		at := b.at
		p.onBlock(Result{
			SessionID:            sessionID,
			Report:               report,
			BlockedAt:            &at,
			BlockedAtObservation: b.observation,
		})
	}
}
