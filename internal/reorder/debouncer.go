package reorder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"newsagent/api/internal/clock"
	"newsagent/api/internal/status"
	"newsagent/api/internal/webapi"
)

const source = "reorder"

var ErrSaveInFlight = errors.New("sort order save already in progress")

// Persister stores a serialised order and returns the server's status text.
type Persister interface {
	SortOrder(ctx context.Context, pairs []string) (string, error)
}

// Gate is consulted before every save.
type Gate interface {
	EnsureAuthenticated(ctx context.Context) error
}

type Config struct {
	// Quiet is how long the lists must stay still before the order is sent.
	Quiet time.Duration
	// Timeout bounds each persistence request.
	Timeout           time.Duration
	PendingMessage    string
	LoginCheckMessage string
	SavingMessage     string
	FailedMessage     string
	// Gate, when set, must pass before the order is sent.
	Gate   Gate
	Clock  clock.Clock
	Bus    *status.Bus
	Logger *slog.Logger
}

// Debouncer coalesces bursts of reorder notifications into one persistence
// call carrying the order at the time the timer fires.
type Debouncer struct {
	source    OrderSource
	persister Persister
	gate      Gate
	quiet     time.Duration
	timeout   time.Duration
	pending   string
	loginMsg  string
	savingMsg string
	failed    string
	clock     clock.Clock
	bus       *status.Bus
	logger    *slog.Logger

	mu      sync.Mutex
	timer   clock.Timer
	gen     uint64
	saving  bool
	stopped bool
}

func New(src OrderSource, persister Persister, cfg Config) *Debouncer {
	quiet := cfg.Quiet
	if quiet <= 0 {
		quiet = 2 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	d := &Debouncer{
		source:    src,
		persister: persister,
		gate:      cfg.Gate,
		quiet:     quiet,
		timeout:   timeout,
		pending:   cfg.PendingMessage,
		loginMsg:  cfg.LoginCheckMessage,
		savingMsg: cfg.SavingMessage,
		failed:    cfg.FailedMessage,
		clock:     cfg.Clock,
		bus:       cfg.Bus,
		logger:    cfg.Logger,
	}
	if d.pending == "" {
		d.pending = "Order changed, waiting to save..."
	}
	if d.loginMsg == "" {
		d.loginMsg = "Checking login..."
	}
	if d.savingMsg == "" {
		d.savingMsg = "Saving order..."
	}
	if d.failed == "" {
		d.failed = "Request failed"
	}
	if d.clock == nil {
		d.clock = clock.Real()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// NotifyReordered is called after every drop. It restarts the quiet period.
func (d *Debouncer) NotifyReordered() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.quiet, func() { d.fire(gen) })
	d.mu.Unlock()

	d.publish(status.KindPending, d.pending)
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.authenticate(ctx); err != nil {
		return
	}
	if err := d.persist(ctx); err != nil && !errors.Is(err, ErrSaveInFlight) {
		d.logger.Debug("sort order save failed", "error", err)
	}
}

// Flush cancels the quiet period and persists immediately.
func (d *Debouncer) Flush(ctx context.Context) error {
	d.cancelTimer()
	if err := d.authenticate(ctx); err != nil {
		return err
	}
	return d.persist(ctx)
}

func (d *Debouncer) authenticate(ctx context.Context) error {
	if d.gate == nil {
		return nil
	}
	d.publish(status.KindMessage, d.loginMsg)
	if err := d.gate.EnsureAuthenticated(ctx); err != nil {
		d.publish(status.KindError, webapi.Message(err, d.failed))
		d.logger.Debug("sort order save skipped", "error", err)
		return err
	}
	return nil
}

// Stop drops any pending save and ignores later notifications.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cancelTimer()
}

func (d *Debouncer) IsSaving() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saving
}

// Pending reports whether a save is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

func (d *Debouncer) cancelTimer() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

func (d *Debouncer) persist(ctx context.Context) error {
	d.mu.Lock()
	if d.saving {
		d.mu.Unlock()
		return ErrSaveInFlight
	}
	d.saving = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.saving = false
		d.mu.Unlock()
	}()

	pairs, err := Serialize(d.source.CurrentOrder())
	if err != nil {
		d.publish(status.KindError, err.Error())
		return err
	}

	d.publish(status.KindBusy, "")
	d.publish(status.KindMessage, d.savingMsg)
	desc, err := d.persister.SortOrder(ctx, pairs)
	d.publish(status.KindIdle, "")
	if err != nil {
		d.publish(status.KindError, webapi.Message(err, d.failed))
		return err
	}
	d.publish(status.KindMessage, desc)
	return nil
}

func (d *Debouncer) publish(kind status.Kind, message string) {
	d.bus.Publish(status.Event{Source: source, Kind: kind, Message: message})
}
