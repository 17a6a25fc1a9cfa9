// Package autosave keeps an article's edit fields synchronised with the
// server-held draft: a single re-arming timer saves changed fields, and load,
// check and view actions are available on demand.
package autosave

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"newsagent/api/internal/clock"
	"newsagent/api/internal/fields"
	"newsagent/api/internal/status"
	"newsagent/api/internal/webapi"
)

const source = "autosave"

// ErrSaveInFlight is returned by a save attempted while another is running.
var ErrSaveInFlight = errors.New("autosave already in progress")

type State int

const (
	Idle State = iota
	Saving
	AwaitingTimer
)

func (s State) String() string {
	switch s {
	case Saving:
		return "saving"
	case AwaitingTimer:
		return "awaiting_timer"
	default:
		return "idle"
	}
}

// Server is the subset of the webapi client the scheduler talks to.
type Server interface {
	AutoLoad(ctx context.Context) (*webapi.AutosaveResult, error)
	AutoCheck(ctx context.Context) (*webapi.AutosaveResult, error)
	AutoSave(ctx context.Context, values map[string]string) (*webapi.AutosaveResult, error)
}

// Gate is consulted before every save or load.
type Gate interface {
	EnsureAuthenticated(ctx context.Context) error
}

// Messages are the status texts shown while requests are running.
type Messages struct {
	LoginCheck string
	Restoring  string
	Checking   string
	Saving     string
	Failed     string
}

func DefaultMessages() Messages {
	return Messages{
		LoginCheck: "Checking login...",
		Restoring:  "Restoring autosave...",
		Checking:   "Checking for autosave...",
		Saving:     "Saving...",
		Failed:     "Request failed",
	}
}

type Config struct {
	Delay    time.Duration
	Messages Messages
	Clock    clock.Clock
	Bus      *status.Bus
	Logger   *slog.Logger
	// Preview is called after the save triggered by View succeeds.
	Preview func(ctx context.Context, saved fields.Snapshot)
}

type Scheduler struct {
	fields *fields.Store
	server Server
	gate   Gate

	delay    time.Duration
	messages Messages
	clock    clock.Clock
	bus      *status.Bus
	logger   *slog.Logger
	preview  func(context.Context, fields.Snapshot)

	mu      sync.Mutex
	baseCtx context.Context
	timer   clock.Timer
	gen     uint64
	saving  bool
	idle    chan struct{}
	stopped bool
}

func New(store *fields.Store, server Server, gate Gate, cfg Config) *Scheduler {
	delay := cfg.Delay
	if delay <= 0 {
		delay = 60 * time.Second
	}
	messages := cfg.Messages
	defaults := DefaultMessages()
	if messages.LoginCheck == "" {
		messages.LoginCheck = defaults.LoginCheck
	}
	if messages.Restoring == "" {
		messages.Restoring = defaults.Restoring
	}
	if messages.Checking == "" {
		messages.Checking = defaults.Checking
	}
	if messages.Saving == "" {
		messages.Saving = defaults.Saving
	}
	if messages.Failed == "" {
		messages.Failed = defaults.Failed
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		fields:   store,
		server:   server,
		gate:     gate,
		delay:    delay,
		messages: messages,
		clock:    clk,
		bus:      cfg.Bus,
		logger:   logger,
		preview:  cfg.Preview,
		baseCtx:  context.Background(),
	}
}

// Start runs the page-load step. Empty fields restore any server autosave;
// otherwise the current values become the last-saved snapshot and the server
// is only asked whether an autosave exists. The save timer is armed either
// way. ctx is also used for timer-driven requests until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.stopped = false
	s.mu.Unlock()

	if s.fields.AllEmpty() {
		_ = s.load(ctx)
		return
	}
	s.fields.RefreshSaved()
	_ = s.check(ctx)
	s.Schedule()
}

// Stop cancels the timer and prevents it from being re-armed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.Cancel()
}

// Schedule arms the save timer, replacing any pending one.
func (s *Scheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.delay, func() { s.fire(gen) })
}

// Cancel drops the pending timer, if any.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

func (s *Scheduler) IsSaving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saving
}

// WaitIdle blocks until no save is in flight or ctx is done.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.saving:
		return Saving
	case s.timer != nil:
		return AwaitingTimer
	default:
		return Idle
	}
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.stopped {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	ctx := s.baseCtx
	s.mu.Unlock()

	if err := s.authenticate(ctx); err != nil {
		s.Schedule()
		return
	}
	if err := s.save(ctx, false, false); err != nil && !errors.Is(err, ErrSaveInFlight) {
		s.logger.Debug("timed autosave failed", "error", err)
	}
}

// Save stores the fields on the server. Without force nothing is sent when
// the fields match the last-saved snapshot.
func (s *Scheduler) Save(ctx context.Context, force bool) error {
	s.Cancel()
	if err := s.authenticate(ctx); err != nil {
		s.Schedule()
		return err
	}
	return s.save(ctx, force, false)
}

// View force-saves the fields and then hands them to the preview hook.
func (s *Scheduler) View(ctx context.Context) error {
	s.Cancel()
	if err := s.authenticate(ctx); err != nil {
		s.Schedule()
		return err
	}
	return s.save(ctx, true, true)
}

// Load replaces the fields with the server autosave, if one exists.
func (s *Scheduler) Load(ctx context.Context) error {
	s.Cancel()
	if err := s.authenticate(ctx); err != nil {
		s.Schedule()
		return err
	}
	return s.load(ctx)
}

// Check asks whether an autosave exists without applying it.
func (s *Scheduler) Check(ctx context.Context) error {
	return s.check(ctx)
}

func (s *Scheduler) authenticate(ctx context.Context) error {
	if s.gate == nil {
		return nil
	}
	s.publish(status.KindMessage, s.messages.LoginCheck)
	if err := s.gate.EnsureAuthenticated(ctx); err != nil {
		s.publish(status.KindError, webapi.Message(err, s.messages.Failed))
		return err
	}
	return nil
}

func (s *Scheduler) save(ctx context.Context, force, view bool) error {
	s.Cancel()

	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		return ErrSaveInFlight
	}
	s.saving = true
	s.idle = make(chan struct{})
	s.mu.Unlock()

	values := s.fields.Current()
	if !force && !fields.Diff(values, s.fields.LastSaved()) {
		s.setSaving(false)
		s.Schedule()
		return s.check(ctx)
	}

	s.publish(status.KindBusy, "")
	s.publish(status.KindAutosaveHidden, "")
	s.publish(status.KindMessage, s.messages.Saving)

	res, err := s.server.AutoSave(ctx, values)
	s.publish(status.KindIdle, "")
	if err != nil {
		s.publish(status.KindError, webapi.Message(err, s.messages.Failed))
		s.setSaving(false)
		s.Schedule()
		return err
	}

	if res.Available {
		s.publish(status.KindAutosaveAvailable, "")
	}
	s.publish(status.KindMessage, res.Desc)
	s.fields.MarkSaved(values)
	s.setSaving(false)
	s.Schedule()

	if view && s.preview != nil {
		s.preview(ctx, values)
	}
	return nil
}

func (s *Scheduler) load(ctx context.Context) error {
	s.Cancel()

	s.publish(status.KindBusy, "")
	s.publish(status.KindMessage, s.messages.Restoring)
	res, err := s.server.AutoLoad(ctx)
	s.publish(status.KindIdle, "")
	if err != nil {
		s.publish(status.KindError, webapi.Message(err, s.messages.Failed))
		s.Schedule()
		return err
	}

	if res.Available {
		applied := s.fields.Apply(res.Fields)
		s.logger.Debug("autosave restored", "fields", applied)
		s.publish(status.KindAutosaveAvailable, "")
	}
	s.publish(status.KindMessage, res.Desc)
	s.fields.RefreshSaved()
	s.Schedule()
	return nil
}

func (s *Scheduler) check(ctx context.Context) error {
	s.publish(status.KindBusy, "")
	s.publish(status.KindMessage, s.messages.Checking)
	res, err := s.server.AutoCheck(ctx)
	s.publish(status.KindIdle, "")
	if err != nil {
		s.publish(status.KindError, webapi.Message(err, s.messages.Failed))
		return err
	}
	if res.Available {
		s.publish(status.KindAutosaveAvailable, "")
	}
	s.publish(status.KindMessage, res.Desc)
	return nil
}

func (s *Scheduler) setSaving(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = v
	if !v && s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
}

func (s *Scheduler) publish(kind status.Kind, message string) {
	s.bus.Publish(status.Event{Source: source, Kind: kind, Message: message})
}
