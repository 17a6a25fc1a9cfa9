package autosave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"newsagent/api/internal/clock"
	"newsagent/api/internal/fields"
	"newsagent/api/internal/status"
	"newsagent/api/internal/webapi"
)

const delay = time.Minute

type fakeServer struct {
	mu         sync.Mutex
	loads      int
	checks     int
	saves      []map[string]string
	loadResult *webapi.AutosaveResult
	saveErr    error
	checkErr   error
	// block, when set, holds AutoSave until it is closed.
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeServer) AutoLoad(context.Context) (*webapi.AutosaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loadResult != nil {
		return f.loadResult, nil
	}
	return &webapi.AutosaveResult{Desc: "No autosave available"}, nil
}

func (f *fakeServer) AutoCheck(context.Context) (*webapi.AutosaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return &webapi.AutosaveResult{Available: true, Desc: "Autosave from 09:14"}, nil
}

func (f *fakeServer) AutoSave(_ context.Context, values map[string]string) (*webapi.AutosaveResult, error) {
	f.mu.Lock()
	f.saves = append(f.saves, values)
	block, entered, err := f.block, f.entered, f.saveErr
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &webapi.AutosaveResult{Available: true, Desc: "Autosave stored"}, nil
}

func (f *fakeServer) counts() (loads, checks, saves int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads, f.checks, len(f.saves)
}

type fakeGate struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (g *fakeGate) EnsureAuthenticated(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.err
}

type harness struct {
	title   *fields.TextInput
	editor  *fields.TextEditor
	store   *fields.Store
	server  *fakeServer
	gate    *fakeGate
	clock   *clock.Fake
	events  *status.Recorder
	sched   *Scheduler
	preview []fields.Snapshot
}

func newHarness(t *testing.T, title, body string) *harness {
	t.Helper()
	h := &harness{
		title:  fields.NewTextInput(title),
		editor: fields.NewTextEditor(body),
		server: &fakeServer{},
		gate:   &fakeGate{},
		clock:  clock.NewFake(),
		events: &status.Recorder{},
	}
	reg := fields.NewRegistry()
	reg.Bind("comp-title", h.title)
	reg.Bind("comp-desc", fields.NewTextInput(""))
	reg.AttachEditor("comp-desc", h.editor)
	h.store = fields.NewStore(reg, []string{"comp-title", "comp-summ", "comp-desc"})

	bus := status.NewBus()
	bus.Subscribe(h.events)
	h.sched = New(h.store, h.server, h.gate, Config{
		Delay: delay,
		Clock: h.clock,
		Bus:   bus,
		Preview: func(_ context.Context, saved fields.Snapshot) {
			h.preview = append(h.preview, saved)
		},
	})
	return h
}

func TestStartWithEmptyFieldsLoadsAutosave(t *testing.T) {
	h := newHarness(t, "", "")
	h.server.loadResult = &webapi.AutosaveResult{
		Available: true,
		Desc:      "Restored autosave",
		Fields:    map[string]string{"comp-title": "Recovered", "comp-desc": "<p>Recovered</p>"},
	}

	h.sched.Start(context.Background())

	loads, checks, _ := h.server.counts()
	require.Equal(t, 1, loads)
	require.Zero(t, checks)
	require.Equal(t, "Recovered", h.title.Value())
	require.Equal(t, "<p>Recovered</p>", h.editor.GetData())
	require.False(t, h.store.Changed(), "restored values become last-saved")
	require.Equal(t, AwaitingTimer, h.sched.State())
	require.Equal(t, 1, h.clock.Pending())

	_, ok := h.events.Last(status.KindAutosaveAvailable)
	require.True(t, ok)
	msg, _ := h.events.Last(status.KindMessage)
	require.Equal(t, "Restored autosave", msg.Message)
}

func TestStartWithContentChecksAutosave(t *testing.T) {
	h := newHarness(t, "Budget", "<p>Draft</p>")

	h.sched.Start(context.Background())

	loads, checks, saves := h.server.counts()
	require.Zero(t, loads)
	require.Equal(t, 1, checks)
	require.Zero(t, saves)
	require.Equal(t, "Budget", h.store.LastSaved()["comp-title"])
	require.Equal(t, 1, h.clock.Pending())
}

func TestTimerWithoutChangesOnlyChecks(t *testing.T) {
	h := newHarness(t, "Budget", "<p>Draft</p>")
	h.sched.Start(context.Background())

	h.clock.Advance(delay)

	_, checks, saves := h.server.counts()
	require.Zero(t, saves)
	require.Equal(t, 2, checks)
	require.Equal(t, 1, h.gate.calls)
	require.Equal(t, 1, h.clock.Pending(), "timer re-armed")
	require.False(t, h.sched.IsSaving())
}

func TestTimerSavesChangedFields(t *testing.T) {
	h := newHarness(t, "Budget", "<p>Draft</p>")
	h.sched.Start(context.Background())

	h.editor.SetData("<p>Draft, revised</p>")
	h.clock.Advance(delay)

	h.server.mu.Lock()
	require.Len(t, h.server.saves, 1)
	require.Equal(t, "<p>Draft, revised</p>", h.server.saves[0]["comp-desc"])
	_, sentSumm := h.server.saves[0]["comp-summ"]
	h.server.mu.Unlock()
	require.False(t, sentSumm, "missing fields are not sent")

	require.False(t, h.store.Changed())
	require.Equal(t, 1, h.clock.Pending())
	msg, _ := h.events.Last(status.KindMessage)
	require.Equal(t, "Autosave stored", msg.Message)
}

func TestFailedSaveKeepsSnapshotAndRearms(t *testing.T) {
	h := newHarness(t, "Budget", "<p>Draft</p>")
	h.sched.Start(context.Background())
	h.server.saveErr = &webapi.APIError{Operation: "webapi/auto.save", Info: "Autosave storage is full"}

	h.title.SetValue("Budget vote")
	err := h.sched.Save(context.Background(), false)

	var apiErr *webapi.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "Budget", h.store.LastSaved()["comp-title"])
	require.True(t, h.store.Changed())
	require.False(t, h.sched.IsSaving())
	require.Equal(t, 1, h.clock.Pending())

	evt, ok := h.events.Last(status.KindError)
	require.True(t, ok)
	require.Equal(t, "Autosave storage is full", evt.Message)

	h.server.saveErr = nil
	h.clock.Advance(delay)
	_, _, saves := h.server.counts()
	require.Equal(t, 2, saves, "next tick retries")
	require.False(t, h.store.Changed())
}

func TestTransportFailureClearsInFlightFlag(t *testing.T) {
	h := newHarness(t, "Budget", "<p>Draft</p>")
	h.sched.Start(context.Background())
	h.server.saveErr = &webapi.TransportError{Operation: "webapi/auto.save", Status: "503 Service Unavailable"}

	err := h.sched.Save(context.Background(), true)

	require.Error(t, err)
	require.False(t, h.sched.IsSaving())
	evt, _ := h.events.Last(status.KindError)
	require.Equal(t, "Request failed:503 Service Unavailable", evt.Message)
}

func TestManualSaveForcesUnchangedFields(t *testing.T) {
	h := newHarness(t, "Budget", "<p>Draft</p>")
	h.sched.Start(context.Background())

	require.NoError(t, h.sched.Save(context.Background(), true))

	_, _, saves := h.server.counts()
	require.Equal(t, 1, saves)
}

func TestOnlyOneSaveInFlight(t *testing.T) {
	h := newHarness(t, "Budget", "<p>Draft</p>")
	h.sched.Start(context.Background())
	h.server.block = make(chan struct{})
	h.server.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- h.sched.Save(context.Background(), true) }()
	<-h.server.entered
	require.Equal(t, Saving, h.sched.State())

	require.ErrorIs(t, h.sched.Save(context.Background(), true), ErrSaveInFlight)
	h.title.SetValue("changed while saving")
	h.sched.Schedule()
	h.clock.Advance(delay)

	close(h.server.block)
	require.NoError(t, <-done)

	_, _, saves := h.server.counts()
	require.Equal(t, 1, saves)
	require.False(t, h.sched.IsSaving())
	require.True(t, h.store.Changed(), "edits made during the save are still pending")
}

func TestLoadCancelsTimerAndRearms(t *testing.T) {
	h := newHarness(t, "Budget", "<p>Draft</p>")
	h.sched.Start(context.Background())
	h.clock.Advance(delay / 2)

	require.NoError(t, h.sched.Load(context.Background()))

	require.Equal(t, 1, h.clock.Pending())
	h.clock.Advance(delay / 2)
	_, checks, _ := h.server.counts()
	require.Equal(t, 1, checks, "original timer must not fire")
	h.clock.Advance(delay / 2)
	_, checks, _ = h.server.counts()
	require.Equal(t, 2, checks)
}

func TestViewSavesThenPreviews(t *testing.T) {
	h := newHarness(t, "Budget", "<p>Draft</p>")
	h.sched.Start(context.Background())

	require.NoError(t, h.sched.View(context.Background()))

	_, _, saves := h.server.counts()
	require.Equal(t, 1, saves)
	require.Len(t, h.preview, 1)
	require.Equal(t, "Budget", h.preview[0]["comp-title"])
}

func TestGateFailureSkipsSaveAndRearms(t *testing.T) {
	h := newHarness(t, "Budget", "<p>Draft</p>")
	h.sched.Start(context.Background())
	h.gate.err = webapi.ErrLoginCancelled
	h.title.SetValue("Budget vote")

	h.clock.Advance(delay)

	_, _, saves := h.server.counts()
	require.Zero(t, saves)
	require.Equal(t, 1, h.clock.Pending())
	require.True(t, errors.Is(h.sched.Save(context.Background(), false), webapi.ErrLoginCancelled))
}

func TestWaitIdleBlocksUntilSaveCompletes(t *testing.T) {
	h := newHarness(t, "Budget", "<p>Draft</p>")
	h.sched.Start(context.Background())
	require.NoError(t, h.sched.WaitIdle(context.Background()))

	h.server.block = make(chan struct{})
	h.server.entered = make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- h.sched.Save(context.Background(), true) }()
	<-h.server.entered

	short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, h.sched.WaitIdle(short), context.DeadlineExceeded)

	waited := make(chan error, 1)
	go func() { waited <- h.sched.WaitIdle(context.Background()) }()
	close(h.server.block)
	require.NoError(t, <-done)
	require.NoError(t, <-waited)
	require.False(t, h.sched.IsSaving())

	h.server.mu.Lock()
	h.server.block, h.server.entered = nil, nil
	h.server.mu.Unlock()
	h.title.SetValue("edited after save")
	require.NoError(t, h.sched.Save(context.Background(), false))
	_, _, saves := h.server.counts()
	require.Equal(t, 2, saves)
}

func TestScheduleKeepsSingleTimer(t *testing.T) {
	h := newHarness(t, "Budget", "<p>Draft</p>")
	for i := 0; i < 5; i++ {
		h.sched.Schedule()
	}
	require.Equal(t, 1, h.clock.Pending())

	h.sched.Cancel()
	require.Zero(t, h.clock.Pending())
	require.Equal(t, Idle, h.sched.State())
}

func TestStopPreventsRearm(t *testing.T) {
	h := newHarness(t, "Budget", "<p>Draft</p>")
	h.sched.Start(context.Background())
	h.sched.Stop()
	h.sched.Schedule()
	require.Zero(t, h.clock.Pending())
}

func TestRealClockStopLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := fields.NewRegistry()
	reg.Bind("comp-title", fields.NewTextInput("Budget"))
	store := fields.NewStore(reg, []string{"comp-title"})
	server := &fakeServer{}
	sched := New(store, server, nil, Config{Delay: 5 * time.Millisecond})

	sched.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	sched.Stop()
	time.Sleep(10 * time.Millisecond)

	_, checks, _ := server.counts()
	require.GreaterOrEqual(t, checks, 2)
}
