// Package syncer runs the per-session save loop. Each connected session owns
// one Scheduler: local edits are broadcast to peers immediately, debounced
// into a conditional write, and reconciled against whatever the rest of the
// room has persisted in the meantime. The scheduler never merges concurrent
// edits; the concurrency controller's check-and-set is the safety net, the
// scheduler just decides when to push and how to recover.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"notehub/internal/control"
	"notehub/internal/etag"
	"notehub/internal/event"
	"notehub/internal/logging"
	"notehub/internal/relay"
	"notehub/internal/store"
)

// Scheduler states.
const (
	StateClean    = "clean"
	StateDirty    = "dirty"
	StateSaving   = "saving"
	StateConflict = "conflict"
	StateError    = "error"
)

// Machine events.
const (
	eventEdit     = "edit"
	eventFlush    = "flush"
	eventSaved    = "saved"
	eventConflict = "conflict"
	eventFail     = "fail"
	eventReload   = "reload"
)

// Policy decides what happens when a peer's update arrives while this
// session holds unsaved edits.
type Policy string

const (
	// PreferLocal keeps local edits until the in-flight save resolves; a
	// stale save then surfaces as a conflict.
	PreferLocal Policy = "prefer_local"
	// PreferRemote adopts the peer's content outright, dropping pending
	// local edits.
	PreferRemote Policy = "prefer_remote"
)

// Options tune the scheduler's timers and reconciliation policy.
type Options struct {
	// Debounce is the quiet period after the last edit before a save.
	Debounce time.Duration
	// Tick is the interval of the periodic retry loop.
	Tick time.Duration
	// SaveTimeout is how long a save may stay in flight before the tick
	// considers it stuck and re-attempts.
	SaveTimeout time.Duration
	// RemoteUpdates picks the reconciliation policy for unsaved edits.
	RemoteUpdates Policy
}

// withDefaults fills unset options.
func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = time.Second
	}
	if o.Tick <= 0 {
		o.Tick = 30 * time.Second
	}
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = 10 * time.Second
	}
	if o.RemoteUpdates == "" {
		o.RemoteUpdates = PreferLocal
	}
	return o
}

// Scheduler drives one session's edits toward the store.
type Scheduler struct {
	sessionID string
	ctrl      *control.Controller
	fan       relay.Fanout
	notify    func(event.Event) // session-directed events (conflicts, reloads)
	opts      Options
	log       *zap.SugaredLogger

	mu          sync.Mutex
	machine     *fsm.FSM
	noteID      string
	content     string
	lastTag     string
	pendingEdit bool
	savingSince time.Time
	saveGen     uint64
	debounce    *time.Timer

	done     chan struct{}
	stopOnce sync.Once
}

// New builds a scheduler for the session and starts its periodic tick.
// notify receives events addressed to this session only; it must not block.
func New(sessionID string, ctrl *control.Controller, fan relay.Fanout, notify func(event.Event), opts Options) *Scheduler {
	s := &Scheduler{
		sessionID: sessionID,
		ctrl:      ctrl,
		fan:       fan,
		notify:    notify,
		opts:      opts.withDefaults(),
		log:       logging.For("syncer").With("session", sessionID),
		done:      make(chan struct{}),
	}
	s.machine = fsm.NewFSM(
		StateClean,
		fsm.Events{
			{Name: eventEdit, Src: []string{StateClean, StateDirty, StateError}, Dst: StateDirty},
			{Name: eventFlush, Src: []string{StateDirty, StateError}, Dst: StateSaving},
			{Name: eventSaved, Src: []string{StateSaving}, Dst: StateClean},
			{Name: eventConflict, Src: []string{StateSaving}, Dst: StateConflict},
			{Name: eventFail, Src: []string{StateSaving}, Dst: StateError},
			{Name: eventReload, Src: []string{StateClean, StateDirty, StateSaving, StateConflict, StateError}, Dst: StateClean},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.log.Debugw("state change", "from", e.Src, "to", e.Dst, "event", e.Event)
			},
		},
	)
	go s.tickLoop()
	return s
}

// State returns the current machine state.
func (s *Scheduler) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Current()
}

// Note returns the note this scheduler currently targets.
func (s *Scheduler) Note() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noteID
}

// Join targets the scheduler at a note, forgetting timers and state for the
// previous one, and returns the note's current snapshot. An absent note
// reads as empty content with no tag.
func (s *Scheduler) Join(ctx context.Context, noteID string) (control.Snapshot, error) {
	snap, err := s.ctrl.Read(ctx, noteID)
	if errors.Is(err, store.ErrNotFound) {
		snap = control.Snapshot{Content: "", Tag: etag.None}
	} else if err != nil {
		return control.Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopDebounceLocked()
	s.noteID = noteID
	s.content = snap.Content
	s.lastTag = snap.Tag
	s.pendingEdit = false
	s.forceCleanLocked(ctx)
	return snap, nil
}

// Edit records a local content change. The raw edit is broadcast to peers
// right away so they can render live changes ahead of persistence; the save
// itself waits for the debounce window to close.
func (s *Scheduler) Edit(ctx context.Context, content string) {
	s.mu.Lock()
	noteID := s.noteID
	if noteID == "" {
		s.mu.Unlock()
		s.log.Warnw("edit before join, dropping")
		return
	}
	s.content = content

	switch s.machine.Current() {
	case StateSaving:
		// An in-flight save is never canceled; re-dirty once it resolves.
		s.pendingEdit = true
	case StateConflict:
		// Content is kept, but the conflict stands until a reload.
	default:
		if err := s.machine.Event(ctx, eventEdit); err != nil {
			s.log.Errorw("edit transition", "error", err)
		}
		s.resetDebounceLocked()
	}
	s.mu.Unlock()

	s.fan.Publish(noteID, event.NewUpdate(content, s.sessionID), s.sessionID)
}

// Flush attempts the conditional save immediately. Exposed for the debounce
// timer, the periodic tick and tests.
func (s *Scheduler) Flush(ctx context.Context) {
	s.mu.Lock()
	state := s.machine.Current()
	if state != StateDirty && state != StateError {
		s.mu.Unlock()
		return
	}
	if err := s.machine.Event(ctx, eventFlush); err != nil {
		s.mu.Unlock()
		s.log.Errorw("flush transition", "error", err)
		return
	}
	noteID, content, tag := s.noteID, s.content, s.lastTag
	s.savingSince = time.Now()
	s.saveGen++
	gen := s.saveGen
	s.mu.Unlock()

	commit, err := s.ctrl.Write(ctx, noteID, content, tag, true)
	s.settle(ctx, noteID, gen, commit, err)
}

// settle applies a completed save's result. The save is allowed to finish
// even if the session has since switched notes or disconnected; the commit
// broadcast still reaches whatever members remain. A save abandoned by the
// stuck-save tick settles only its broadcast: gen no longer matches, so the
// retry attempt owns the machine.
func (s *Scheduler) settle(ctx context.Context, noteID string, gen uint64, commit control.Commit, err error) {
	var conflict *control.ConflictError

	switch {
	case err == nil:
		s.fan.Publish(noteID, event.NewSaved(commit.Tag, commit.UpdatedAt.UnixMilli()), "")
	case errors.As(err, &conflict):
	default:
		s.log.Warnw("save failed", "note", noteID, "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.noteID != noteID || gen != s.saveGen || !s.machine.Is(StateSaving) {
		return
	}

	switch {
	case err == nil:
		s.lastTag = commit.Tag
		if ferr := s.machine.Event(ctx, eventSaved); ferr != nil {
			s.log.Errorw("saved transition", "error", ferr)
		}
		if s.pendingEdit {
			s.pendingEdit = false
			if ferr := s.machine.Event(ctx, eventEdit); ferr != nil {
				s.log.Errorw("pending edit transition", "error", ferr)
			}
			s.resetDebounceLocked()
		}
	case conflict != nil:
		if ferr := s.machine.Event(ctx, eventConflict); ferr != nil {
			s.log.Errorw("conflict transition", "error", ferr)
		}
		s.notify(event.NewConflict(conflict.CurrentTag))
	default:
		if ferr := s.machine.Event(ctx, eventFail); ferr != nil {
			s.log.Errorw("fail transition", "error", ferr)
		}
	}
}

// OnRemoteUpdate handles a peer's live edit. In clean state the remote
// content replaces local bookkeeping outright; with unsaved edits the
// configured policy decides.
func (s *Scheduler) OnRemoteUpdate(ctx context.Context, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.machine.Current() {
	case StateClean:
		s.content = content
	case StateDirty, StateSaving:
		if s.opts.RemoteUpdates != PreferRemote {
			return
		}
		s.content = content
		s.pendingEdit = false
		s.stopDebounceLocked()
		s.forceCleanLocked(ctx)
	}
}

// OnRemoteSaved handles a peer's commit notification. A clean session just
// adopts the new tag; a conflicted session reloads the note and resets.
func (s *Scheduler) OnRemoteSaved(ctx context.Context, tag string) {
	s.mu.Lock()
	state := s.machine.Current()
	noteID := s.noteID
	switch state {
	case StateClean:
		s.lastTag = tag
		s.mu.Unlock()
		return
	case StateConflict:
		s.mu.Unlock()
	default:
		// Dirty or saving: our own save will hit the conflict path and
		// reconcile there.
		s.mu.Unlock()
		return
	}

	s.Reload(ctx, noteID)
}

// Reload re-reads the note and resets the scheduler to clean with the fresh
// content and tag. The fresh content is pushed to this session's client.
func (s *Scheduler) Reload(ctx context.Context, noteID string) {
	snap, err := s.ctrl.Read(ctx, noteID)
	if errors.Is(err, store.ErrNotFound) {
		snap = control.Snapshot{Content: "", Tag: etag.None}
	} else if err != nil {
		s.log.Warnw("reload failed", "note", noteID, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.noteID != noteID {
		return
	}
	s.content = snap.Content
	s.lastTag = snap.Tag
	s.pendingEdit = false
	s.stopDebounceLocked()
	s.forceCleanLocked(ctx)
	s.notify(event.NewUpdate(snap.Content, ""))
}

// Stop cancels the timers. An in-flight save is left to complete; its result
// is still applied and broadcast.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.stopDebounceLocked()
		s.mu.Unlock()
	})
}

func (s *Scheduler) tickLoop() {
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.tick(context.Background())
		}
	}
}

// tick re-attempts the save for dirty, failed, or stuck-saving sessions.
// No-op when clean.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	switch s.machine.Current() {
	case StateDirty, StateError:
		s.mu.Unlock()
		s.Flush(ctx)
	case StateSaving:
		if time.Since(s.savingSince) < s.opts.SaveTimeout {
			s.mu.Unlock()
			return
		}
		s.log.Warnw("save stuck past timeout, retrying", "note", s.noteID)
		// Abandon the stuck attempt; the retry bumps the generation, so a
		// late result from the old one cannot settle the machine.
		s.machine.SetState(StateDirty)
		s.mu.Unlock()
		s.Flush(ctx)
	default:
		s.mu.Unlock()
	}
}

// resetDebounceLocked (re)arms the debounce timer; a newer edit replaces the
// pending one.
func (s *Scheduler) resetDebounceLocked() {
	s.stopDebounceLocked()
	s.debounce = time.AfterFunc(s.opts.Debounce, func() {
		s.Flush(context.Background())
	})
}

func (s *Scheduler) stopDebounceLocked() {
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
}

// forceCleanLocked drives the machine to clean from whatever state it is in.
func (s *Scheduler) forceCleanLocked(ctx context.Context) {
	if s.machine.Is(StateClean) {
		return
	}
	if err := s.machine.Event(ctx, eventReload); err != nil {
		s.log.Errorw("reload transition", "error", err)
		s.machine.SetState(StateClean)
	}
}
