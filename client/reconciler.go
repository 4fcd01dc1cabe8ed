package client

import (
	"context"
	"sort"

	"roster-api/models"
	"roster-api/pkg/events"

	"github.com/cenkalti/backoff/v4"
)

// ConnState is the reconciler's connection lifecycle state.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Subscribed
)

// RosterView is the local cached view of one event. Attendees is keyed by
// user id, so optimistic edits, confirmations and broadcast deltas all reduce
// to idempotent map operations. Stale marks a view retained across a
// disconnect that must not be trusted until the next snapshot.
type RosterView struct {
	EventID   string
	Name      string
	Location  string
	StartTime string
	Attendees map[int]models.UserRef
	Pending   map[int]bool
	Stale     bool
}

func (v *RosterView) snapshot() models.Event {
	refs := make([]models.UserRef, 0, len(v.Attendees))
	for _, u := range v.Attendees {
		refs = append(refs, u)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return models.Event{
		ID:        v.EventID,
		Name:      v.Name,
		Location:  v.Location,
		StartTime: v.StartTime,
		Attendees: refs,
	}
}

// Reconciler merges server snapshots, mutation confirmations and inbound
// broadcast deltas into one consistent roster view per event. All state is mutated on a single goroutine (the Run loop);
// public methods hand work to that goroutine through the inbox, so no
// locking is needed and inputs are processed strictly in arrival order.
//
// The identity acting through this reconciler is constructor input, and the
// push connection is owned by the reconciler itself (see conn.go); neither is
// ambient global state, so multiple reconcilers can coexist in one process.
type Reconciler struct {
	api   *API
	self  models.UserRef
	views map[string]*RosterView
	state ConnState
	inbox chan func()

	// newBackOff builds the retry policy for one subscribe attempt cycle.
	newBackOff func() backoff.BackOff

	connLifecycle

	// OnChange is invoked on the run goroutine after any view change.
	OnChange func()
	// OnError is invoked on the run goroutine when a mutation is rejected
	// and its optimistic edit has been reverted.
	OnError func(eventID string, err error)
}

// NewReconciler creates a reconciler acting as self through api.
func NewReconciler(api *API, self models.UserRef) *Reconciler {
	return &Reconciler{
		api:        api,
		self:       self,
		views:      make(map[string]*RosterView),
		state:      Disconnected,
		inbox:      make(chan func(), 64),
		newBackOff: defaultBackOff,
	}
}

// Run processes the reconciler's inputs until ctx is cancelled. It must be
// running for any public method to make progress.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-r.inbox:
			f()
		}
	}
}

func (r *Reconciler) do(f func()) { r.inbox <- f }

func (r *Reconciler) changed() {
	if r.OnChange != nil {
		r.OnChange()
	}
}

// Events returns a stable snapshot of every local view, ordered by event id.
func (r *Reconciler) Events() []models.Event {
	out := make(chan []models.Event, 1)
	r.do(func() {
		evs := make([]models.Event, 0, len(r.views))
		for _, v := range r.views {
			evs = append(evs, v.snapshot())
		}
		sort.Slice(evs, func(i, j int) bool { return evs[i].ID < evs[j].ID })
		out <- evs
	})
	return <-out
}

// State reports the current connection state.
func (r *Reconciler) State() ConnState {
	out := make(chan ConnState, 1)
	r.do(func() { out <- r.state })
	return <-out
}

// Join optimistically adds self to the event's local view, then issues the
// mutation. On rejection the optimistic edit is reverted and OnError fires.
func (r *Reconciler) Join(eventID string) {
	r.do(func() {
		r.optimisticJoin(eventID)
		go func() {
			_, err := r.api.JoinEvent(eventID)
			r.do(func() { r.confirmJoin(eventID, err) })
		}()
	})
}

// Leave optimistically removes self from the event's local view, then issues
// the mutation, reverting on rejection.
func (r *Reconciler) Leave(eventID string) {
	r.do(func() {
		r.optimisticLeave(eventID)
		go func() {
			_, err := r.api.LeaveEvent(eventID)
			r.do(func() { r.confirmLeave(eventID, err) })
		}()
	})
}

// CreateEvent issues the mutation; the resulting event reaches the local view
// through the mutation response and, idempotently, the broadcast echo.
func (r *Reconciler) CreateEvent(name, location, startTime string) {
	go func() {
		ev, err := r.api.CreateEvent(name, location, startTime)
		r.do(func() {
			if err != nil {
				if r.OnError != nil {
					r.OnError("", err)
				}
				return
			}
			r.upsertView(ev)
			r.changed()
		})
	}()
}

// --- apply paths; every method below runs on the run goroutine ---

func (r *Reconciler) upsertView(ev models.Event) *RosterView {
	v, ok := r.views[ev.ID]
	if !ok {
		v = &RosterView{
			EventID:   ev.ID,
			Name:      ev.Name,
			Location:  ev.Location,
			StartTime: ev.StartTime,
			Attendees: make(map[int]models.UserRef, len(ev.Attendees)),
			Pending:   make(map[int]bool),
		}
		for _, u := range ev.Attendees {
			v.Attendees[u.ID] = u
		}
		r.views[ev.ID] = v
	}
	return v
}

// applySnapshot replaces every view wholesale with the server's list result,
// clears pending optimistic edits and marks the reconciler subscribed.
// Snapshots supersede any delta that arrived before them.
func (r *Reconciler) applySnapshot(evs []models.Event) {
	r.views = make(map[string]*RosterView, len(evs))
	for _, ev := range evs {
		r.upsertView(ev)
	}
	r.state = Subscribed
	r.changed()
}

func (r *Reconciler) setConnecting() {
	r.state = Connecting
}

// markDisconnected retains the views for instant redisplay but flags them
// stale until the next snapshot apply.
func (r *Reconciler) markDisconnected() {
	r.state = Disconnected
	for _, v := range r.views {
		v.Stale = true
	}
	r.changed()
}

func (r *Reconciler) optimisticJoin(eventID string) {
	v, ok := r.views[eventID]
	if !ok {
		return
	}
	v.Attendees[r.self.ID] = r.self
	v.Pending[r.self.ID] = true
	r.changed()
}

func (r *Reconciler) confirmJoin(eventID string, err error) {
	v, ok := r.views[eventID]
	if !ok {
		return
	}
	delete(v.Pending, r.self.ID)
	if err != nil {
		// Revert the optimistic insert and surface the rejection.
		delete(v.Attendees, r.self.ID)
		r.changed()
		if r.OnError != nil {
			r.OnError(eventID, err)
		}
		return
	}
	r.changed()
}

func (r *Reconciler) optimisticLeave(eventID string) {
	v, ok := r.views[eventID]
	if !ok {
		return
	}
	delete(v.Attendees, r.self.ID)
	v.Pending[r.self.ID] = true
	r.changed()
}

func (r *Reconciler) confirmLeave(eventID string, err error) {
	v, ok := r.views[eventID]
	if !ok {
		return
	}
	delete(v.Pending, r.self.ID)
	if err != nil {
		// Revert the optimistic removal.
		v.Attendees[r.self.ID] = r.self
		r.changed()
		if r.OnError != nil {
			r.OnError(eventID, err)
		}
		return
	}
	r.changed()
}

// applyDelta merges one broadcast change descriptor. Each case is an
// idempotent set operation, never a wholesale overwrite, so deltas compose
// with concurrent edits and duplicate pushes (including the sender's own
// echo) are harmless. Deltas that arrive before the reconciler is subscribed
// are dropped: the pending snapshot supersedes them.
func (r *Reconciler) applyDelta(msg events.Message) {
	if r.state != Subscribed {
		return
	}
	switch msg.Type {
	case events.TypeEventCreated:
		if msg.Event == nil {
			return
		}
		r.upsertView(*msg.Event)
		r.changed()
	case events.TypeEventJoined:
		v, ok := r.views[msg.EventID]
		if !ok {
			return
		}
		v.Attendees[msg.UserID] = models.UserRef{ID: msg.UserID, Name: msg.UserName}
		r.changed()
	case events.TypeEventLeft:
		v, ok := r.views[msg.EventID]
		if !ok {
			return
		}
		delete(v.Attendees, msg.UserID)
		r.changed()
	}
}
