package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"roster-api/models"
	"roster-api/pkg/events"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a mutation targets an unknown event id.
	ErrNotFound = errors.New("event not found")
	// ErrValidation is returned when an event spec is malformed. It never
	// reaches the persistence layer.
	ErrValidation = errors.New("invalid event")
)

// Publisher receives change descriptors for committed mutations. The store
// calls it inside the per-event critical section, so descriptors for a single
// event arrive in commit order; the publisher must hand them off without
// blocking on subscriber progress.
type Publisher interface {
	Publish(msg events.Message)
}

// Persister is the durable backend behind the in-memory roster. It is keyed
// by event id and called inside the per-event critical section, so writes for
// a single event are applied in commit order. A nil Persister means
// memory-only operation (used by tests).
type Persister interface {
	SaveEvent(ev models.Event) error
	AddAttendee(eventID string, user models.UserRef) error
	RemoveAttendee(eventID string, userID int) error
}

// eventState holds one event and its attendee set. mu linearizes mutations
// of this event only; mutations of distinct events never contend on it.
type eventState struct {
	mu        sync.Mutex
	id        string
	name      string
	location  string
	startTime string
	createdAt time.Time
	attendees map[int]models.UserRef
}

// snapshot must be called with st.mu held.
func (st *eventState) snapshot() models.Event {
	refs := make([]models.UserRef, 0, len(st.attendees))
	for _, u := range st.attendees {
		refs = append(refs, u)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return models.Event{
		ID:        st.id,
		Name:      st.name,
		Location:  st.location,
		StartTime: st.startTime,
		Attendees: refs,
		CreatedAt: st.createdAt,
	}
}

// Roster is the authoritative event roster store. The outer RWMutex guards
// only the event map; membership mutations take the per-event lock, so
// concurrent join/leave calls on the same event are linearized while calls
// on distinct events proceed in parallel.
type Roster struct {
	mu        sync.RWMutex
	events    map[string]*eventState
	persister Persister
	publisher Publisher
}

// New creates an empty roster store. persister may be nil.
func New(persister Persister) *Roster {
	return &Roster{
		events:    make(map[string]*eventState),
		persister: persister,
	}
}

// WithPublisher attaches the fanout that receives change descriptors in
// commit order.
func (r *Roster) WithPublisher(p Publisher) *Roster {
	r.publisher = p
	return r
}

func (r *Roster) publish(msg events.Message) {
	if r.publisher != nil {
		r.publisher.Publish(msg)
	}
}

// Seed loads previously persisted events into the store. Intended for
// startup only, before the store is shared.
func (r *Roster) Seed(evs []models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range evs {
		st := &eventState{
			id:        ev.ID,
			name:      ev.Name,
			location:  ev.Location,
			startTime: ev.StartTime,
			createdAt: ev.CreatedAt,
			attendees: make(map[int]models.UserRef, len(ev.Attendees)),
		}
		for _, u := range ev.Attendees {
			st.attendees[u.ID] = u
		}
		r.events[ev.ID] = st
	}
}

// EventSpec is the caller-supplied shape of a new event.
type EventSpec struct {
	Name      string
	Location  string
	StartTime string
}

// CreateEvent validates the spec, assigns a fresh id and commits the event
// with an empty attendee set.
func (r *Roster) CreateEvent(spec EventSpec) (models.Event, error) {
	if spec.Name == "" {
		return models.Event{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if spec.Location == "" {
		return models.Event{}, fmt.Errorf("%w: location is required", ErrValidation)
	}
	if spec.StartTime == "" {
		return models.Event{}, fmt.Errorf("%w: startTime is required", ErrValidation)
	}

	st := &eventState{
		id:        uuid.NewString(),
		name:      spec.Name,
		location:  spec.Location,
		startTime: spec.StartTime,
		createdAt: time.Now().UTC(),
		attendees: make(map[int]models.UserRef),
	}
	snap := models.Event{
		ID:        st.id,
		Name:      st.name,
		Location:  st.location,
		StartTime: st.startTime,
		Attendees: []models.UserRef{},
		CreatedAt: st.createdAt,
	}
	if r.persister != nil {
		if err := r.persister.SaveEvent(snap); err != nil {
			return models.Event{}, err
		}
	}

	// Publish before releasing the map lock: no join can observe the event
	// until then, so its Created descriptor precedes any Joined for it.
	r.mu.Lock()
	r.events[st.id] = st
	r.publish(events.NewEventCreated(snap))
	r.mu.Unlock()
	return snap, nil
}

func (r *Roster) lookup(eventID string) (*eventState, error) {
	r.mu.RLock()
	st, ok := r.events[eventID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}

// Join adds user to the event's attendee set. It is idempotent: joining an
// event the user already attends returns the current snapshot with
// changed=false and publishes nothing. An actual change publishes its
// descriptor while the per-event lock is still held, so descriptors for one
// event always leave the store in commit order.
func (r *Roster) Join(eventID string, user models.UserRef) (models.Event, bool, error) {
	st, err := r.lookup(eventID)
	if err != nil {
		return models.Event{}, false, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if _, present := st.attendees[user.ID]; present {
		return st.snapshot(), false, nil
	}
	if r.persister != nil {
		if err := r.persister.AddAttendee(eventID, user); err != nil {
			return models.Event{}, false, err
		}
	}
	st.attendees[user.ID] = user
	r.publish(events.NewEventJoined(eventID, user))
	return st.snapshot(), true, nil
}

// Leave removes the user from the event's attendee set. Removing an absent
// member is a no-op: current snapshot, changed=false, no error, no
// descriptor. Like Join, a real removal publishes under the per-event lock.
func (r *Roster) Leave(eventID string, userID int) (models.Event, bool, error) {
	st, err := r.lookup(eventID)
	if err != nil {
		return models.Event{}, false, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if _, present := st.attendees[userID]; !present {
		return st.snapshot(), false, nil
	}
	user := st.attendees[userID]
	if r.persister != nil {
		if err := r.persister.RemoveAttendee(eventID, userID); err != nil {
			return models.Event{}, false, err
		}
	}
	delete(st.attendees, userID)
	r.publish(events.NewEventLeft(eventID, user))
	return st.snapshot(), true, nil
}

// Get returns a point-in-time snapshot of a single event.
func (r *Roster) Get(eventID string) (models.Event, error) {
	st, err := r.lookup(eventID)
	if err != nil {
		return models.Event{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshot(), nil
}

// List returns a snapshot of every event, ordered by creation time. Each
// event's roster is point-in-time consistent; the list as a whole is not
// consistent across events.
func (r *Roster) List() []models.Event {
	r.mu.RLock()
	states := make([]*eventState, 0, len(r.events))
	for _, st := range r.events {
		states = append(states, st)
	}
	r.mu.RUnlock()

	out := make([]models.Event, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, st.snapshot())
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
