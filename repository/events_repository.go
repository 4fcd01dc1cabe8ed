package repository

import (
	"database/sql"

	"roster-api/models"
)

// EventsRepository is the durable backend for the roster store. All writes
// arrive already linearized per event, so plain statements are sufficient;
// ON CONFLICT guards only protect against replays after a crash between the
// database write and the in-memory commit.
type EventsRepository struct {
	db *sql.DB
}

func NewEventsRepository(db *sql.DB) *EventsRepository {
	return &EventsRepository{db: db}
}

func (r *EventsRepository) SaveEvent(ev models.Event) error {
	_, err := r.db.Exec(`
		INSERT INTO event (id, name, location, start_time, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, ev.Name, ev.Location, ev.StartTime, ev.CreatedAt)
	return err
}

func (r *EventsRepository) AddAttendee(eventID string, user models.UserRef) error {
	_, err := r.db.Exec(`
		INSERT INTO event_attendee (event_id, user_id, user_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id, user_id) DO NOTHING
	`, eventID, user.ID, user.Name)
	return err
}

func (r *EventsRepository) RemoveAttendee(eventID string, userID int) error {
	_, err := r.db.Exec(`
		DELETE FROM event_attendee
		WHERE event_id = $1 AND user_id = $2
	`, eventID, userID)
	return err
}

// LoadAll returns every persisted event with its attendee roster, used to
// seed the in-memory store at startup.
func (r *EventsRepository) LoadAll() ([]models.Event, error) {
	rows, err := r.db.Query(`
		SELECT id, name, location, start_time, created_at
		FROM event
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.Event
	index := make(map[string]int)
	for rows.Next() {
		var ev models.Event
		if err := rows.Scan(&ev.ID, &ev.Name, &ev.Location, &ev.StartTime, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Attendees = []models.UserRef{}
		index[ev.ID] = len(result)
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	attRows, err := r.db.Query(`
		SELECT event_id, user_id, user_name
		FROM event_attendee
		ORDER BY event_id, user_id
	`)
	if err != nil {
		return nil, err
	}
	defer attRows.Close()

	for attRows.Next() {
		var eventID string
		var ref models.UserRef
		if err := attRows.Scan(&eventID, &ref.ID, &ref.Name); err != nil {
			return nil, err
		}
		if i, ok := index[eventID]; ok {
			result[i].Attendees = append(result[i].Attendees, ref)
		}
	}
	if err := attRows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
