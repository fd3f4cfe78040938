package syncx

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/mind-engage/mindengage-placement/internal/db"
)

const (
	TypeAssessmentCompleted  = "assessment.completed"
	TypeAssessmentCancelled  = "assessment.cancelled"
	TypeCalibrationReport    = "calibration.report"
	TypeQuestionReclassified = "question.reclassified"
	TypeQuestionsImported    = "questions.imported"
)

type Event struct {
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"created_at"`
}

// Appender records domain events after a state change has been committed.
type Appender interface {
	Append(ctx context.Context, typ, key string, data any) error
}

// Feed reads events in log order for downstream consumers.
type Feed interface {
	Since(ctx context.Context, seq int64, limit int) ([]Event, error)
}

type EventRepo struct {
	db     *sql.DB
	driver db.Driver
}

func NewEventRepo(h *sql.DB, driver db.Driver) *EventRepo { return &EventRepo{db: h, driver: driver} }

func (r *EventRepo) Append(ctx context.Context, typ, key string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, db.Rebind(r.driver,
		`INSERT INTO event_log (typ, key, data, created_at) VALUES (?,?,?,?)`),
		typ, key, string(raw), time.Now().Unix())
	return err
}

// Since returns events after seq in log order.
func (r *EventRepo) Since(ctx context.Context, seq int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, db.Rebind(r.driver,
		`SELECT seq, typ, key, data, created_at FROM event_log WHERE seq > ? ORDER BY seq LIMIT ?`), seq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var data string
		if err := rows.Scan(&e.Seq, &e.Type, &e.Key, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}

// MemoryLog keeps events in process. Used by tests and the in-memory store.
type MemoryLog struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemoryLog) Append(_ context.Context, typ, key string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{
		Seq: int64(len(m.events) + 1), Type: typ, Key: key, Data: raw, CreatedAt: time.Now().Unix(),
	})
	return nil
}

func (m *MemoryLog) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Types lists the recorded event types in order.
func (m *MemoryLog) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

func (m *MemoryLog) Since(_ context.Context, seq int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Seq > seq {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
