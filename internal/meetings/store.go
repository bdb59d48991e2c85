package meetings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists Meeting records.
type Store interface {
	Create(ctx context.Context, m *Meeting) error
	Get(ctx context.Context, id string) (*Meeting, error)
	ListByScheduledTime(ctx context.Context, at time.Time) ([]*Meeting, error)
	Delete(ctx context.Context, id string) error
	// ListCreatedBefore pages through meetings older than cutoff in
	// (created_at, meeting_id) order, starting after the cursor.
	ListCreatedBefore(ctx context.Context, cutoff time.Time, after Cursor, limit int) ([]*Meeting, error)
}

// Cursor marks the last meeting of a ListCreatedBefore page. The zero value
// starts from the beginning.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorAfter returns the cursor positioned on m.
func CursorAfter(m *Meeting) Cursor {
	return Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

func (c Cursor) precedes(m *Meeting) bool {
	if c.ID == "" && c.CreatedAt.IsZero() {
		return true
	}
	if !m.CreatedAt.Equal(c.CreatedAt) {
		return m.CreatedAt.After(c.CreatedAt)
	}
	return m.ID > c.ID
}

type meetingDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore stores meetings in the meetings table.
type PostgresStore struct {
	db meetingDB
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("meetings: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithDB(db meetingDB) *PostgresStore {
	return &PostgresStore{db: db}
}

const meetingColumns = `meeting_id, owner_id, scheduled_time, access_token, created_at`

func (s *PostgresStore) Create(ctx context.Context, m *Meeting) error {
	query := `
		INSERT INTO meetings (meeting_id, owner_id, scheduled_time, access_token)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	if err := s.db.QueryRow(ctx, query, m.ID, m.OwnerID, m.ScheduledTime.UTC(), m.AccessToken).Scan(&m.CreatedAt); err != nil {
		return fmt.Errorf("meetings: insert meeting: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Meeting, error) {
	return s.scanOne(s.db.QueryRow(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE meeting_id = $1`, id), "get")
}

// ListByScheduledTime returns every meeting at the instant, newest first.
func (s *PostgresStore) ListByScheduledTime(ctx context.Context, at time.Time) ([]*Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE scheduled_time = $1 ORDER BY created_at DESC, meeting_id`
	return s.queryMany(ctx, "list by time", query, at.UTC())
}

func (s *PostgresStore) scanOne(row pgx.Row, op string) (*Meeting, error) {
	var m Meeting
	err := row.Scan(&m.ID, &m.OwnerID, &m.ScheduledTime, &m.AccessToken, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMeetingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("meetings: %s: %w", op, err)
	}
	return &m, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	ct, err := s.db.Exec(ctx, `DELETE FROM meetings WHERE meeting_id = $1`, id)
	if err != nil {
		return fmt.Errorf("meetings: delete meeting: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrMeetingNotFound
	}
	return nil
}

func (s *PostgresStore) ListCreatedBefore(ctx context.Context, cutoff time.Time, after Cursor, limit int) ([]*Meeting, error) {
	query := `
		SELECT ` + meetingColumns + `
		FROM meetings
		WHERE created_at < $1
		  AND (created_at, meeting_id) > ($2, $3)
		ORDER BY created_at, meeting_id
		LIMIT $4
	`
	return s.queryMany(ctx, "list meetings", query, cutoff.UTC(), after.CreatedAt.UTC(), after.ID, limit)
}

func (s *PostgresStore) queryMany(ctx context.Context, op, query string, args ...any) ([]*Meeting, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("meetings: %s: %w", op, err)
	}
	defer rows.Close()

	var out []*Meeting
	for rows.Next() {
		var m Meeting
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.ScheduledTime, &m.AccessToken, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("meetings: scan meeting: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// MemoryStore is an in-process Store. CreateErr and DeleteErr inject faults.
type MemoryStore struct {
	mu        sync.Mutex
	meetings  map[string]*Meeting
	now       func() time.Time
	CreateErr func(attempt int) error
	DeleteErr error
	creates   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{meetings: make(map[string]*Meeting), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, m *Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.CreateErr != nil {
		if err := s.CreateErr(s.creates); err != nil {
			return err
		}
	}
	if _, exists := s.meetings[m.ID]; exists {
		return fmt.Errorf("meetings: meeting %s already exists", m.ID)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	cp := *m
	s.meetings[m.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return nil, ErrMeetingNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListByScheduledTime(_ context.Context, at time.Time) ([]*Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Meeting
	for _, m := range s.meetings {
		if m.ScheduledTime.Equal(at) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	if _, ok := s.meetings[id]; !ok {
		return ErrMeetingNotFound
	}
	delete(s.meetings, id)
	return nil
}

func (s *MemoryStore) ListCreatedBefore(_ context.Context, cutoff time.Time, after Cursor, limit int) ([]*Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Meeting
	for _, m := range s.meetings {
		if m.CreatedAt.Before(cutoff) && after.precedes(m) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len reports how many meetings are stored.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.meetings)
}
