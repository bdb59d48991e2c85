// Package chat stores one-to-one patient/doctor messages and builds the
// thread list and thread context views over them.
package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SenderType identifies which participant wrote a message.
type SenderType string

const (
	SenderPatient SenderType = "patient"
	SenderDoctor  SenderType = "doctor"
)

// ErrEmptyMessage is returned when a message has no text.
var ErrEmptyMessage = errors.New("chat: message text is empty")

// Message is one chat entry between a patient and a doctor.
type Message struct {
	ID         string     `json:"id"`
	PatientID  string     `json:"patientId"`
	DoctorID   string     `json:"doctorId"`
	SenderType SenderType `json:"senderType"`
	Text       string     `json:"text"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Store persists chat messages.
type Store interface {
	Insert(ctx context.Context, m *Message) error
	// ListByParticipant returns every message the participant is part of.
	ListByParticipant(ctx context.Context, side SenderType, participantID string) ([]Message, error)
	// Thread returns the newest limit messages between the pair, newest first.
	Thread(ctx context.Context, patientID, doctorID string, limit int) ([]Message, error)
}

// SQLStore keeps messages in the chat_messages table.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	if db == nil {
		panic("chat: sql db required")
	}
	return &SQLStore{db: db}
}

func (s *SQLStore) Insert(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO chat_messages (id, patient_id, doctor_id, sender_type, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.db.ExecContext(ctx, query, m.ID, m.PatientID, m.DoctorID, string(m.SenderType), m.Text, m.CreatedAt); err != nil {
		return fmt.Errorf("chat: insert message: %w", err)
	}
	return nil
}

func (s *SQLStore) ListByParticipant(ctx context.Context, side SenderType, participantID string) ([]Message, error) {
	column := "patient_id"
	if side == SenderDoctor {
		column = "doctor_id"
	}
	query := `
		SELECT id, patient_id, doctor_id, sender_type, text, created_at
		FROM chat_messages
		WHERE ` + column + ` = $1
		ORDER BY created_at DESC
	`
	return s.query(ctx, query, participantID)
}

func (s *SQLStore) Thread(ctx context.Context, patientID, doctorID string, limit int) ([]Message, error) {
	query := `
		SELECT id, patient_id, doctor_id, sender_type, text, created_at
		FROM chat_messages
		WHERE patient_id = $1 AND doctor_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`
	return s.query(ctx, query, patientID, doctorID, limit)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chat: query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m      Message
			sender string
		)
		if err := rows.Scan(&m.ID, &m.PatientID, &m.DoctorID, &sender, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("chat: scan message: %w", err)
		}
		m.SenderType = SenderType(sender)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: iterate messages: %w", err)
	}
	return out, nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	messages []Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.messages = append(s.messages, *m)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListByParticipant(_ context.Context, side SenderType, participantID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if (side == SenderDoctor && m.DoctorID == participantID) || (side == SenderPatient && m.PatientID == participantID) {
			out = append(out, m)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) Thread(_ context.Context, patientID, doctorID string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if m.PatientID == patientID && m.DoctorID == doctorID {
			out = append(out, m)
		}
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortNewestFirst(msgs []Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID > msgs[j].ID
		}
		return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
	})
}
