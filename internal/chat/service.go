package chat

import (
	"context"
	"strings"
	"time"

	"github.com/wolfman30/telehealth-booking/internal/booking"
	"github.com/wolfman30/telehealth-booking/internal/counterpart"
	"github.com/wolfman30/telehealth-booking/internal/directory"
	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

const (
	DefaultThreadLimit = 10
	maxThreadLimit     = 100
	maxTextLength      = 4000
)

// Participant is one side of a conversation.
type Participant struct {
	Side SenderType
	ID   string
}

// ThreadSummary is the latest message exchanged with one counterpart.
type ThreadSummary struct {
	CounterpartID string             `json:"counterpartId"`
	LastMessage   string             `json:"lastMessage"`
	LastMessageAt time.Time          `json:"lastMessageAt"`
	LastSender    SenderType         `json:"lastSender"`
	Patient       *directory.Patient `json:"patient,omitempty"`
	Doctor        *directory.Doctor  `json:"doctor,omitempty"`
}

// Service sends messages and builds conversation views.
type Service struct {
	store  Store
	dir    directory.Directory
	logger *logging.Logger
	now    func() time.Time
}

func NewService(store Store, dir directory.Directory, logger *logging.Logger) *Service {
	if store == nil || dir == nil {
		panic("chat: store and directory required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, dir: dir, logger: logger, now: time.Now}
}

// Send records text from sender to counterpartID.
func (s *Service) Send(ctx context.Context, sender Participant, counterpartID, text string) (*Message, error) {
	const op = "chat.send"
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, booking.E(booking.KindMalformedInput, op, "text is required", ErrEmptyMessage)
	}
	if len(text) > maxTextLength {
		return nil, booking.E(booking.KindMalformedInput, op, "text is too long", nil)
	}
	counterpartID = strings.TrimSpace(counterpartID)
	if counterpartID == "" {
		return nil, booking.E(booking.KindMalformedInput, op, "counterpart is required", nil)
	}

	m := &Message{SenderType: sender.Side, Text: text, CreatedAt: s.now().UTC()}
	switch sender.Side {
	case SenderPatient:
		m.PatientID, m.DoctorID = sender.ID, counterpartID
	case SenderDoctor:
		m.PatientID, m.DoctorID = counterpartID, sender.ID
	default:
		return nil, booking.E(booking.KindMalformedInput, op, "only patients and doctors can chat", nil)
	}
	if err := s.requireCounterpart(ctx, op, sender.Side, counterpartID); err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, m); err != nil {
		return nil, booking.E(booking.KindInternal, op, "", err)
	}
	return m, nil
}

func (s *Service) requireCounterpart(ctx context.Context, op string, side SenderType, counterpartID string) error {
	var (
		ok  bool
		err error
	)
	if side == SenderPatient {
		ok, err = s.dir.DoctorExists(ctx, counterpartID)
	} else {
		ok, err = s.dir.PatientExists(ctx, counterpartID)
	}
	if err != nil {
		return booking.E(booking.KindInternal, op, "", err)
	}
	if !ok {
		return booking.E(booking.KindNotFound, op, "counterpart not found", nil)
	}
	return nil
}

// Threads lists the viewer's conversations, most recently active first, each
// with the counterpart's display data.
func (s *Service) Threads(ctx context.Context, viewer Participant) ([]ThreadSummary, error) {
	const op = "chat.threads"
	msgs, err := s.store.ListByParticipant(ctx, viewer.Side, viewer.ID)
	if err != nil {
		return nil, booking.E(booking.KindInternal, op, "", err)
	}

	records := make([]counterpart.Record[Message], 0, len(msgs))
	for _, m := range msgs {
		rec := counterpart.Record[Message]{ID: m.ID, At: m.CreatedAt, Payload: m}
		if viewer.Side == SenderDoctor {
			rec.OwnerID, rec.CounterpartID = m.DoctorID, m.PatientID
		} else {
			rec.OwnerID, rec.CounterpartID = m.PatientID, m.DoctorID
		}
		records = append(records, rec)
	}

	rows := counterpart.Latest(records, viewer.ID)
	out := make([]ThreadSummary, 0, len(rows))
	for _, row := range rows {
		summary := ThreadSummary{
			CounterpartID: row.CounterpartID,
			LastMessage:   row.Payload.Text,
			LastMessageAt: row.LatestAt,
			LastSender:    row.Payload.SenderType,
		}
		if viewer.Side == SenderDoctor {
			p, err := s.dir.GetPatient(ctx, row.CounterpartID)
			if err != nil {
				s.logger.Warn("patient lookup failed", "error", err, "patient_id", row.CounterpartID)
			}
			summary.Patient = p
		} else {
			doc, err := s.dir.GetDoctor(ctx, row.CounterpartID)
			if err != nil {
				s.logger.Warn("doctor lookup failed", "error", err, "doctor_id", row.CounterpartID)
			}
			summary.Doctor = doc
		}
		out = append(out, summary)
	}
	return out, nil
}

// Thread returns the latest limit messages between viewer and counterpartID,
// newest first. A non-positive limit uses DefaultThreadLimit.
func (s *Service) Thread(ctx context.Context, viewer Participant, counterpartID string, limit int) ([]Message, error) {
	const op = "chat.thread"
	counterpartID = strings.TrimSpace(counterpartID)
	if counterpartID == "" {
		return nil, booking.E(booking.KindMalformedInput, op, "counterpart is required", nil)
	}
	if limit <= 0 {
		limit = DefaultThreadLimit
	}
	if limit > maxThreadLimit {
		limit = maxThreadLimit
	}

	var patientID, doctorID string
	switch viewer.Side {
	case SenderPatient:
		patientID, doctorID = viewer.ID, counterpartID
	case SenderDoctor:
		patientID, doctorID = counterpartID, viewer.ID
	default:
		return nil, booking.E(booking.KindMalformedInput, op, "only patients and doctors can chat", nil)
	}

	msgs, err := s.store.Thread(ctx, patientID, doctorID, limit)
	if err != nil {
		return nil, booking.E(booking.KindInternal, op, "", err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}
