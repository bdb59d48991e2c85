package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// slotIndexName is the partial unique index over active (doctor_id, appointment_at).
const slotIndexName = "appointments_doctor_slot_active_idx"

type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores appointments in the relational database.
type PostgresRepository struct {
	db pgDB
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithDB(db pgDB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const appointmentColumns = `id, patient_id, doctor_id, appointment_at, status, phone_number,
	       additional_notes, meeting_id, meeting_token, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, a *Appointment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	query := `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_at, status, phone_number,
		                          additional_notes, meeting_id, meeting_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		a.ID,
		a.PatientID,
		a.DoctorID,
		a.AppointmentDateTime.UTC(),
		string(a.Status),
		a.PhoneNumber,
		a.AdditionalNotes,
		a.MeetingID,
		a.MeetingToken,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isSlotViolation(err) {
			return ErrDuplicateSlot
		}
		return fmt.Errorf("appointments: insert failed: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrAppointmentNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	a, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: select failed: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) Update(ctx context.Context, a *Appointment, expected Status) error {
	query := `
		UPDATE appointments
		SET status = $2,
		    appointment_at = $3,
		    phone_number = $4,
		    additional_notes = $5,
		    updated_at = now()
		WHERE id = $1 AND status = $6
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		a.ID,
		string(a.Status),
		a.AppointmentDateTime.UTC(),
		a.PhoneNumber,
		a.AdditionalNotes,
		string(expected),
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, a.ID); errors.Is(getErr, ErrAppointmentNotFound) {
			return ErrAppointmentNotFound
		}
		return ErrStatusChanged
	}
	if err != nil {
		if isSlotViolation(err) {
			return ErrDuplicateSlot
		}
		return fmt.Errorf("appointments: update failed: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrAppointmentNotFound
	}
	ct, err := r.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("appointments: delete failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Appointment, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.PatientID != "" {
		add("patient_id = $%d", filter.PatientID)
	}
	if filter.DoctorID != "" {
		add("doctor_id = $%d", filter.DoctorID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.From != nil {
		add("appointment_at >= $%d", filter.From.UTC())
	}
	if filter.To != nil {
		add("appointment_at < $%d", filter.To.UTC())
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY appointment_at, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("appointments: list failed: %w", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan failed: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) FindActiveAt(ctx context.Context, doctorID string, at time.Time) (string, bool, error) {
	query := `
		SELECT id
		FROM appointments
		WHERE doctor_id = $1 AND appointment_at = $2 AND status <> 'cancelled'
		LIMIT 1
	`
	var id string
	err := r.db.QueryRow(ctx, query, doctorID, at.UTC()).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("appointments: find active failed: %w", err)
	}
	return id, true, nil
}

func (r *PostgresRepository) ListActiveBetween(ctx context.Context, doctorID string, from, to time.Time) ([]time.Time, error) {
	query := `
		SELECT appointment_at
		FROM appointments
		WHERE doctor_id = $1 AND appointment_at >= $2 AND appointment_at < $3 AND status <> 'cancelled'
		ORDER BY appointment_at
	`
	rows, err := r.db.Query(ctx, query, doctorID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("appointments: list active failed: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("appointments: scan slot failed: %w", err)
		}
		out = append(out, at)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) MeetingReferenced(ctx context.Context, meetingID string) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE meeting_id = $1)`, meetingID).Scan(&exists); err != nil {
		return false, fmt.Errorf("appointments: meeting reference failed: %w", err)
	}
	return exists, nil
}

// MeetingDoctors lists the doctors of appointments referencing the meeting.
func (r *PostgresRepository) MeetingDoctors(ctx context.Context, meetingID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT doctor_id FROM appointments WHERE meeting_id = $1 ORDER BY doctor_id`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("appointments: meeting doctors failed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("appointments: scan doctor failed: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a      Appointment
		status string
		phone  pgtype.Text
		notes  pgtype.Text
	)
	if err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.AppointmentDateTime,
		&status,
		&phone,
		&notes,
		&a.MeetingID,
		&a.MeetingToken,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = Status(status)
	if phone.Valid {
		a.PhoneNumber = &phone.String
	}
	if notes.Valid {
		a.AdditionalNotes = &notes.String
	}
	return &a, nil
}

func isSlotViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return pgErr.ConstraintName == "" || pgErr.ConstraintName == slotIndexName
}
