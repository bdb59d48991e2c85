package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory reads profiles from the patients and doctors tables.
type PostgresDirectory struct {
	db rowQuerier
}

// NewPostgresDirectory creates a directory backed by pgx pool.
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	if pool == nil {
		panic("directory: pgx pool required")
	}
	return &PostgresDirectory{db: pool}
}

func newPostgresDirectoryWithQuerier(q rowQuerier) *PostgresDirectory {
	return &PostgresDirectory{db: q}
}

func (d *PostgresDirectory) DoctorExists(ctx context.Context, doctorID string) (bool, error) {
	var exists bool
	if err := d.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM doctors WHERE doctor_id = $1)`, doctorID).Scan(&exists); err != nil {
		return false, fmt.Errorf("directory: doctor exists: %w", err)
	}
	return exists, nil
}

func (d *PostgresDirectory) PatientExists(ctx context.Context, patientID string) (bool, error) {
	var exists bool
	if err := d.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE patient_id = $1)`, patientID).Scan(&exists); err != nil {
		return false, fmt.Errorf("directory: patient exists: %w", err)
	}
	return exists, nil
}

func (d *PostgresDirectory) GetPatient(ctx context.Context, patientID string) (*Patient, error) {
	query := `
		SELECT patient_id, first_name, last_name, COALESCE(email, ''), COALESCE(phone, ''),
		       COALESCE(gender, ''), COALESCE(address, ''), date_of_birth
		FROM patients
		WHERE patient_id = $1
	`
	var p Patient
	var dob *time.Time
	err := d.db.QueryRow(ctx, query, patientID).Scan(
		&p.ID,
		&p.FirstName,
		&p.LastName,
		&p.Email,
		&p.Phone,
		&p.Gender,
		&p.Address,
		&dob,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: select patient: %w", err)
	}
	p.DateOfBirth = dob
	return &p, nil
}

func (d *PostgresDirectory) GetDoctor(ctx context.Context, doctorID string) (*Doctor, error) {
	query := `
		SELECT doctor_id, first_name, last_name, COALESCE(email, ''), COALESCE(specialty, '')
		FROM doctors
		WHERE doctor_id = $1
	`
	var doc Doctor
	err := d.db.QueryRow(ctx, query, doctorID).Scan(
		&doc.ID,
		&doc.FirstName,
		&doc.LastName,
		&doc.Email,
		&doc.Specialty,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: select doctor: %w", err)
	}
	return &doc, nil
}
