// Package directory exposes the narrow read-only view of patient and doctor
// profiles consumed by booking and chat. Profiles are owned elsewhere.
package directory

import (
	"context"
	"sync"
	"time"
)

// Patient is the display data for a patient profile.
type Patient struct {
	ID          string     `json:"patientId"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	Email       string     `json:"email,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	Gender      string     `json:"gender,omitempty"`
	Address     string     `json:"address,omitempty"`
	DateOfBirth *time.Time `json:"dateOfBirth,omitempty"`
}

// Doctor is the display data for a doctor profile.
type Doctor struct {
	ID        string `json:"doctorId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email,omitempty"`
	Specialty string `json:"specialty,omitempty"`
}

// Directory resolves patient and doctor identifiers.
// Get methods return (nil, nil) when the identifier is unknown.
type Directory interface {
	DoctorExists(ctx context.Context, doctorID string) (bool, error)
	PatientExists(ctx context.Context, patientID string) (bool, error)
	GetPatient(ctx context.Context, patientID string) (*Patient, error)
	GetDoctor(ctx context.Context, doctorID string) (*Doctor, error)
}

// MemoryDirectory is an in-process Directory used by tests and local runs.
type MemoryDirectory struct {
	mu       sync.RWMutex
	patients map[string]Patient
	doctors  map[string]Doctor
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		patients: make(map[string]Patient),
		doctors:  make(map[string]Doctor),
	}
}

// AddPatient registers or replaces a patient.
func (d *MemoryDirectory) AddPatient(p Patient) {
	d.mu.Lock()
	d.patients[p.ID] = p
	d.mu.Unlock()
}

// AddDoctor registers or replaces a doctor.
func (d *MemoryDirectory) AddDoctor(doc Doctor) {
	d.mu.Lock()
	d.doctors[doc.ID] = doc
	d.mu.Unlock()
}

func (d *MemoryDirectory) DoctorExists(ctx context.Context, doctorID string) (bool, error) {
	doc, err := d.GetDoctor(ctx, doctorID)
	return doc != nil, err
}

func (d *MemoryDirectory) PatientExists(ctx context.Context, patientID string) (bool, error) {
	p, err := d.GetPatient(ctx, patientID)
	return p != nil, err
}

func (d *MemoryDirectory) GetPatient(_ context.Context, patientID string) (*Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.patients[patientID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (d *MemoryDirectory) GetDoctor(_ context.Context, doctorID string) (*Doctor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.doctors[doctorID]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}
