package directory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDirectory struct {
	*MemoryDirectory
	patientCalls int
	doctorCalls  int
}

func (c *countingDirectory) GetPatient(ctx context.Context, id string) (*Patient, error) {
	c.patientCalls++
	return c.MemoryDirectory.GetPatient(ctx, id)
}

func (c *countingDirectory) GetDoctor(ctx context.Context, id string) (*Doctor, error) {
	c.doctorCalls++
	return c.MemoryDirectory.GetDoctor(ctx, id)
}

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	dir.AddPatient(Patient{ID: "P1", FirstName: "Ada", LastName: "Lovelace"})
	dir.AddDoctor(Doctor{ID: "D1", FirstName: "Gregory", LastName: "House"})

	ok, err := dir.PatientExists(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dir.DoctorExists(ctx, "D2")
	require.NoError(t, err)
	assert.False(t, ok)

	p, err := dir.GetPatient(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCachedDirectoryReadThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &countingDirectory{MemoryDirectory: NewMemoryDirectory()}
	inner.AddDoctor(Doctor{ID: "D1", FirstName: "Gregory", LastName: "House"})
	inner.AddPatient(Patient{ID: "P1", FirstName: "Ada"})

	dir := NewCachedDirectory(inner, client, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		doc, err := dir.GetDoctor(ctx, "D1")
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "House", doc.LastName)
	}
	assert.Equal(t, 1, inner.doctorCalls)
	assert.True(t, mr.Exists("directory:doctor:D1"))

	exists, err := dir.PatientExists(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = dir.PatientExists(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, inner.patientCalls)
}

func TestCachedDirectoryDoesNotCacheMisses(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &countingDirectory{MemoryDirectory: NewMemoryDirectory()}
	dir := NewCachedDirectory(inner, client, time.Minute, nil)
	ctx := context.Background()

	ok, err := dir.DoctorExists(ctx, "D9")
	require.NoError(t, err)
	assert.False(t, ok)

	inner.AddDoctor(Doctor{ID: "D9", LastName: "New"})
	ok, err = dir.DoctorExists(ctx, "D9")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, inner.doctorCalls)
}

func TestCachedDirectoryNilClientPassesThrough(t *testing.T) {
	inner := NewMemoryDirectory()
	assert.Same(t, Directory(inner), NewCachedDirectory(inner, nil, 0, nil))
}

func TestPostgresDirectoryQueries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	dir := newPostgresDirectoryWithQuerier(mock)
	ctx := context.Background()

	mock.ExpectQuery("SELECT EXISTS").WithArgs("D1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err := dir.DoctorExists(ctx, "D1")
	require.NoError(t, err)
	assert.True(t, ok)

	dob := time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT patient_id").WithArgs("P1").
		WillReturnRows(pgxmock.NewRows([]string{"patient_id", "first_name", "last_name", "email", "phone", "gender", "address", "date_of_birth"}).
			AddRow("P1", "Ada", "Lovelace", "ada@example.com", "+15550001111", "female", "1 Main St", &dob))
	p, err := dir.GetPatient(ctx, "P1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Lovelace", p.LastName)
	require.NotNil(t, p.DateOfBirth)
	assert.True(t, dob.Equal(*p.DateOfBirth))

	mock.ExpectQuery("SELECT doctor_id").WithArgs("D404").WillReturnError(pgx.ErrNoRows)
	doc, err := dir.GetDoctor(ctx, "D404")
	require.NoError(t, err)
	assert.Nil(t, doc)

	require.NoError(t, mock.ExpectationsWereMet())
}
