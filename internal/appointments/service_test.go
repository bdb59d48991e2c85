package appointments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/telehealth-booking/internal/booking"
	"github.com/wolfman30/telehealth-booking/internal/directory"
	"github.com/wolfman30/telehealth-booking/internal/events"
	"github.com/wolfman30/telehealth-booking/internal/meetings"
	"github.com/wolfman30/telehealth-booking/internal/observability/metrics"
	"github.com/wolfman30/telehealth-booking/internal/scheduling"
	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

var (
	fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	slotA    = "2025-06-02T09:10:00Z"
	slotB    = "2025-06-02T17:30:00Z"
)

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	dir      *directory.MemoryDirectory
	provider *meetings.FakeProvider
	store    *meetings.MemoryStore
	outbox   *events.MemoryOutbox
	reg      *prometheus.Registry
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		repo:     NewMemoryRepository(),
		dir:      directory.NewMemoryDirectory(),
		provider: meetings.NewFakeProvider(),
		store:    meetings.NewMemoryStore(),
		outbox:   events.NewMemoryOutbox(),
		reg:      prometheus.NewRegistry(),
	}
	f.dir.AddDoctor(directory.Doctor{ID: "D1", FirstName: "Ada", LastName: "Grey", Specialty: "cardiology"})
	f.dir.AddDoctor(directory.Doctor{ID: "D2", FirstName: "Sam", LastName: "Hale"})
	f.dir.AddPatient(directory.Patient{ID: "P1", FirstName: "Pat", LastName: "One", Phone: "555-0101"})
	f.dir.AddPatient(directory.Patient{ID: "P2", FirstName: "Pia", LastName: "Two"})

	logger := logging.New("error")
	alloc := scheduling.NewAllocator(f.repo, scheduling.DefaultGrid(time.UTC),
		scheduling.WithClock(func() time.Time { return fixedNow }))
	prov := meetings.NewProvisioner(f.provider, f.store,
		meetings.ProvisionerConfig{PersistAttempts: 1, CompensationTimeout: time.Second},
		meetings.WithLogger(logger), meetings.WithOutbox(f.outbox))
	f.svc = NewService(f.repo, f.dir, alloc, prov,
		WithOutbox(f.outbox), WithMetrics(metrics.NewBookingMetrics(f.reg)), WithLogger(logger), WithConfig(cfg))
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func (f *fixture) book(t *testing.T, patientID, doctorID, at string) *Booking {
	t.Helper()
	b, err := f.svc.Create(context.Background(), CreateRequest{PatientID: patientID, DoctorID: doctorID, AppointmentDateTime: at})
	require.NoError(t, err)
	return b
}

func strPtr(s string) *string { return &s }

func TestCreateBooksAppointmentWithMeeting(t *testing.T) {
	f := newFixture(t, Config{})
	b, err := f.svc.Create(context.Background(), CreateRequest{
		PatientID:           " P1 ",
		DoctorID:            "D1",
		AppointmentDateTime: slotA,
		PhoneNumber:         strPtr("  "),
		AdditionalNotes:     strPtr(" follow-up "),
	})
	require.NoError(t, err)

	a := b.Appointment
	assert.Equal(t, StatusScheduled, a.Status)
	assert.Equal(t, "P1", a.PatientID)
	assert.NotEmpty(t, a.MeetingID)
	assert.NotEmpty(t, a.MeetingToken)
	assert.Equal(t, b.Meeting.ID, a.MeetingID)
	assert.Nil(t, a.PhoneNumber)
	require.NotNil(t, a.AdditionalNotes)
	assert.Equal(t, "follow-up", *a.AdditionalNotes)

	stored, err := f.store.Get(context.Background(), a.MeetingID)
	require.NoError(t, err)
	assert.Equal(t, "P1", stored.OwnerID)

	booked := f.outbox.Entries(events.TypeAppointmentBooked)
	require.Len(t, booked, 1)
	assert.Equal(t, a.ID, booked[0].AggregateID)
	n, err := testutil.GatherAndCount(f.reg, "telehealth_booking_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreateRejectsMissingAndUnknownParticipants(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateRequest{DoctorID: "D1", AppointmentDateTime: slotA})
	assert.ErrorIs(t, err, booking.ErrMalformedInput)

	_, err = f.svc.Create(ctx, CreateRequest{PatientID: "P1", DoctorID: "D9", AppointmentDateTime: slotA})
	assert.ErrorIs(t, err, booking.ErrNotFound)

	_, err = f.svc.Create(ctx, CreateRequest{PatientID: "P9", DoctorID: "D1", AppointmentDateTime: slotA})
	assert.ErrorIs(t, err, booking.ErrNotFound)

	_, err = f.svc.Create(ctx, CreateRequest{PatientID: "P1", DoctorID: "D1", AppointmentDateTime: "2025-06-02 09:10"})
	assert.ErrorIs(t, err, booking.ErrMalformedInput)

	created, _ := f.provider.Counts()
	assert.Zero(t, created)
	assert.Zero(t, f.repo.Len())
}

func TestCreateInPastFailsWithoutProviderCall(t *testing.T) {
	f := newFixture(t, Config{})
	for _, at := range []string{"2025-05-31T09:10:00Z", "2025-06-01T12:00:00Z", "2025-06-02T09:15:00Z"} {
		_, err := f.svc.Create(context.Background(), CreateRequest{PatientID: "P1", DoctorID: "D1", AppointmentDateTime: at})
		assert.ErrorIs(t, err, booking.ErrInvalidSlot, at)
	}
	created, _ := f.provider.Counts()
	assert.Zero(t, created)
	assert.Zero(t, f.store.Len())
}

func TestCreateSameSlotTwiceConflicts(t *testing.T) {
	f := newFixture(t, Config{})
	f.book(t, "P1", "D1", slotA)

	_, err := f.svc.Create(context.Background(), CreateRequest{PatientID: "P2", DoctorID: "D1", AppointmentDateTime: slotA})
	require.ErrorIs(t, err, booking.ErrSlotConflict)

	// Another doctor may take the same time.
	f.book(t, "P2", "D2", slotA)
	assert.Equal(t, 2, f.repo.Len())
}

func TestCreateConcurrentDoubleBookOneWins(t *testing.T) {
	f := newFixture(t, Config{})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []error
	)
	start := make(chan struct{})
	for _, patient := range []string{"P1", "P2"} {
		wg.Add(1)
		go func(patient string) {
			defer wg.Done()
			<-start
			_, err := f.svc.Create(context.Background(), CreateRequest{PatientID: patient, DoctorID: "D1", AppointmentDateTime: slotA})
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}(patient)
	}
	close(start)
	wg.Wait()

	var ok, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, booking.ErrSlotConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 1, f.repo.Len())
	assert.Len(t, f.provider.LiveRooms(), 1)
	assert.Equal(t, 1, f.store.Len())
}

func TestCreateProviderFailureCreatesNothing(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.CreateErr = &meetings.ProviderError{Op: "create_room", StatusCode: 500}

	_, err := f.svc.Create(context.Background(), CreateRequest{PatientID: "P1", DoctorID: "D1", AppointmentDateTime: slotA})
	require.ErrorIs(t, err, booking.ErrProviderUnavailable)
	assert.Zero(t, f.repo.Len())
	assert.Zero(t, f.store.Len())
	assert.Empty(t, f.outbox.Entries(events.TypeAppointmentBooked))
	n, err := testutil.GatherAndCount(f.reg, "telehealth_booking_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreatePersistFailureLeavesNoOrphanRoom(t *testing.T) {
	f := newFixture(t, Config{})
	f.repo.CreateErr = errors.New("disk full")

	_, err := f.svc.Create(context.Background(), CreateRequest{PatientID: "P1", DoctorID: "D1", AppointmentDateTime: slotA})
	require.ErrorIs(t, err, booking.ErrBookingFailed)
	assert.Zero(t, f.repo.Len())
	assert.Zero(t, f.store.Len())
	assert.Empty(t, f.provider.LiveRooms())
	created, deleted := f.provider.Counts()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, deleted)
}

func TestCreateCompensationFailureStillReportsOriginalError(t *testing.T) {
	f := newFixture(t, Config{})
	f.repo.CreateErr = errors.New("disk full")
	f.provider.DeleteErr = &meetings.ProviderError{Op: "delete_room", StatusCode: 503}

	_, err := f.svc.Create(context.Background(), CreateRequest{PatientID: "P1", DoctorID: "D1", AppointmentDateTime: slotA})
	require.ErrorIs(t, err, booking.ErrBookingFailed)
	assert.Zero(t, f.store.Len())
	assert.Len(t, f.outbox.Entries(events.TypeMeetingOrphanRoom), 1)
}

type cancellingProvisioner struct {
	inner  MeetingProvisioner
	cancel context.CancelFunc
}

func (c *cancellingProvisioner) Provision(ctx context.Context, ownerID string, at time.Time) (*meetings.Meeting, error) {
	m, err := c.inner.Provision(ctx, ownerID, at)
	c.cancel()
	return m, err
}

func (c *cancellingProvisioner) Release(ctx context.Context, m *meetings.Meeting, reason string) error {
	return c.inner.Release(ctx, m, reason)
}

func TestCreateCancelledAfterProvisionReleasesRoom(t *testing.T) {
	f := newFixture(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.provisioner = &cancellingProvisioner{inner: f.svc.provisioner, cancel: cancel}

	_, err := f.svc.Create(ctx, CreateRequest{PatientID: "P1", DoctorID: "D1", AppointmentDateTime: slotA})
	require.ErrorIs(t, err, booking.ErrBookingFailed)
	assert.Zero(t, f.repo.Len())
	assert.Zero(t, f.store.Len())
	assert.Empty(t, f.provider.LiveRooms())
}

func TestUpdateRejectsImmutableFields(t *testing.T) {
	f := newFixture(t, Config{})
	b := f.book(t, "P1", "D1", slotA)
	id := b.Appointment.ID

	for name, patch := range map[string]Patch{
		"patient":      {PatientID: strPtr("P2")},
		"doctor":       {DoctorID: strPtr("D2"), Status: strPtr("completed")},
		"meeting":      {MeetingID: strPtr("room-x")},
		"meetingToken": {MeetingToken: strPtr("tok")},
	} {
		_, err := f.svc.Update(context.Background(), id, patch)
		assert.ErrorIs(t, err, booking.ErrImmutableField, name)
	}

	got, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "P1", got.PatientID)
	assert.Equal(t, "D1", got.DoctorID)
	assert.Equal(t, StatusScheduled, got.Status)

	// Echoing the unchanged values is allowed.
	_, err = f.svc.Update(context.Background(), id, Patch{PatientID: strPtr("P1"), DoctorID: strPtr("D1")})
	assert.NoError(t, err)
}

func TestUpdateStatusLifecycle(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.book(t, "P1", "D1", slotA).Appointment.ID
	ctx := context.Background()

	_, err := f.svc.Update(ctx, id, Patch{Status: strPtr("finished")})
	assert.ErrorIs(t, err, booking.ErrInvalidStatus)

	d, err := f.svc.Update(ctx, id, Patch{Status: strPtr("completed"), PhoneNumber: strPtr(" 555-0199 ")})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, d.Status)
	require.NotNil(t, d.PhoneNumber)
	assert.Equal(t, "555-0199", *d.PhoneNumber)
	require.NotNil(t, d.Doctor)
	assert.Equal(t, "Ada", d.Doctor.FirstName)

	_, err = f.svc.Update(ctx, id, Patch{Status: strPtr("scheduled")})
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)

	_, err = f.svc.Update(ctx, id, Patch{Status: strPtr("completed")})
	assert.NoError(t, err)

	_, err = f.svc.Update(ctx, id, Patch{PhoneNumber: strPtr("")})
	require.NoError(t, err)
	got, _ := f.repo.GetByID(ctx, id)
	assert.Nil(t, got.PhoneNumber)

	updated := f.outbox.Entries(events.TypeAppointmentUpdated)
	assert.NotEmpty(t, updated)
}

func TestUpdateAllowReopen(t *testing.T) {
	f := newFixture(t, Config{AllowReopen: true})
	id := f.book(t, "P1", "D1", slotA).Appointment.ID
	ctx := context.Background()

	_, err := f.svc.Update(ctx, id, Patch{Status: strPtr("cancelled")})
	require.NoError(t, err)

	// The freed slot can be taken by someone else.
	other := f.book(t, "P2", "D1", slotA)
	require.NotNil(t, other)

	_, err = f.svc.Update(ctx, id, Patch{Status: strPtr("scheduled")})
	assert.ErrorIs(t, err, booking.ErrSlotConflict)

	_, err = f.svc.Update(ctx, other.Appointment.ID, Patch{Status: strPtr("cancelled")})
	require.NoError(t, err)
	d, err := f.svc.Update(ctx, id, Patch{Status: strPtr("scheduled")})
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, d.Status)
}

func TestUpdateReschedule(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	first := f.book(t, "P1", "D1", slotA).Appointment
	f.book(t, "P2", "D1", slotB)

	_, err := f.svc.Update(ctx, first.ID, Patch{AppointmentDateTime: strPtr(slotB)})
	assert.ErrorIs(t, err, booking.ErrSlotConflict)

	_, err = f.svc.Update(ctx, first.ID, Patch{AppointmentDateTime: strPtr("2025-05-01T09:10:00Z")})
	assert.ErrorIs(t, err, booking.ErrInvalidSlot)

	d, err := f.svc.Update(ctx, first.ID, Patch{AppointmentDateTime: strPtr("2025-06-03T10:00:00+00:00")})
	require.NoError(t, err)
	assert.True(t, d.AppointmentDateTime.Equal(time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, first.MeetingID, d.MeetingID)

	_, err = f.svc.Update(ctx, first.ID, Patch{Status: strPtr("cancelled"), AppointmentDateTime: strPtr(slotA)})
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
}

func TestUpdateUnknownAppointment(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.svc.Update(context.Background(), "missing", Patch{Status: strPtr("completed")})
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

func TestDeleteAndGet(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	b := f.book(t, "P1", "D1", slotA)

	d, err := f.svc.Get(ctx, b.Appointment.ID)
	require.NoError(t, err)
	require.NotNil(t, d.Patient)
	assert.Equal(t, "Pat", d.Patient.FirstName)

	require.NoError(t, f.svc.Delete(ctx, b.Appointment.ID))
	assert.ErrorIs(t, f.svc.Delete(ctx, b.Appointment.ID), booking.ErrNotFound)
	_, err = f.svc.Get(ctx, b.Appointment.ID)
	assert.ErrorIs(t, err, booking.ErrNotFound)

	// The meeting is left for the reconciler.
	assert.Equal(t, 1, f.store.Len())
	assert.Len(t, f.outbox.Entries(events.TypeAppointmentDeleted), 1)
}

func TestListByPatient(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.book(t, "P1", "D1", slotB)
	f.book(t, "P1", "D2", slotA)
	f.book(t, "P2", "D1", slotA)

	out, err := f.svc.ListByPatient(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Pat", out.Patient.FirstName)
	require.Len(t, out.Appointments, 2)
	assert.Equal(t, "D2", out.Appointments[0].DoctorID)
	require.NotNil(t, out.Appointments[1].Doctor)
	assert.Equal(t, "cardiology", out.Appointments[1].Doctor.Specialty)

	_, err = f.svc.ListByPatient(ctx, "P404")
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

func TestPatientRosterLatestFirst(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.book(t, "P1", "D1", "2025-06-02T09:00:00Z")
	f.book(t, "P2", "D1", "2025-06-03T09:00:00Z")
	latest := f.book(t, "P1", "D1", "2025-06-04T09:00:00Z")
	f.book(t, "P2", "D2", "2025-06-05T09:00:00Z")

	roster, err := f.svc.PatientRoster(ctx, "D1")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, "P1", roster[0].PatientID)
	assert.Equal(t, latest.Appointment.ID, roster[0].LastAppointmentID)
	assert.Equal(t, "555-0101", roster[0].Phone)
	assert.Equal(t, "P2", roster[1].PatientID)

	_, err = f.svc.PatientRoster(ctx, "D404")
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

func TestDaySlots(t *testing.T) {
	f := newFixture(t, Config{})
	f.book(t, "P1", "D1", slotA)

	slots, err := f.svc.DaySlots(context.Background(), "D1", "2025-06-02")
	require.NoError(t, err)
	require.Len(t, slots, 20)
	var booked int
	for _, s := range slots {
		if s.Booked {
			booked++
			assert.Equal(t, "2025-06-02T09:10:00Z", s.Start.UTC().Format(time.RFC3339))
		}
	}
	assert.Equal(t, 1, booked)

	_, err = f.svc.DaySlots(context.Background(), "D1", "June 2")
	assert.ErrorIs(t, err, booking.ErrMalformedInput)
	_, err = f.svc.DaySlots(context.Background(), "D404", "2025-06-02")
	assert.ErrorIs(t, err, booking.ErrNotFound)
}
