package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/telehealth-booking/internal/auth"
	"github.com/wolfman30/telehealth-booking/internal/booking"
	"github.com/wolfman30/telehealth-booking/internal/directory"
	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	dir := directory.NewMemoryDirectory()
	dir.AddDoctor(directory.Doctor{ID: "D1", FirstName: "Ada", LastName: "Grey"})
	dir.AddDoctor(directory.Doctor{ID: "D2", FirstName: "Sam", LastName: "Hale"})
	dir.AddPatient(directory.Patient{ID: "P1", FirstName: "Pat", LastName: "One"})
	dir.AddPatient(directory.Patient{ID: "P2", FirstName: "Pia", LastName: "Two"})
	store := NewMemoryStore()
	svc := NewService(store, dir, logging.New("error"))

	clock := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return svc, store
}

var (
	asP1 = Participant{Side: SenderPatient, ID: "P1"}
	asD1 = Participant{Side: SenderDoctor, ID: "D1"}
)

func TestSendValidates(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Send(ctx, asP1, "D1", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.ErrorIs(t, err, booking.ErrMalformedInput)

	_, err = svc.Send(ctx, asP1, "D404", "hello")
	assert.ErrorIs(t, err, booking.ErrNotFound)

	_, err = svc.Send(ctx, Participant{Side: "admin", ID: "x"}, "D1", "hello")
	assert.ErrorIs(t, err, booking.ErrMalformedInput)

	m, err := svc.Send(ctx, asD1, "P1", " hello ")
	require.NoError(t, err)
	assert.Equal(t, "P1", m.PatientID)
	assert.Equal(t, "D1", m.DoctorID)
	assert.Equal(t, SenderDoctor, m.SenderType)
	assert.Equal(t, "hello", m.Text)

	list, _ := store.ListByParticipant(ctx, SenderPatient, "P1")
	assert.Len(t, list, 1)
}

func TestThreadsLatestPerCounterpart(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _ = svc.Send(ctx, asP1, "D1", "first to D1")
	_, _ = svc.Send(ctx, asP1, "D2", "to D2")
	_, _ = svc.Send(ctx, asD1, "P1", "reply from D1")
	_, _ = svc.Send(ctx, asD1, "P2", "to P2")

	threads, err := svc.Threads(ctx, asP1)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "D1", threads[0].CounterpartID)
	assert.Equal(t, "reply from D1", threads[0].LastMessage)
	assert.Equal(t, SenderDoctor, threads[0].LastSender)
	require.NotNil(t, threads[0].Doctor)
	assert.Equal(t, "Ada", threads[0].Doctor.FirstName)
	assert.Equal(t, "D2", threads[1].CounterpartID)

	threads, err = svc.Threads(ctx, asD1)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "P2", threads[0].CounterpartID)
	require.NotNil(t, threads[0].Patient)
	assert.Equal(t, "Pia", threads[0].Patient.FirstName)
}

func TestThreadNewestFirstWithLimit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		_, err := svc.Send(ctx, asP1, "D1", "msg")
		require.NoError(t, err)
	}
	last, _ := svc.Send(ctx, asD1, "P1", "latest")

	msgs, err := svc.Thread(ctx, asP1, "D1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, DefaultThreadLimit)
	assert.Equal(t, last.ID, msgs[0].ID)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.After(msgs[i-1].CreatedAt))
	}

	msgs, err = svc.Thread(ctx, asD1, "P2", 5)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHandlerRoutes(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHandler(svc, nil).Routes()

	do := func(c *auth.Caller, method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if c != nil {
			req = req.WithContext(auth.WithCaller(req.Context(), *c))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	patient := &auth.Caller{Role: auth.RolePatient, ID: "P1"}

	rec := do(patient, http.MethodPost, "/D1/messages", `{"text":"hello doctor"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"senderType":"patient"`)

	rec = do(patient, http.MethodPost, "/D1/messages", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(patient, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var threads struct {
		Threads []ThreadSummary `json:"threads"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &threads))
	require.Len(t, threads.Threads, 1)

	rec = do(patient, http.MethodGet, "/D1/messages?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(patient, http.MethodGet, "/D1/messages?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hello doctor")

	rec = do(&auth.Caller{Role: auth.RoleAdmin, ID: "ops"}, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(nil, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
