package meetings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

type staticRefs map[string]bool

func (s staticRefs) MeetingReferenced(_ context.Context, id string) (bool, error) {
	return s[id], nil
}

func TestReconcilerRemovesOnlyOldUnreferencedMeetings(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	provider := NewFakeProvider()
	store := NewMemoryStore()
	p := newTestProvisioner(provider, store)
	ctx := context.Background()

	mk := func(age time.Duration) *Meeting {
		room, err := provider.CreateRoom(ctx, Token{})
		require.NoError(t, err)
		m := &Meeting{ID: room.ID, OwnerID: "P1", ScheduledTime: slot, CreatedAt: now.Add(-age)}
		require.NoError(t, store.Create(ctx, m))
		return m
	}
	orphan := mk(time.Hour)
	referenced := mk(time.Hour)
	young := mk(time.Minute)

	r := NewReconciler(store, staticRefs{referenced.ID: true}, p, logging.New("error")).WithGrace(15 * time.Minute)
	r.now = func() time.Time { return now }

	removed, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Get(ctx, orphan.ID)
	assert.ErrorIs(t, err, ErrMeetingNotFound)
	_, err = store.Get(ctx, referenced.ID)
	assert.NoError(t, err)
	_, err = store.Get(ctx, young.ID)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{referenced.ID, young.ID}, provider.LiveRooms())
}

func TestReconcilerReachesOrphanBehindReferencedMeetings(t *testing.T) {
	now := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	provider := NewFakeProvider()
	store := NewMemoryStore()
	p := newTestProvisioner(provider, store)
	ctx := context.Background()

	refs := staticRefs{}
	for i := 0; i < 150; i++ {
		room, err := provider.CreateRoom(ctx, Token{})
		require.NoError(t, err)
		require.NoError(t, store.Create(ctx, &Meeting{ID: room.ID, OwnerID: "P1", ScheduledTime: slot, CreatedAt: now.Add(-48 * time.Hour)}))
		refs[room.ID] = true
	}
	room, err := provider.CreateRoom(ctx, Token{})
	require.NoError(t, err)
	orphan := &Meeting{ID: room.ID, OwnerID: "P2", ScheduledTime: slot, CreatedAt: now.Add(-time.Hour)}
	require.NoError(t, store.Create(ctx, orphan))

	r := NewReconciler(store, refs, p, logging.New("error")).WithGrace(15 * time.Minute)
	r.now = func() time.Time { return now }

	removed, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = store.Get(ctx, orphan.ID)
	assert.ErrorIs(t, err, ErrMeetingNotFound)
	assert.Equal(t, 150, store.Len())
	assert.NotContains(t, provider.LiveRooms(), orphan.ID)
}

func TestReconcilerStartStopsOnCancel(t *testing.T) {
	r := NewReconciler(NewMemoryStore(), staticRefs{}, newTestProvisioner(NewFakeProvider(), NewMemoryStore()), nil).
		WithInterval(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
