package meetings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FakeProvider is an in-process Provider for tests and for local runs
// without provider credentials. The Err fields inject failures.
type FakeProvider struct {
	mu        sync.Mutex
	rooms     map[string]bool
	created   int
	deleted   int
	MintErr   error
	CreateErr error
	DeleteErr error
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{rooms: make(map[string]bool)}
}

func (f *FakeProvider) MintToken(context.Context) (Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MintErr != nil {
		return Token{}, f.MintErr
	}
	return Token{Value: "fake-" + uuid.NewString(), ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *FakeProvider) CreateRoom(ctx context.Context, _ Token) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, &ProviderError{Op: "create_room", Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return Room{}, f.CreateErr
	}
	id := fmt.Sprintf("room-%s", uuid.NewString()[:8])
	f.rooms[id] = true
	f.created++
	return Room{ID: id}, nil
}

func (f *FakeProvider) DeleteRoom(_ context.Context, _ Token, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	if !f.rooms[roomID] {
		return &ProviderError{Op: "delete_room", StatusCode: 404}
	}
	delete(f.rooms, roomID)
	f.deleted++
	return nil
}

// SetDeleteErr swaps the injected delete failure under the lock.
func (f *FakeProvider) SetDeleteErr(err error) {
	f.mu.Lock()
	f.DeleteErr = err
	f.mu.Unlock()
}

// LiveRooms lists rooms that exist at the fake provider.
func (f *FakeProvider) LiveRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.rooms))
	for id := range f.rooms {
		out = append(out, id)
	}
	return out
}

// Counts returns how many rooms were created and deleted.
func (f *FakeProvider) Counts() (created, deleted int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, f.deleted
}
