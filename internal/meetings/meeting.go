// Package meetings provisions video rooms at the external provider and keeps
// the local Meeting cache record consistent with them.
package meetings

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Meeting is the local record of a provider room. Its ID is the provider's room id.
type Meeting struct {
	ID            string    `json:"meetingId"`
	OwnerID       string    `json:"ownerId"`
	ScheduledTime time.Time `json:"scheduledTime"`
	AccessToken   string    `json:"token"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Token is an opaque provider credential with a validity window.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Room is what the provider returns for a created room.
type Room struct {
	ID string
}

// Provider is the external video provider.
type Provider interface {
	MintToken(ctx context.Context) (Token, error)
	CreateRoom(ctx context.Context, token Token) (Room, error)
	DeleteRoom(ctx context.Context, token Token, roomID string) error
}

// ProviderError is returned by Provider implementations for any failed call.
// StatusCode is zero when no HTTP response was received.
type ProviderError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := "meetings: provider " + e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NotFound reports whether the provider said the room does not exist.
func (e *ProviderError) NotFound() bool { return e.StatusCode == 404 }

var ErrMeetingNotFound = errors.New("meetings: meeting not found")
