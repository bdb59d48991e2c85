package meetings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wolfman30/telehealth-booking/internal/events"
	"github.com/wolfman30/telehealth-booking/internal/observability/metrics"
	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

// ReferenceChecker reports whether any appointment still points at a meeting.
type ReferenceChecker interface {
	MeetingReferenced(ctx context.Context, meetingID string) (bool, error)
}

// Reconciler removes meetings that no appointment references once they are
// older than the grace period, together with their provider rooms.
type Reconciler struct {
	store       Store
	refs        ReferenceChecker
	provisioner *Provisioner
	logger      *logging.Logger
	metrics     *metrics.BookingMetrics
	grace       time.Duration
	interval    time.Duration
	batchSize   int
	now         func() time.Time
}

func NewReconciler(store Store, refs ReferenceChecker, provisioner *Provisioner, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{
		store:       store,
		refs:        refs,
		provisioner: provisioner,
		logger:      logger,
		grace:       15 * time.Minute,
		interval:    5 * time.Minute,
		batchSize:   100,
		now:         time.Now,
	}
}

func (r *Reconciler) WithGrace(grace time.Duration) *Reconciler {
	if grace > 0 {
		r.grace = grace
	}
	return r
}

func (r *Reconciler) WithInterval(interval time.Duration) *Reconciler {
	if interval > 0 {
		r.interval = interval
	}
	return r
}

func (r *Reconciler) WithMetrics(m *metrics.BookingMetrics) *Reconciler {
	r.metrics = m
	return r
}

func (r *Reconciler) Start(ctx context.Context) {
	if r.store == nil || r.refs == nil || r.provisioner == nil {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("meeting reconcile pass failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single pass over every meeting older than the grace
// period and returns how many were removed.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.grace)
	removed := 0
	var after Cursor
	for {
		page, err := r.store.ListCreatedBefore(ctx, cutoff, after, r.batchSize)
		if err != nil {
			r.metrics.ObserveReconciled(removed)
			return removed, err
		}
		for _, m := range page {
			if r.reconcile(ctx, m) {
				removed++
			}
		}
		if len(page) < r.batchSize || ctx.Err() != nil {
			break
		}
		after = CursorAfter(page[len(page)-1])
	}
	r.metrics.ObserveReconciled(removed)
	return removed, ctx.Err()
}

func (r *Reconciler) reconcile(ctx context.Context, m *Meeting) bool {
	referenced, err := r.refs.MeetingReferenced(ctx, m.ID)
	if err != nil {
		r.logger.Error("meeting reference check failed", "error", err, "meeting_id", m.ID)
		return false
	}
	if referenced {
		return false
	}
	if err := r.provisioner.Release(ctx, m, "unreferenced"); err != nil {
		return false
	}
	r.logger.Info("orphaned meeting removed", "meeting_id", m.ID, "owner_id", m.OwnerID)
	return true
}

// OrphanRoomHandler deletes the provider room named by a meeting.orphan_room
// event. It fails while the provider cannot confirm deletion so the outbox
// keeps retrying.
func OrphanRoomHandler(p *Provisioner) events.DeliveryHandler {
	return events.HandlerFunc(func(ctx context.Context, entry events.OutboxEntry) error {
		var evt events.OrphanRoomV1
		if err := json.Unmarshal(entry.Payload, &evt); err != nil {
			return fmt.Errorf("meetings: decode orphan room event: %w", err)
		}
		if evt.RoomID == "" {
			return nil
		}
		if err := p.DeleteRemoteRoom(ctx, evt.RoomID); err != nil {
			return fmt.Errorf("meetings: delete orphan room %s: %w", evt.RoomID, err)
		}
		p.logger.Info("orphan room deleted", "room_id", evt.RoomID, "reason", evt.Reason)
		return nil
	})
}
