package meetings

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/telehealth-booking/internal/booking"
	"github.com/wolfman30/telehealth-booking/internal/events"
	"github.com/wolfman30/telehealth-booking/internal/observability/metrics"
	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

var meetingsTracer = otel.Tracer("telehealth.internal.meetings")

// ProvisionerConfig bounds the local persist retry and the compensation call.
type ProvisionerConfig struct {
	PersistAttempts     int
	PersistBackoff      time.Duration
	CompensationTimeout time.Duration
}

func (c ProvisionerConfig) withDefaults() ProvisionerConfig {
	if c.PersistAttempts <= 0 {
		c.PersistAttempts = 3
	}
	if c.PersistBackoff < 0 {
		c.PersistBackoff = 0
	}
	if c.CompensationTimeout <= 0 {
		c.CompensationTimeout = 10 * time.Second
	}
	return c
}

// Provisioner creates a provider room and its local Meeting record as one
// unit. A room whose record cannot be kept is released at the provider, and
// a release that fails is queued as a meeting.orphan_room event.
type Provisioner struct {
	provider Provider
	store    Store
	outbox   events.Publisher
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
	cfg      ProvisionerConfig
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// ProvisionerOption customises a Provisioner.
type ProvisionerOption func(*Provisioner)

func WithOutbox(p events.Publisher) ProvisionerOption {
	return func(pr *Provisioner) { pr.outbox = p }
}

func WithMetrics(m *metrics.BookingMetrics) ProvisionerOption {
	return func(pr *Provisioner) { pr.metrics = m }
}

func WithLogger(l *logging.Logger) ProvisionerOption {
	return func(pr *Provisioner) {
		if l != nil {
			pr.logger = l
		}
	}
}

func NewProvisioner(provider Provider, store Store, cfg ProvisionerConfig, opts ...ProvisionerOption) *Provisioner {
	if provider == nil {
		panic("meetings: provider required")
	}
	if store == nil {
		panic("meetings: store required")
	}
	p := &Provisioner{
		provider: provider,
		store:    store,
		logger:   logging.Default(),
		cfg:      cfg.withDefaults(),
		sleep:    sleepCtx,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision creates a room for ownerID at scheduledTime and records it.
// Provider failures surface as ProviderUnavailable with nothing persisted;
// a room that cannot be recorded is released and surfaces as ProvisioningRolledBack.
func (p *Provisioner) Provision(ctx context.Context, ownerID string, scheduledTime time.Time) (*Meeting, error) {
	ctx, span := meetingsTracer.Start(ctx, "meetings.provision")
	defer span.End()
	span.SetAttributes(attribute.String("telehealth.patient_id", ownerID))

	token, err := p.provider.MintToken(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, booking.E(booking.KindProviderUnavailable, "meetings.provision", "video provider credentials unavailable", err)
	}

	start := time.Now()
	room, err := p.provider.CreateRoom(ctx, token)
	p.metrics.ObserveProviderCall("create_room", err == nil, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		p.logger.Warn("provider room creation failed", "error", err, "owner_id", ownerID)
		return nil, booking.E(booking.KindProviderUnavailable, "meetings.provision", "video provider unavailable", err)
	}
	span.SetAttributes(attribute.String("telehealth.meeting_id", room.ID))

	m := &Meeting{
		ID:            room.ID,
		OwnerID:       ownerID,
		ScheduledTime: scheduledTime.UTC(),
		AccessToken:   token.Value,
	}
	if err := p.persist(ctx, m); err != nil {
		span.RecordError(err)
		p.logger.Error("meeting persist failed, releasing room", "error", err, "room_id", m.ID)
		_ = p.Release(ctx, m, "persist_failed")
		return nil, booking.E(booking.KindProvisioningRolledBack, "meetings.provision", "meeting could not be recorded and was rolled back", err)
	}
	return m, nil
}

func (p *Provisioner) persist(ctx context.Context, m *Meeting) error {
	var err error
	for attempt := 1; attempt <= p.cfg.PersistAttempts; attempt++ {
		if err = p.store.Create(ctx, m); err == nil {
			return nil
		}
		if ctx.Err() != nil || attempt == p.cfg.PersistAttempts {
			break
		}
		p.logger.Warn("meeting persist attempt failed", "error", err, "room_id", m.ID, "attempt", attempt)
		if sleepErr := p.sleep(ctx, p.cfg.PersistBackoff*time.Duration(attempt)); sleepErr != nil {
			return errors.Join(err, sleepErr)
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(err, ctxErr)
	}
	return err
}

// Release removes the local record and the provider room of m. It runs on a
// context detached from the caller's cancellation, bounded by the compensation
// timeout. A room that cannot be deleted is logged with reconcile=true and
// queued for the orphan room janitor.
func (p *Provisioner) Release(ctx context.Context, m *Meeting, reason string) error {
	if m == nil || m.ID == "" {
		return nil
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CompensationTimeout)
	defer cancel()

	var localErr error
	if err := p.store.Delete(cctx, m.ID); err != nil && !errors.Is(err, ErrMeetingNotFound) {
		localErr = err
		p.logger.Error("meeting record delete failed", "error", err, "room_id", m.ID, "reason", reason, "reconcile", true)
	}

	roomErr := p.DeleteRemoteRoom(cctx, m.ID)
	p.metrics.ObserveCompensation(reason, roomErr == nil && localErr == nil)
	if roomErr != nil {
		p.logger.Error("meeting compensation failed", "error", roomErr, "room_id", m.ID, "reason", reason, "reconcile", true)
		p.queueOrphan(cctx, m, reason)
	}
	return errors.Join(localErr, roomErr)
}

// DeleteRemoteRoom deletes roomID at the provider. A room the provider no
// longer knows about counts as deleted.
func (p *Provisioner) DeleteRemoteRoom(ctx context.Context, roomID string) error {
	token, err := p.provider.MintToken(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	err = p.provider.DeleteRoom(ctx, token, roomID)
	p.metrics.ObserveProviderCall("delete_room", err == nil, time.Since(start).Seconds())
	var perr *ProviderError
	if errors.As(err, &perr) && perr.NotFound() {
		return nil
	}
	return err
}

func (p *Provisioner) queueOrphan(ctx context.Context, m *Meeting, reason string) {
	if p.outbox == nil {
		return
	}
	payload := events.OrphanRoomV1{
		RoomID:        m.ID,
		OwnerID:       m.OwnerID,
		ScheduledTime: m.ScheduledTime,
		Reason:        reason,
		DetectedAt:    p.now().UTC(),
	}
	if _, err := p.outbox.Insert(ctx, m.ID, events.TypeMeetingOrphanRoom, payload); err != nil {
		p.logger.Error("orphan room event not recorded", "error", err, "room_id", m.ID, "reconcile", true)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
