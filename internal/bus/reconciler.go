package bus

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"agent-platform/internal/common/logging"
	"agent-platform/internal/models"
	"agent-platform/internal/storage"
)

// ReconcilerConfig controls the stale-event sweep.
type ReconcilerConfig struct {
	// Schedule is a cron spec. Defaults to every minute.
	Schedule string
	// MinAge is how old a PENDING event must be before it is republished.
	MinAge time.Duration
	// BatchLimit caps the number of events republished per sweep.
	BatchLimit int
}

func (c *ReconcilerConfig) defaults() {
	if c.Schedule == "" {
		c.Schedule = "@every 1m"
	}
	if c.MinAge <= 0 {
		c.MinAge = time.Minute
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 100
	}
}

// Reconciler republishes PENDING events whose transport publish was lost,
// typically because the broker was down when Publish wrote the row.
type Reconciler struct {
	bus     *EventBus
	storage storage.Storage
	config  ReconcilerConfig
	logger  logging.Logger
	cron    *cron.Cron
}

// NewReconciler creates a reconciler over the bus's storage and transport.
func NewReconciler(bus *EventBus, config ReconcilerConfig, logger logging.Logger) *Reconciler {
	config.defaults()
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Reconciler{
		bus:     bus,
		storage: bus.storage,
		config:  config,
		logger:  logger.WithFields(logging.String("component", "event_reconciler")),
		cron:    cron.New(),
	}
}

// Start schedules the sweep. Stop must be called on shutdown.
func (r *Reconciler) Start() error {
	_, err := r.cron.AddFunc(r.config.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.Sweep(ctx); err != nil {
			r.logger.Error("reconcile sweep failed", err)
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("reconciler started", logging.String("schedule", r.config.Schedule))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reconciler) Stop() {
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
}

// Sweep republishes one batch of stale PENDING events.
func (r *Reconciler) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.config.MinAge)
	events, err := r.storage.ListEventsByStatus(ctx, models.EventStatusPending, cutoff, r.config.BatchLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	republished := 0
	for _, event := range events {
		if err := r.bus.publishToTransport(ctx, event); err != nil {
			r.logger.Warn("republish failed",
				logging.Int64("event_id", event.ID),
				logging.String("error", err.Error()))
			continue
		}
		republished++
	}

	r.logger.Info("reconcile sweep finished",
		logging.Int("stale", len(events)),
		logging.Int("republished", republished))
	return nil
}
