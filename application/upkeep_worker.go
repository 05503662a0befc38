package application

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"raffler/domain/services"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// UpkeepWorker polls the engine on a cron schedule and triggers draws
type UpkeepWorker struct {
	engine   UpkeepEngine
	schedule string
	cron     *cron.Cron

	// serializes ticks so a slow oracle never stacks requests
	mu sync.Mutex
}

// NewUpkeepWorker creates a worker that runs on the given cron spec, e.g. "@every 10s"
func NewUpkeepWorker(engine UpkeepEngine, schedule string) *UpkeepWorker {
	return &UpkeepWorker{
		engine:   engine,
		schedule: schedule,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start schedules the upkeep job and returns a stop function
func (w *UpkeepWorker) Start(ctx context.Context) (func(), error) {
	_, err := w.cron.AddFunc(w.schedule, func() {
		if _, err := w.Tick(ctx); err != nil {
			log.WithError(err).Error("Upkeep tick failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid upkeep schedule %q: %w", w.schedule, err)
	}

	w.cron.Start()
	log.WithField("schedule", w.schedule).Info("Upkeep worker started")

	return func() {
		stopCtx := w.cron.Stop()
		<-stopCtx.Done()
		log.Info("Upkeep worker stopped")
	}, nil
}

// Tick runs one upkeep pass. It returns the request id issued, or 0 when nothing was due.
func (w *UpkeepWorker) Tick(ctx context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ctx.Err() != nil {
		return 0, nil
	}

	if w.engine.RedrawDue() {
		requestID, err := w.engine.RequestRedraw(ctx)
		if err != nil {
			if errors.Is(err, services.ErrRedrawNotAllowed) {
				return 0, nil
			}
			return 0, fmt.Errorf("failed to request redraw: %w", err)
		}
		return requestID, nil
	}

	if !w.engine.CheckUpkeep() {
		return 0, nil
	}

	requestID, err := w.engine.PerformUpkeep(ctx)
	if err != nil {
		// Another caller may have started the draw between check and perform
		if services.IsUpkeepNotNeeded(err) {
			log.WithError(err).Debug("Upkeep no longer needed")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to perform upkeep: %w", err)
	}

	return requestID, nil
}
