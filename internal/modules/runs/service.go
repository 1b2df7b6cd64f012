package runs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/quantlab/internal/events"
	"github.com/aristath/quantlab/internal/metrics"
	"github.com/aristath/quantlab/internal/progress"
	"github.com/rs/zerolog"
)

// Work performs the analysis of a run and returns its result.
type Work func(ctx context.Context, reporter *progress.Reporter) (any, error)

// Service executes runs, persisting their lifecycle, emitting progress on
// the bus and recording metrics. bus and metrics may be nil.
type Service struct {
	repo    *Repository
	bus     *events.Bus
	metrics *metrics.Metrics
	log     zerolog.Logger

	// mu orders Submit's registration with Shutdown
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a run service.
func NewService(repo *Repository, bus *events.Bus, m *metrics.Metrics, log zerolog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		repo:    repo,
		bus:     bus,
		metrics: m,
		log:     log.With().Str("component", "runs").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Execute runs work synchronously. The returned run carries the in-memory
// result; the error is the one work returned. A storage failure before work
// starts returns a nil run.
func (s *Service) Execute(ctx context.Context, kind Kind, request any, work Work) (*Run, error) {
	run, err := s.repo.Create(ctx, kind, request)
	if err != nil {
		return nil, err
	}
	return run, s.execute(ctx, run, work)
}

// Submit stores the run and executes work in the background. The run is
// cancelled by Shutdown.
func (s *Service) Submit(kind Kind, request any, work Work) (*Run, error) {
	s.mu.Lock()
	if err := s.ctx.Err(); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("run service is shutting down: %w", err)
	}
	s.wg.Add(1)
	s.mu.Unlock()

	run, err := s.repo.Create(s.ctx, kind, request)
	if err != nil {
		s.wg.Done()
		return nil, err
	}

	go func() {
		defer s.wg.Done()
		background := *run
		_ = s.execute(s.ctx, &background, work)
	}()
	return run, nil
}

func (s *Service) execute(ctx context.Context, run *Run, work Work) error {
	var emitter progress.Emitter
	if s.bus != nil {
		emitter = s.bus.Emitter(string(run.Kind))
	}
	reporter := progress.NewReporter(emitter, run.ID, string(run.Kind))
	log := s.log.With().Str("run_id", run.ID).Str("kind", string(run.Kind)).Logger()

	s.metrics.RunStarted()
	reporter.Started()
	started := time.Now()

	result, err := work(ctx, reporter)
	duration := time.Since(started)

	// persist even when the request context is gone
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err == nil {
		if storeErr := s.repo.Complete(storeCtx, run.ID, result, duration); storeErr != nil {
			log.Error().Err(storeErr).Msg("Failed to store run result")
			err = fmt.Errorf("store result: %w", storeErr)
		}
	}

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.DurationMs = duration.Milliseconds()

	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		if storeErr := s.repo.Fail(storeCtx, run.ID, err, duration); storeErr != nil && !errors.Is(storeErr, ErrRunNotFound) {
			log.Error().Err(storeErr).Msg("Failed to mark run failed")
		}
		reporter.Failed(err)
		s.metrics.RunFinished(string(run.Kind), string(StatusFailed), duration)
		log.Warn().Err(err).Dur("duration", duration).Msg("Run failed")
		return err
	}

	run.Status = StatusCompleted
	run.Result = result
	reporter.Completed()
	s.metrics.RunFinished(string(run.Kind), string(StatusCompleted), duration)
	log.Info().Dur("duration", duration).Msg("Run completed")
	return nil
}

// Get loads a stored run.
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	return s.repo.Get(ctx, id)
}

// List lists stored runs.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]Run, error) {
	return s.repo.List(ctx, opts)
}

// Delete removes a stored run.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Emit(events.RunDeleted, "runs", &events.RunDeletedData{RunID: id})
	}
	return nil
}

// Counts returns the number of stored runs per status.
func (s *Service) Counts(ctx context.Context) (map[Status]int, error) {
	return s.repo.CountByStatus(ctx)
}

// Shutdown cancels background runs and waits for them until ctx expires.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
