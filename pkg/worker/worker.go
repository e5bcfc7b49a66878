package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coscribe/coscribe/pkg/content"
	"github.com/coscribe/coscribe/pkg/docs"
	"github.com/coscribe/coscribe/pkg/events"
	"github.com/coscribe/coscribe/pkg/log"
	"github.com/coscribe/coscribe/pkg/metrics"
	"github.com/coscribe/coscribe/pkg/queue"
	"github.com/coscribe/coscribe/pkg/types"
)

// Config holds worker configuration.
type Config struct {
	Tick       time.Duration
	JobTimeout time.Duration
}

// Worker drains the persistence queue. One tick at a time per process;
// running several worker processes is safe because the queue pop is
// atomic.
type Worker struct {
	queue   *queue.Queue
	gateway docs.Gateway
	cache   *content.Cache
	broker  *events.Broker

	tick       time.Duration
	jobTimeout time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
	logger zerolog.Logger
}

// New creates a worker over the queue, data gateway and content cache.
func New(q *queue.Queue, gateway docs.Gateway, cache *content.Cache, broker *events.Broker, cfg Config) *Worker {
	return &Worker{
		queue:      q,
		gateway:    gateway,
		cache:      cache,
		broker:     broker,
		tick:       cfg.Tick,
		jobTimeout: cfg.JobTimeout,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		logger:     log.WithComponent("worker"),
	}
}

// Start begins the polling loop.
func (w *Worker) Start() {
	go w.run()
	w.logger.Info().Dur("tick", w.tick).Msg("queue worker started")
}

// Stop drains the in-flight job to completion or its timeout, then stops
// polling.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.logger.Info().Msg("queue worker stopped")
}

func (w *Worker) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.processOne(); err != nil {
				w.logger.Error().Err(err).Msg("tick failed")
			}
		case <-w.stopCh:
			return
		}
	}
}

// processOne pops and handles at most one job.
func (w *Worker) processOne() error {
	job, err := w.queue.DequeueOne(context.Background())
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	started := time.Now()
	logger := w.logger.With().Str("job_id", job.ID).Str("type", string(job.Type)).Logger()
	logger.Debug().Int("attempts", job.Attempts).Msg("processing job")

	ctx, cancel := context.WithTimeout(context.Background(), w.jobTimeout)
	defer cancel()

	var handleErr error
	var retryable bool
	switch job.Type {
	case types.JobTypeDocumentUpdate:
		handleErr, retryable = w.handleDocumentUpdate(ctx, job)
	default:
		handleErr, retryable = fmt.Errorf("unknown job type %q", job.Type), false
	}

	if handleErr == nil {
		if err := w.queue.Complete(context.Background(), job.ID); err != nil {
			return err
		}
		metrics.JobDuration.Observe(time.Since(started).Seconds())
		w.broker.Publish(&events.Event{
			Type:     events.EventJobCompleted,
			Message:  "job completed",
			Metadata: map[string]string{"job_id": job.ID},
		})
		logger.Info().Dur("took", time.Since(started)).Msg("job completed")
		return nil
	}

	// A blown job timeout is a retryable failure like any other transient.
	if errors.Is(handleErr, context.DeadlineExceeded) {
		retryable = true
	}

	deadLettered, err := w.queue.Fail(context.Background(), job, handleErr, retryable)
	if err != nil {
		return err
	}
	eventType := events.EventJobFailed
	if deadLettered {
		eventType = events.EventJobDeadLettered
	}
	w.broker.Publish(&events.Event{
		Type:     eventType,
		Message:  handleErr.Error(),
		Metadata: map[string]string{"job_id": job.ID},
	})
	return nil
}

// handleDocumentUpdate writes the update through the data gateway,
// refreshes the content cache and appends history. Returns the handling
// error and whether it is retryable.
func (w *Worker) handleDocumentUpdate(ctx context.Context, job *types.Job) (error, bool) {
	var update types.DocumentUpdate
	if err := json.Unmarshal(job.Payload, &update); err != nil {
		return fmt.Errorf("undecodable payload: %w", err), false
	}

	doc, err := w.gateway.UpdateDocument(ctx, update.DocumentID, update.PrincipalID, update.Title, update.Body)
	if err != nil {
		switch {
		case errors.Is(err, docs.ErrNotFound):
			return fmt.Errorf("document_not_found: %w", err), false
		case errors.Is(err, docs.ErrPermissionDenied):
			return fmt.Errorf("permission_denied: %w", err), false
		default:
			return fmt.Errorf("failed to update document: %w", err), true
		}
	}

	// The durable write already happened; a cache refresh failure only
	// degrades the no-op check, which fails safe on its own.
	if err := w.cache.Put(ctx, doc.ID, doc.Body, doc.Title); err != nil {
		w.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("content cache refresh failed")
	}

	// History is best effort and never fails the job.
	entry := &docs.HistoryEntry{
		DocumentID:  update.DocumentID,
		PrincipalID: update.PrincipalID,
		Operation:   string(types.JobTypeDocumentUpdate),
		Version:     types.NowMs(),
	}
	if err := w.gateway.AppendEditHistory(ctx, entry); err != nil {
		w.logger.Warn().Err(err).Str("document_id", update.DocumentID).Msg("edit history append failed")
	}

	return nil, false
}
