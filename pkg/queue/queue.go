package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/coscribe/coscribe/pkg/cache"
	"github.com/coscribe/coscribe/pkg/log"
	"github.com/coscribe/coscribe/pkg/metrics"
	"github.com/coscribe/coscribe/pkg/types"
)

// Stats is a point-in-time view of the three queue structures.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Failed     int64 `json:"failed"`
}

// Queue is the durable FIFO of pending persistence jobs. Pending jobs are
// pushed at the head and popped at the tail; the pop is atomic, so
// multiple worker processes may drain one queue. A popped job sits in the
// processing hash until completed or failed; exhausted jobs land in the
// dead-letter list.
type Queue struct {
	store       *cache.Store
	maxAttempts int
	backoff     time.Duration
	logger      zerolog.Logger
}

// New creates a queue with the given retry policy.
func New(store *cache.Store, maxAttempts int, backoff time.Duration) *Queue {
	return &Queue{
		store:       store,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      log.WithComponent("queue"),
	}
}

// NewJobID generates a job id from the clock plus a random suffix.
func NewJobID() string {
	suffix := strings.Split(uuid.New().String(), "-")[0]
	return fmt.Sprintf("job_%d_%s", types.NowMs(), suffix)
}

// Enqueue pushes a new job and returns it.
func (q *Queue) Enqueue(ctx context.Context, jobType types.JobType, payload any) (*types.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job payload: %w", err)
	}

	job := &types.Job{
		ID:          NewJobID(),
		Type:        jobType,
		Payload:     raw,
		MaxAttempts: q.maxAttempts,
		BackoffMs:   q.backoff.Milliseconds(),
		CreatedAt:   types.NowMs(),
	}
	if err := q.push(ctx, job); err != nil {
		return nil, err
	}

	metrics.JobsEnqueuedTotal.Inc()
	return job, nil
}

// DequeueOne pops the oldest pending job and records it in the processing
// hash. Returns nil when the queue is empty. A job whose retry backoff has
// not elapsed yet is rotated back to the head of the list, so retries
// survive a process restart. The pop and the processing write are not one
// atomic step; a crash in between orphans the job, which the upstream
// change check makes safe to re-enqueue.
func (q *Queue) DequeueOne(ctx context.Context) (*types.Job, error) {
	cctx, cancel := q.store.Context(ctx)
	defer cancel()
	client := q.store.Client()

	raw, err := client.RPop(cctx, cache.PendingKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop pending job: %w", err)
	}

	var job types.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}

	if job.ScheduledFor > types.NowMs() {
		if err := client.LPush(cctx, cache.PendingKey, raw).Err(); err != nil {
			return nil, fmt.Errorf("failed to requeue deferred job: %w", err)
		}
		return nil, nil
	}

	job.ProcessingStartedAt = types.NowMs()
	snapshot, err := json.Marshal(&job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode processing snapshot: %w", err)
	}
	if err := client.HSet(cctx, cache.ProcessingKey, job.ID, snapshot).Err(); err != nil {
		return nil, fmt.Errorf("failed to record processing job: %w", err)
	}
	return &job, nil
}

// Complete removes a finished job from the processing hash.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	cctx, cancel := q.store.Context(ctx)
	defer cancel()
	if err := q.store.Client().HDel(cctx, cache.ProcessingKey, jobID).Err(); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	metrics.JobsCompletedTotal.Inc()
	return nil
}

// Fail records a job failure. Retryable failures below the attempt limit
// go straight back to the pending list stamped with the time the retry
// becomes due, so a process crash cannot drop them; everything else
// dead-letters. The returned bool reports whether the job was
// dead-lettered.
func (q *Queue) Fail(ctx context.Context, job *types.Job, cause error, retryable bool) (bool, error) {
	cctx, cancel := q.store.Context(ctx)
	defer cancel()
	if err := q.store.Client().HDel(cctx, cache.ProcessingKey, job.ID).Err(); err != nil {
		return false, fmt.Errorf("failed to clear processing job: %w", err)
	}

	job.Attempts++
	if retryable && job.Attempts < job.MaxAttempts {
		job.ScheduledFor = types.NowMs() + job.BackoffMs
		q.logger.Info().
			Str("job_id", job.ID).
			Int("attempts", job.Attempts).
			Dur("backoff", time.Duration(job.BackoffMs)*time.Millisecond).
			Err(cause).
			Msg("job failed, scheduling retry")
		metrics.JobsFailedTotal.WithLabelValues("retry").Inc()

		if err := q.push(ctx, job); err != nil {
			return false, err
		}
		return false, nil
	}

	job.Error = cause.Error()
	job.FailedAt = types.NowMs()
	raw, err := json.Marshal(job)
	if err != nil {
		return true, fmt.Errorf("failed to encode dead-letter job: %w", err)
	}
	if err := q.store.Client().LPush(cctx, cache.FailedKey, raw).Err(); err != nil {
		return true, fmt.Errorf("failed to dead-letter job: %w", err)
	}

	q.logger.Error().
		Str("job_id", job.ID).
		Int("attempts", job.Attempts).
		Err(cause).
		Msg("job dead-lettered")
	metrics.JobsFailedTotal.WithLabelValues("dead_letter").Inc()
	return true, nil
}

// Stats returns the pending, processing and failed counts.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	cctx, cancel := q.store.Context(ctx)
	defer cancel()
	client := q.store.Client()

	pending, err := client.LLen(cctx, cache.PendingKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pending count: %w", err)
	}
	processing, err := client.HLen(cctx, cache.ProcessingKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read processing count: %w", err)
	}
	failed, err := client.LLen(cctx, cache.FailedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read failed count: %w", err)
	}
	return &Stats{Pending: pending, Processing: processing, Failed: failed}, nil
}

// FailedJobs returns up to limit jobs from the dead-letter list, newest
// first.
func (q *Queue) FailedJobs(ctx context.Context, limit int) ([]*types.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	cctx, cancel := q.store.Context(ctx)
	defer cancel()

	raws, err := q.store.Client().LRange(cctx, cache.FailedKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-letter jobs: %w", err)
	}

	jobs := make([]*types.Job, 0, len(raws))
	for _, raw := range raws {
		var job types.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.logger.Warn().Err(err).Msg("dropping undecodable dead-letter entry")
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// RetryFailed moves a dead-lettered job back to pending with its attempts
// and error reset.
func (q *Queue) RetryFailed(ctx context.Context, jobID string) (*types.Job, error) {
	cctx, cancel := q.store.Context(ctx)
	defer cancel()
	client := q.store.Client()

	raws, err := client.LRange(cctx, cache.FailedKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan dead-letter list: %w", err)
	}

	for _, raw := range raws {
		var job types.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		if job.ID != jobID {
			continue
		}
		if err := client.LRem(cctx, cache.FailedKey, 1, raw).Err(); err != nil {
			return nil, fmt.Errorf("failed to remove dead-letter entry: %w", err)
		}

		job.Attempts = 0
		job.Error = ""
		job.FailedAt = 0
		job.ScheduledFor = 0
		if err := q.push(ctx, &job); err != nil {
			return nil, err
		}
		return &job, nil
	}
	return nil, fmt.Errorf("job %s not found in dead-letter list", jobID)
}

// Clear drops all three queue structures. Admin only.
func (q *Queue) Clear(ctx context.Context) error {
	cctx, cancel := q.store.Context(ctx)
	defer cancel()
	if err := q.store.Client().Del(cctx, cache.PendingKey, cache.ProcessingKey, cache.FailedKey).Err(); err != nil {
		return fmt.Errorf("failed to clear queues: %w", err)
	}
	return nil
}

func (q *Queue) push(ctx context.Context, job *types.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	cctx, cancel := q.store.Context(ctx)
	defer cancel()
	if err := q.store.Client().LPush(cctx, cache.PendingKey, raw).Err(); err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}
	return nil
}
