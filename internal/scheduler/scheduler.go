package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Redis-backed job queues for the pipeline's explicit re-trigger model:
// every mutation enqueues one advance, every ready transition enqueues one
// assembly. Jobs are JSON blobs on redis lists, consumed with BLPOP.
const (
	QueueAdvance  = "queue:advance"
	QueueAssemble = "queue:assemble"
)

type Scheduler struct {
	client *redis.Client
}

// Job is one queued pipeline invocation.
type Job struct {
	SessionID uuid.UUID `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

func New(redisURL string) (*Scheduler, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Scheduler{client: client}, nil
}

func (s *Scheduler) Close() error {
	return s.client.Close()
}

func (s *Scheduler) enqueue(ctx context.Context, queueName string, sessionID uuid.UUID) error {
	job := Job{SessionID: sessionID, CreatedAt: time.Now()}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return s.client.RPush(ctx, queueName, data).Err()
}

// EnqueueAdvance queues one pipeline advance for a session.
func (s *Scheduler) EnqueueAdvance(ctx context.Context, sessionID uuid.UUID) error {
	return s.enqueue(ctx, QueueAdvance, sessionID)
}

// EnqueueAssemble queues one assembly run for a session.
func (s *Scheduler) EnqueueAssemble(ctx context.Context, sessionID uuid.UUID) error {
	return s.enqueue(ctx, QueueAssemble, sessionID)
}

func (s *Scheduler) dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	result, err := s.client.BLPop(ctx, timeout, queueName).Result()
	if err == redis.Nil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// Handler consumes dequeued jobs; implemented by the pipeline manager.
type Handler interface {
	Advance(ctx context.Context, sessionID uuid.UUID) error
	Assemble(ctx context.Context, sessionID uuid.UUID) error
}

// Run consumes both queues until the context is cancelled. Advance jobs are
// processed serially (the pipeline dispatches at most one batch per
// invocation and its own running guard collapses duplicates), while assembly
// runs on the same loop because at most one assembly is ever authorized at a
// time.
func (s *Scheduler) Run(ctx context.Context, h Handler) {
	log.Println("[Scheduler] Job loop started")
	go s.consume(ctx, QueueAdvance, func(jctx context.Context, job *Job) error {
		return h.Advance(jctx, job.SessionID)
	})
	go s.consume(ctx, QueueAssemble, func(jctx context.Context, job *Job) error {
		return h.Assemble(jctx, job.SessionID)
	})
	<-ctx.Done()
	log.Println("[Scheduler] Job loop shutting down...")
}

func (s *Scheduler) consume(ctx context.Context, queueName string, handler func(context.Context, *Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := s.dequeue(ctx, queueName, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("[Scheduler] Error dequeuing from %s: %v", queueName, err)
				continue
			}

			if job == nil {
				continue // No job available, retry
			}

			if err := handler(ctx, job); err != nil {
				log.Printf("[Scheduler] Job for session %s on %s failed: %v", job.SessionID, queueName, err)
			}
		}
	}
}
