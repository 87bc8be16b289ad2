package bulkops

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tair/roomsync/pkg/logger"
)

// BatchStatus enumerates the lifecycle of an asynchronous batch
type BatchStatus string

const (
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// Batch tracks one bulk operation's progress.
type Batch struct {
	BatchID     string      `json:"batch_id"`
	Operation   string      `json:"operation"`
	Status      BatchStatus `json:"status"`
	Total       int         `json:"total"`
	Processed   int         `json:"processed"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Result      *Result     `json:"result,omitempty"`
}

// Registry is the process-wide batch table. Progress is ephemeral and
// lives in memory under a mutex; each update is mirrored to redis with a
// TTL so long-running batches survive a restart of the reading side.
type Registry struct {
	mu      sync.Mutex
	batches map[string]*Batch
	mirror  *redis.Client
	ttl     time.Duration
}

// NewRegistry creates a new batch registry. mirror may be nil.
func NewRegistry(mirror *redis.Client) *Registry {
	return &Registry{
		batches: make(map[string]*Batch),
		mirror:  mirror,
		ttl:     24 * time.Hour,
	}
}

// Create registers a new processing batch.
func (r *Registry) Create(ctx context.Context, batchID, operation string, total int) *Batch {
	batch := &Batch{
		BatchID:   batchID,
		Operation: operation,
		Status:    BatchProcessing,
		Total:     total,
		StartedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.batches[batchID] = batch
	r.mu.Unlock()

	r.mirrorBatch(ctx, batch)
	return batch
}

// Progress advances the processed count.
func (r *Registry) Progress(ctx context.Context, batchID string, processed int) {
	r.mu.Lock()
	batch, ok := r.batches[batchID]
	if ok {
		batch.Processed = processed
	}
	var snapshot *Batch
	if ok {
		c := *batch
		snapshot = &c
	}
	r.mu.Unlock()

	if snapshot != nil {
		r.mirrorBatch(ctx, snapshot)
	}
}

// Complete finalizes a batch with its full per-item result.
func (r *Registry) Complete(ctx context.Context, batchID string, status BatchStatus, result *Result) {
	now := time.Now().UTC()

	r.mu.Lock()
	batch, ok := r.batches[batchID]
	var snapshot *Batch
	if ok {
		batch.Status = status
		batch.CompletedAt = &now
		batch.Result = result
		if result != nil {
			batch.Processed = result.Total
		}
		c := *batch
		snapshot = &c
	}
	r.mu.Unlock()

	if snapshot != nil {
		r.mirrorBatch(ctx, snapshot)
	}
}

// Get returns a batch by id, nil when unknown.
func (r *Registry) Get(batchID string) *Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[batchID]
	if !ok {
		return nil
	}
	c := *batch
	return &c
}

// Active returns all batches still processing.
func (r *Registry) Active() []Batch {
	r.mu.Lock()
	defer r.mu.Unlock()

	var active []Batch
	for _, batch := range r.batches {
		if batch.Status == BatchProcessing {
			active = append(active, *batch)
		}
	}
	return active
}

// Run evicts aged-out batches until the context is cancelled. Without it
// the in-memory table only ever grows; one loop per process is enough.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict(r.ttl)
		}
	}
}

// Evict drops completed batches older than age from memory; the redis
// mirror keeps them readable until its TTL lapses.
func (r *Registry) Evict(age time.Duration) {
	cutoff := time.Now().UTC().Add(-age)

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, batch := range r.batches {
		if batch.CompletedAt != nil && batch.CompletedAt.Before(cutoff) {
			delete(r.batches, id)
		}
	}
}

func (r *Registry) mirrorBatch(ctx context.Context, batch *Batch) {
	if r.mirror == nil {
		return
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return
	}
	key := fmt.Sprintf("bulk:batch:%s", batch.BatchID)
	if err := r.mirror.Set(ctx, key, payload, r.ttl).Err(); err != nil {
		logger.Warn(ctx).Err(err).Str("batch_id", batch.BatchID).Msg("Failed to mirror batch progress")
	}
}
