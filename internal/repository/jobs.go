package repository

import (
	"context"
	"sync"
	"time"

	"github.com/iago/pdf-processor-back/internal/domain"
)

// Mutator changes a job inside an atomic update. Returning an error aborts the
// update and leaves the stored record untouched.
type Mutator func(job *domain.Job) error

// JobsRepository is the artifact store for job records. Expired records behave
// exactly like records that never existed and yield domain.ErrNotFound.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.Job, ttl time.Duration) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	// UpdateJob applies mutate atomically and keeps the remaining TTL.
	UpdateJob(ctx context.Context, jobID string, mutate Mutator) (*domain.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
	Ping(ctx context.Context) error
}

// MemoryJobsRepository stores jobs in memory for local development and tests.
type MemoryJobsRepository struct {
	mu   sync.Mutex
	jobs map[string]memoryEntry
	now  func() time.Time
}

type memoryEntry struct {
	job       *domain.Job
	expiresAt time.Time
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs: make(map[string]memoryEntry),
		now:  time.Now,
	}
}

// WithClock replaces the time source used for expiry.
func (r *MemoryJobsRepository) WithClock(now func() time.Time) *MemoryJobsRepository {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	return r
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.Job, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = memoryEntry{
		job:       job.Clone(),
		expiresAt: r.now().Add(ttl),
	}
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.live(jobID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return entry.job.Clone(), nil
}

func (r *MemoryJobsRepository) UpdateJob(_ context.Context, jobID string, mutate Mutator) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.live(jobID)
	if !ok {
		return nil, domain.ErrNotFound
	}

	working := entry.job.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}
	entry.job = working
	r.jobs[jobID] = entry
	return working.Clone(), nil
}

func (r *MemoryJobsRepository) DeleteJob(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.jobs, jobID)
	return nil
}

func (r *MemoryJobsRepository) Ping(context.Context) error {
	return nil
}

// live returns the entry for jobID, dropping it when it has expired.
func (r *MemoryJobsRepository) live(jobID string) (memoryEntry, bool) {
	entry, ok := r.jobs[jobID]
	if !ok {
		return memoryEntry{}, false
	}
	if !r.now().Before(entry.expiresAt) {
		delete(r.jobs, jobID)
		return memoryEntry{}, false
	}
	return entry, true
}
