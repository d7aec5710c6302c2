// Package queue holds the ordered list of pending pass jobs.
package queue

import (
	"sync"

	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// Queue is a thread-safe FIFO of jobs. At and Snapshot hand out copies taken
// under the lock; the queued values only leave through Pop and Clear.
type Queue struct {
	mu   sync.Mutex
	jobs []*types.Job
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Push appends jobs to the tail in the given order.
func (q *Queue) Push(jobs ...*types.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, jobs...)
}

// Remove deletes every queued pass job with the given id and returns how many
// were removed.
func (q *Queue) Remove(id string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.jobs[:0]
	removed := 0
	for _, j := range q.jobs {
		if j.ID == id {
			removed++
			continue
		}
		kept = append(kept, j)
	}
	for i := len(kept); i < len(q.jobs); i++ {
		q.jobs[i] = nil
	}
	q.jobs = kept
	if removed == 0 {
		return 0, eErrors.QueueError("remove", eErrors.ErrJobNotFound).WithDetail("job_id", id)
	}
	return removed, nil
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// At returns a copy of the job at position i.
func (q *Queue) At(i int) (*types.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.jobs) {
		return nil, eErrors.QueueError("job", eErrors.ErrJobNotFound).WithDetail("index", i)
	}
	return q.jobs[i].Clone(), nil
}

// Pop removes and returns the head of the queue.
func (q *Queue) Pop() (*types.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, false
	}
	j := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	return j, true
}

// Clear drops all queued jobs and returns them so the caller can close them.
func (q *Queue) Clear() []*types.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := q.jobs
	q.jobs = nil
	return jobs
}

// Snapshot returns copies of every queued job in queue order, taken in one
// critical section.
func (q *Queue) Snapshot() []*types.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]*types.Job, len(q.jobs))
	for i, j := range q.jobs {
		jobs[i] = j.Clone()
	}
	return jobs
}
