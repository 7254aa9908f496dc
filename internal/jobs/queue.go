package jobs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mtlynch/sia-load-tester/internal/sia"
)

// Queue is a FIFO of jobs. Push and Pop are safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []*Job
	head  int
}

// NewQueue returns a queue holding jobs in order.
func NewQueue(jobs ...*Job) *Queue {
	q := &Queue{}
	for _, j := range jobs {
		q.Push(j)
	}
	return q
}

// Push appends j to the tail.
func (q *Queue) Push(j *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, j)
}

// Pop removes and returns the head. ok is false when the queue is empty.
func (q *Queue) Pop() (j *Job, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return nil, false
	}
	j = q.items[q.head]
	q.items[q.head] = nil
	q.head++
	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head > 64 && q.head*2 >= len(q.items) {
		q.items = append([]*Job(nil), q.items[q.head:]...)
		q.head = 0
	}
	return j, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

func (q *Queue) Empty() bool {
	return q.Len() == 0
}

// FileLister is the part of the Sia client BuildQueue needs.
type FileLister interface {
	Files(ctx context.Context) ([]sia.File, error)
}

// BuildQueue queues every job whose Sia path the renter does not already
// report. Files that exist on Sia, partially uploaded or not, are skipped.
func BuildQueue(ctx context.Context, jobs []*Job, lister FileLister, logger *slog.Logger) (*Queue, error) {
	files, err := lister.Files(ctx)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]struct{}, len(files))
	for _, f := range files {
		existing[f.SiaPath] = struct{}{}
	}

	q := NewQueue()
	skipped := 0
	for _, j := range jobs {
		if _, ok := existing[j.SiaPath]; ok {
			skipped++
			continue
		}
		q.Push(j)
	}
	if logger != nil {
		logger.Info("upload queue built",
			"on_sia", len(existing),
			"skipped", skipped,
			"queued", q.Len(),
		)
	}
	return q, nil
}
