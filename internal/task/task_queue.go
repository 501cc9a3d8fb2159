package task

import "github.com/google/uuid"

// taskQueue is the FIFO wait list of tasks that have not been admitted.
// It is not safe for concurrent use; the scheduler guards it with its lock.
type taskQueue struct {
	ids []uuid.UUID
}

// push appends id at the tail.
func (q *taskQueue) push(id uuid.UUID) {
	q.ids = append(q.ids, id)
}

// pop removes and returns the head of the queue.
func (q *taskQueue) pop() (uuid.UUID, bool) {
	if len(q.ids) == 0 {
		return uuid.Nil, false
	}
	id := q.ids[0]
	q.ids[0] = uuid.Nil
	q.ids = q.ids[1:]
	return id, true
}

// remove deletes id wherever it is in the queue.
func (q *taskQueue) remove(id uuid.UUID) bool {
	for i, queued := range q.ids {
		if queued == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			return true
		}
	}
	return false
}

// position returns the 1-based position of id, or 0 when absent.
func (q *taskQueue) position(id uuid.UUID) int {
	for i, queued := range q.ids {
		if queued == id {
			return i + 1
		}
	}
	return 0
}

func (q *taskQueue) len() int {
	return len(q.ids)
}

// each calls fn with every queued ID and its 1-based position.
func (q *taskQueue) each(fn func(id uuid.UUID, pos int)) {
	for i, id := range q.ids {
		fn(id, i+1)
	}
}
