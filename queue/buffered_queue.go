// Package queue implements the buffered FIFO shared by every dispatch and
// writeback structure in the core.
package queue

// BufferedQueue is a fixed- or unbounded-capacity FIFO with a staging area.
// Items appended with Buffer are invisible to consumers (Peek/Dequeue/Chain)
// until Flush moves them into the committed section. This lets a unit
// compute its next state during TICK, against the queue's TOCK-committed
// contents, without observing its own (or a sibling unit's) not-yet-applied
// writes.
//
// The zero value is not usable; construct with New.
type BufferedQueue[T any] struct {
	size      *int
	committed []T
	buffered  []T
}

// New constructs a BufferedQueue. size of nil (or a negative size) means
// unbounded.
func New[T any](size *int) *BufferedQueue[T] {
	q := &BufferedQueue[T]{}
	if size != nil && *size >= 0 {
		s := *size
		q.size = &s
	}
	return q
}

// Size returns the queue's capacity, or nil if unbounded.
func (q *BufferedQueue[T]) Size() *int {
	return q.size
}

// IsBufferFull reports whether committed+buffered has already reached
// capacity, i.e. whether any further Buffer call would overflow on Flush.
func (q *BufferedQueue[T]) IsBufferFull() bool {
	if q.size == nil {
		return false
	}
	return len(q.committed)+len(q.buffered) >= *q.size
}

// Buffer stages item for visibility after the next Flush.
func (q *BufferedQueue[T]) Buffer(item T) {
	q.buffered = append(q.buffered, item)
}

// Flush moves as much of the staged area into the committed section as fits
// within capacity, silently dropping nothing — a caller that staged more
// than capacity permits is a programming error the unit must prevent via
// IsBufferFull before buffering.
func (q *BufferedQueue[T]) Flush() {
	if q.size == nil || len(q.committed)+len(q.buffered) <= *q.size {
		q.committed = append(q.committed, q.buffered...)
		q.buffered = q.buffered[:0]
		return
	}
	room := *q.size - len(q.committed)
	if room < 0 {
		room = 0
	}
	q.committed = append(q.committed, q.buffered[:room]...)
	q.buffered = q.buffered[room:]
}

// Chain iterates committed items followed by buffered items.
func (q *BufferedQueue[T]) Chain() []T {
	out := make([]T, 0, len(q.committed)+len(q.buffered))
	out = append(out, q.committed...)
	out = append(out, q.buffered...)
	return out
}

// Full reports whether the committed section alone is at capacity.
func (q *BufferedQueue[T]) Full() bool {
	return q.size != nil && len(q.committed) >= *q.size
}

// Len returns the number of committed items.
func (q *BufferedQueue[T]) Len() int {
	return len(q.committed)
}

// Peek returns the head of the committed section without removing it.
func (q *BufferedQueue[T]) Peek() (T, bool) {
	var zero T
	if len(q.committed) == 0 {
		return zero, false
	}
	return q.committed[0], true
}

// Requeue appends item directly to the committed section, bypassing the
// buffer/flush staging. This is for same-phase rotation (a unit dequeuing
// an item, finding it not issuable this cycle, and putting it back at the
// tail to try the next one) where the item must remain visible to the rest
// of this same tick, not deferred to the next cycle.
func (q *BufferedQueue[T]) Requeue(item T) {
	q.committed = append(q.committed, item)
}

// DropLeading removes items from the head of the committed section while
// pred holds.
func (q *BufferedQueue[T]) DropLeading(pred func(T) bool) {
	for len(q.committed) > 0 && pred(q.committed[0]) {
		q.committed = q.committed[1:]
	}
}

// DropLeadingBuffered removes items from the head of the staged section
// while pred holds.
func (q *BufferedQueue[T]) DropLeadingBuffered(pred func(T) bool) {
	for len(q.buffered) > 0 && pred(q.buffered[0]) {
		q.buffered = q.buffered[1:]
	}
}

// Dequeue removes and returns the head of the committed section.
func (q *BufferedQueue[T]) Dequeue() (T, bool) {
	var zero T
	if len(q.committed) == 0 {
		return zero, false
	}
	item := q.committed[0]
	q.committed = q.committed[1:]
	return item, true
}

// PPThreeValued renders the queue's fill state as one of three strings:
// vals[2] when full, vals[1] when partially occupied, vals[0] when empty.
// isSet reports whether a given element counts as "present" (all elements do
// for most queues; callers streaming (item, slice) tuples pass a predicate
// that treats a nil item as absent).
func (q *BufferedQueue[T]) PPThreeValued(vals [3]string, isSet func(T) bool) string {
	if q.IsBufferFull() {
		return vals[2]
	}
	for _, item := range q.Chain() {
		if isSet(item) {
			return vals[1]
		}
	}
	return vals[0]
}
