package task

import "slices"

// Queue is an immutable, ordered collection of tasks. Every mutating method
// returns a new Queue and leaves the receiver untouched, so a *Queue can be
// shared with any number of readers.
type Queue struct {
	tasks []*Task
	index map[string]int
}

func NewQueue(tasks ...*Task) *Queue {
	q := &Queue{
		tasks: make([]*Task, 0, len(tasks)),
		index: make(map[string]int, len(tasks)),
	}
	for _, t := range tasks {
		c := *t
		q.index[c.ID] = len(q.tasks)
		q.tasks = append(q.tasks, &c)
	}
	return q
}

func (q *Queue) Len() int {
	return len(q.tasks)
}

// Get returns a copy of the task with id.
func (q *Queue) Get(id string) (Task, bool) {
	i, ok := q.index[id]
	if !ok {
		return Task{}, false
	}
	return *q.tasks[i], true
}

// Position is the index of id in submission order, or -1.
func (q *Queue) Position(id string) int {
	if i, ok := q.index[id]; ok {
		return i
	}
	return -1
}

// Tasks returns copies of all tasks in queue order.
func (q *Queue) Tasks() []Task {
	out := make([]Task, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = *t
	}
	return out
}

func (q *Queue) Filter(keep func(Task) bool) []Task {
	var out []Task
	for _, t := range q.tasks {
		if keep(*t) {
			out = append(out, *t)
		}
	}
	return out
}

// Append adds tasks at the end. Tasks whose id is already present are skipped.
func (q *Queue) Append(tasks ...*Task) *Queue {
	next := &Queue{
		tasks: slices.Clone(q.tasks),
		index: make(map[string]int, len(q.tasks)+len(tasks)),
	}
	for id, i := range q.index {
		next.index[id] = i
	}
	for _, t := range tasks {
		if _, dup := next.index[t.ID]; dup {
			continue
		}
		c := *t
		next.index[c.ID] = len(next.tasks)
		next.tasks = append(next.tasks, &c)
	}
	return next
}

// Update applies fn to a copy of the task with id. The returned bool is
// false, and the receiver returned, when id is not present.
func (q *Queue) Update(id string, fn func(*Task)) (*Queue, bool) {
	i, ok := q.index[id]
	if !ok {
		return q, false
	}
	c := *q.tasks[i]
	fn(&c)
	c.ID = id
	next := &Queue{
		tasks: slices.Clone(q.tasks),
		index: q.index,
	}
	next.tasks[i] = &c
	return next, true
}

// Remove drops every task for which drop returns true and reports how many
// were removed.
func (q *Queue) Remove(drop func(Task) bool) (*Queue, int) {
	kept := make([]*Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		if !drop(*t) {
			kept = append(kept, t)
		}
	}
	removed := len(q.tasks) - len(kept)
	if removed == 0 {
		return q, 0
	}
	next := &Queue{
		tasks: kept,
		index: make(map[string]int, len(kept)),
	}
	for i, t := range kept {
		next.index[t.ID] = i
	}
	return next, removed
}

// RemoveID drops a single task.
func (q *Queue) RemoveID(id string) (*Queue, bool) {
	next, n := q.Remove(func(t Task) bool { return t.ID == id })
	return next, n > 0
}
