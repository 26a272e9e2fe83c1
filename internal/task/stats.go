package task

// Stats is derived from a Queue on every call and never stored.
type Stats struct {
	Queued   int `json:"queued"`
	Running  int `json:"running"`
	Complete int `json:"complete"`
	Error    int `json:"error"`
	Total    int `json:"total"`
}

func (q *Queue) Stats() Stats {
	s := Stats{Total: len(q.tasks)}
	for _, t := range q.tasks {
		switch t.Status {
		case StatusQueued:
			s.Queued++
		case StatusRunning:
			s.Running++
		case StatusComplete:
			s.Complete++
		case StatusError:
			s.Error++
		}
	}
	return s
}
