package engine

// PullProgress reports progress during a model download.
type PullProgress struct {
	Status    string
	Total     int64
	Completed int64
}
