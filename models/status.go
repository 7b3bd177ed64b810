package models

// Status is the lifecycle state of a project.
type Status string

const (
	StatusQueued            Status = "queued"
	StatusProcessingScript  Status = "processing_script"
	StatusProcessingAudio   Status = "processing_audio"
	StatusProcessingVisuals Status = "processing_visuals"
	StatusRendering         Status = "rendering"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
)

// pipeline order; failed sits outside it.
var statusRank = map[Status]int{
	StatusQueued:            0,
	StatusProcessingScript:  1,
	StatusProcessingAudio:   2,
	StatusProcessingVisuals: 3,
	StatusRendering:         4,
	StatusCompleted:         5,
}

func (s Status) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no worker will move the project any further.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is allowed. Pipeline states only
// move forward (stages whose checkpoint hits are skipped), any in-flight state
// may fail, and failed only goes back to queued through an explicit retry.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	switch {
	case from == StatusFailed:
		return to == StatusQueued
	case to == StatusFailed:
		return from != StatusCompleted
	case from == StatusCompleted:
		return false
	}
	return statusRank[to] > statusRank[from]
}
