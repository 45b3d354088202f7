package pipeline

import "time"

// AttemptRecord describes one network attempt of a logical request.
type AttemptRecord struct {
	RequestID  string
	Method     string
	Path       string
	Attempt    int
	StatusCode int
	Latency    time.Duration
	ErrorKind  string
	Timestamp  time.Time
}

// AttemptSink receives a record for every attempt. Implementations must not block.
type AttemptSink interface {
	RecordAttempt(AttemptRecord)
}

// AttemptSinkFunc adapts a function to AttemptSink.
type AttemptSinkFunc func(AttemptRecord)

func (f AttemptSinkFunc) RecordAttempt(r AttemptRecord) { f(r) }
