package history

import (
	"fmt"
	"sync"
	"time"

	durablesnake "github.com/danthegoodman1/DurableSnake"
)

// Validate checks that events are the contiguous run of sequence ids that
// follows after. It returns an error wrapping ErrHistoryGap otherwise.
func Validate(events []*Event, after int64) error {
	want := after + 1
	for _, e := range events {
		if e.SequenceID != want {
			return fmt.Errorf("%w: workflow %s expected sequence %d, got %d",
				durablesnake.ErrHistoryGap, e.WorkflowID, want, e.SequenceID)
		}
		want++
	}
	return nil
}

// Log is the in-memory view of one workflow's history, owned by the
// execution loop that holds the workflow's lease.
type Log struct {
	mu         sync.Mutex
	workflowID string
	events     []*Event
	bytes      int64
}

// NewLog builds a Log from a history read back from the store. The events
// must be the complete history starting at sequence 1.
func NewLog(workflowID string, events []*Event) (*Log, error) {
	if err := Validate(events, 0); err != nil {
		return nil, err
	}
	l := &Log{workflowID: workflowID}
	for _, e := range events {
		if e.WorkflowID != workflowID {
			return nil, fmt.Errorf("%w: event %s does not belong to %s", durablesnake.ErrInvalidEvent, e, workflowID)
		}
		l.events = append(l.events, e)
		l.bytes += e.Size()
	}
	return l, nil
}

// WorkflowID returns the workflow the log belongs to.
func (l *Log) WorkflowID() string { return l.workflowID }

// LastSequence returns the sequence id of the last committed event, or 0.
func (l *Log) LastSequence() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.events))
}

// Len returns the number of committed events.
func (l *Log) Len() int64 { return l.LastSequence() }

// Bytes returns the total payload size of committed events.
func (l *Log) Bytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bytes
}

// Events returns a copy of the committed events.
func (l *Log) Events() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Event, len(l.events))
	copy(out, l.events)
	return out
}

// Next builds the event that would follow the last committed one. It is
// not part of the log until Commit is called.
func (l *Log) Next(t Type, payload []byte, epoch int64, runnerID string, now time.Time) (*Event, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", durablesnake.ErrInvalidEvent, t)
	}
	return &Event{
		WorkflowID: l.workflowID,
		SequenceID: l.LastSequence() + 1,
		Type:       t,
		Epoch:      epoch,
		RunnerID:   runnerID,
		Payload:    payload,
		CreatedAt:  now,
	}, nil
}

// Commit records an event the store has accepted.
func (l *Log) Commit(e *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if want := int64(len(l.events)) + 1; e.SequenceID != want {
		return fmt.Errorf("%w: workflow %s committing sequence %d, expected %d",
			durablesnake.ErrHistoryGap, l.workflowID, e.SequenceID, want)
	}
	l.events = append(l.events, e)
	l.bytes += e.Size()
	return nil
}
