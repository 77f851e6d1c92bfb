package uasc

import (
	"fmt"

	"github.com/opd-ai/uasc/limits"
)

// sequenceCounter issues outbound sequence numbers for one direction.
// Numbers start at limits.SequenceWrapStart and wrap back there after
// limits.SequenceNumberMax. Not safe for concurrent use; the channel's
// write path serializes access.
type sequenceCounter struct {
	next uint32
}

func newSequenceCounter() *sequenceCounter {
	return &sequenceCounter{next: limits.SequenceWrapStart}
}

func (c *sequenceCounter) take() uint32 {
	s := c.next
	if s >= limits.SequenceNumberMax {
		c.next = limits.SequenceWrapStart
	} else {
		c.next = s + 1
	}
	return s
}

// sequenceTracker validates inbound sequence numbers for one direction.
// Every chunk must carry exactly the expected next value; after the
// sender passes limits.SequenceNumberMax the counter may restart at any
// value below limits.SequenceWrapLimit. Gaps, repeats and regressions
// are violations.
type sequenceTracker struct {
	last    uint32
	started bool
}

func (t *sequenceTracker) check(got uint32) error {
	if !t.started {
		if got != limits.SequenceWrapStart {
			return fmt.Errorf("%w: first sequence number %d, want %d", ErrSequenceViolation, got, limits.SequenceWrapStart)
		}
		t.last = got
		t.started = true
		return nil
	}
	if t.last >= limits.SequenceNumberMax {
		if got < limits.SequenceWrapStart || got >= limits.SequenceWrapLimit {
			return fmt.Errorf("%w: post-wrap sequence number %d not below %d", ErrSequenceViolation, got, limits.SequenceWrapLimit)
		}
		t.last = got
		return nil
	}
	if got != t.last+1 {
		return fmt.Errorf("%w: sequence number %d, want %d", ErrSequenceViolation, got, t.last+1)
	}
	t.last = got
	return nil
}
