package uasc

import (
	"errors"
	"testing"

	"github.com/opd-ai/uasc/limits"
)

func TestSequenceCounterStartsAtOne(t *testing.T) {
	c := newSequenceCounter()
	if got := c.take(); got != 1 {
		t.Fatalf("first sequence number = %d, want 1", got)
	}
	if got := c.take(); got != 2 {
		t.Fatalf("second sequence number = %d, want 2", got)
	}
}

func TestSequenceCounterWraps(t *testing.T) {
	c := &sequenceCounter{next: limits.SequenceNumberMax}
	if got := c.take(); got != limits.SequenceNumberMax {
		t.Fatalf("take() = %d, want %d", got, uint32(limits.SequenceNumberMax))
	}
	if got := c.take(); got != limits.SequenceWrapStart {
		t.Fatalf("post-wrap take() = %d, want %d", got, uint32(limits.SequenceWrapStart))
	}
}

func TestSequenceTrackerExactNext(t *testing.T) {
	tr := &sequenceTracker{}
	for _, n := range []uint32{1, 2, 3, 4} {
		if err := tr.check(n); err != nil {
			t.Fatalf("check(%d) = %v", n, err)
		}
	}
}

func TestSequenceTrackerRejectsFirstNotOne(t *testing.T) {
	tr := &sequenceTracker{}
	if err := tr.check(5); !errors.Is(err, ErrSequenceViolation) {
		t.Fatalf("check(5) on fresh tracker = %v, want sequence violation", err)
	}
}

func TestSequenceTrackerRejectsGapRepeatRegression(t *testing.T) {
	cases := []struct {
		name string
		next uint32
	}{
		{"gap", 4},
		{"repeat", 2},
		{"regression", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := &sequenceTracker{}
			if err := tr.check(1); err != nil {
				t.Fatal(err)
			}
			if err := tr.check(2); err != nil {
				t.Fatal(err)
			}
			if err := tr.check(tc.next); !errors.Is(err, ErrSequenceViolation) {
				t.Fatalf("check(%d) = %v, want sequence violation", tc.next, err)
			}
		})
	}
}

func TestSequenceTrackerWrapAcceptance(t *testing.T) {
	tr := &sequenceTracker{last: limits.SequenceNumberMax, started: true}
	if err := tr.check(1); err != nil {
		t.Fatalf("post-wrap check(1) = %v", err)
	}
	if err := tr.check(2); err != nil {
		t.Fatalf("check(2) after wrap = %v", err)
	}
}

func TestSequenceTrackerWrapLimit(t *testing.T) {
	tr := &sequenceTracker{last: limits.SequenceNumberMax, started: true}
	if err := tr.check(limits.SequenceWrapLimit); !errors.Is(err, ErrSequenceViolation) {
		t.Fatalf("post-wrap check(%d) = %v, want sequence violation", uint32(limits.SequenceWrapLimit), err)
	}
}
