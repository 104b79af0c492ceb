package types

import (
	"strings"
	"time"
)

// Timing records when a phase of work started and ended, and how long it was actually busy
type Timing struct {
	Operation      string
	Start          time.Time
	End            time.Time
	ActiveDuration time.Duration
}

// TryStart sets the start time if it has not already been set
func (t *Timing) TryStart(operation string) {
	if t.Start.IsZero() {
		t.Operation = operation
		t.Start = time.Now()
	}
}

func (t *Timing) UpdateActiveDuration(d time.Duration) {
	t.ActiveDuration += d
}

func (t *Timing) Duration() time.Duration {
	return t.End.Sub(t.Start)
}

type TimingCollection []Timing

func (c TimingCollection) String() string {
	var sb strings.Builder
	sb.WriteString("Timing:\n")
	// get max label length
	maxLabelLen := 0
	for _, t := range c {
		if len(t.Operation) > maxLabelLen {
			maxLabelLen = len(t.Operation)
		}
	}

	for _, t := range c {
		sb.WriteString(t.Operation)
		sb.WriteString(":")
		// pad label to max length
		sb.WriteString(strings.Repeat(" ", maxLabelLen-len(t.Operation)+1))
		sb.WriteString(t.Duration().String())
		if t.ActiveDuration > 0 {
			sb.WriteString(" (active ")
			sb.WriteString(t.ActiveDuration.String())
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
