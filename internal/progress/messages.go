package progress

import (
	"fmt"
	"time"
)

// RunStartedMsg opens a new run row.
type RunStartedMsg struct {
	Tag   string
	Total int
	Start time.Time
}

// BatchMsg updates the current batch of a run. Done is set once the batch has
// completed.
type BatchMsg struct {
	Tag    string
	Start  int
	Stop   int
	Total  int
	Failed int
	Done   bool
}

// RunFinishedMsg closes a run row.
type RunFinishedMsg struct {
	Tag string
	Err error
	End time.Time
}

// BatchLabel renders a batch range the way every reporter shows it.
func BatchLabel(start, stop, total int) string {
	return fmt.Sprintf("Batch [%d, %d) / %d", start, stop, total)
}

func (m BatchMsg) String() string { return m.Tag + " " + BatchLabel(m.Start, m.Stop, m.Total) }
func (m RunFinishedMsg) String() string {
	return fmt.Sprintf("RunFinished %s", m.Tag)
}
