package ui

import (
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
)

// startStopper is the interface run.go needs to drive a progress
// indicator without depending on the spinner library directly.
type startStopper interface {
	Start()
	Stop()
}

// Spinner indicates a run is in progress while its tasks execute.
// `omni run` Starts it before the pipeline runs and Stops it once the
// whole run has returned.
type Spinner struct {
	spin startStopper
}

// NewSpinner returns a Spinner writing to w. The refresh interval backs
// off to something CI log scrapers won't choke on when CI=true.
func NewSpinner(w io.Writer) *Spinner {
	interval := 125 * time.Millisecond
	if os.Getenv("CI") == "true" {
		interval = 30 * time.Second
	}
	s := spinner.New(spinner.CharSets[9], interval, spinner.WithHiddenCursor(true))
	s.Writer = w
	s.Color("faint")
	return &Spinner{spin: s}
}

// Start begins animating the spinner.
func (s *Spinner) Start() { s.spin.Start() }

// Stop halts the spinner and clears its line.
func (s *Spinner) Stop() { s.spin.Stop() }
