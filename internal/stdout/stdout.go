// Package stdout reports progress of slow provider work with a terminal spinner.
package stdout

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"
)

// Spinner shows the latest progress message next to a spinner on w. It satisfies
// the progress reporter the IMAP backend accepts.
type Spinner struct {
	mu      sync.Mutex
	w       io.Writer
	spin    *spinner.Spinner // nil in quiet mode.
	quiet   bool             // Suppresses all output.
	verbose bool             // Prints every message on its own line instead of the suffix.
}

// New creates a stopped Spinner writing to w. Call Start before the first update.
func New(w io.Writer, quiet, verbose bool) *Spinner {
	s := &Spinner{w: w, quiet: quiet, verbose: verbose}
	if !quiet {
		s.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond,
			spinner.WithColor("green"), spinner.WithWriter(w))
	}
	return s
}

// Start begins the animation with message as suffix.
func (s *Spinner) Start(message string) {
	if s.quiet {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spin.Suffix = " " + message
	s.spin.Start()
}

// Update sets the current message.
func (s *Spinner) Update(message string) {
	if s.quiet {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.verbose {
		fmt.Fprintf(s.w, "\r%s\n", message)
		return
	}
	s.spin.Lock()
	s.spin.Suffix = " " + message
	s.spin.Unlock()
}

// Success stops the spinner and leaves a success line.
func (s *Spinner) Success(message string) {
	s.finish("✅ " + message + "\n")
}

// Error stops the spinner and leaves an error line.
func (s *Spinner) Error(message string) {
	s.finish("❌ " + message + "\n")
}

// Stop stops the spinner and clears its line.
func (s *Spinner) Stop() {
	s.finish("")
}

func (s *Spinner) finish(final string) {
	if s.quiet {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spin.FinalMSG = final
	s.spin.Stop()
}

// IsQuiet returns true if quiet mode is enabled.
func (s *Spinner) IsQuiet() bool {
	return s.quiet
}
