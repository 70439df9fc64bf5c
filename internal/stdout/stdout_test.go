package stdout

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		quiet   bool
		verbose bool
	}{
		{
			name:    "normal mode",
			quiet:   false,
			verbose: false,
		},
		{
			name:    "quiet mode",
			quiet:   true,
			verbose: false,
		},
		{
			name:    "verbose mode",
			quiet:   false,
			verbose: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			s := New(&buf, tt.quiet, tt.verbose)

			if s == nil {
				t.Fatal("expected non-nil Spinner")
			}
			if s.quiet != tt.quiet || s.verbose != tt.verbose {
				t.Errorf("got quiet=%v verbose=%v", s.quiet, s.verbose)
			}
			if !tt.quiet && s.spin == nil {
				t.Error("expected non-nil spinner in non-quiet mode")
			}
			if tt.quiet && s.spin != nil {
				t.Error("expected nil spinner in quiet mode")
			}

			s.Stop()
		})
	}
}

func TestIsQuiet(t *testing.T) {
	var buf bytes.Buffer
	if !New(&buf, true, false).IsQuiet() {
		t.Error("quiet spinner should return true for IsQuiet()")
	}
	if New(&buf, false, false).IsQuiet() {
		t.Error("normal spinner should return false for IsQuiet()")
	}
}

func TestQuietWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf, true, true)

	s.Start("connecting")
	s.Update("fetching")
	s.Success("done")
	s.Error("failed")
	s.Stop()

	if buf.Len() != 0 {
		t.Errorf("quiet spinner wrote %q", buf.String())
	}
}

func TestVerboseUpdatePrintsLines(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf, false, true)

	s.Update("[work] Connecting to imap.example.com:993...")
	s.Update("[work] Fetching mailboxes...")

	out := buf.String()
	for _, want := range []string{"Connecting to imap.example.com:993...\n", "Fetching mailboxes...\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q should contain %q", out, want)
		}
	}
}

func TestUpdateSetsSuffix(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf, false, false)

	s.Update("listing INBOX")
	if s.spin.Suffix != " listing INBOX" {
		t.Errorf("Suffix = %q; want %q", s.spin.Suffix, " listing INBOX")
	}
}
