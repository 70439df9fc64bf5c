package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v2"

	"github.com/greeddj/mailbridge-go/internal/model"
	"github.com/greeddj/mailbridge-go/internal/utils"
)

const (
	timeLayout   = "2006-01-02 15:04"
	subjectWidth = 60
)

// newTable returns a borderless table mirrored to out.
func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.Style().Options.DrawBorder = false
	t.Style().Options.SeparateColumns = false
	return t
}

// renderPairs prints a titled key/value block.
func renderPairs(out io.Writer, title string, rows []table.Row) {
	t := newTable(out)
	t.SetTitle(title)
	t.AppendRows(rows)
	t.Render()
}

func formatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(loc).Format(timeLayout)
}

// clip shortens s to n runes.
func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func bold(format string, args ...any) string {
	return text.Bold.Sprint(fmt.Sprintf(format, args...))
}

// kindFlag is the --kind flag shared by item commands.
func kindFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "kind",
		Aliases: []string{"k"},
		Value:   "mail",
		Usage:   "item kind: mail, event or task",
	}
}

func kindOf(cCtx *cli.Context) (model.Kind, error) {
	return model.ParseKind(cCtx.String("kind"))
}

// ordinalArg reads the positional ordinal at index i.
func ordinalArg(cCtx *cli.Context, i int) (int, error) {
	raw := cCtx.Args().Get(i)
	if raw == "" {
		return 0, fmt.Errorf("missing item number; run list first")
	}
	n, err := strconv.Atoi(strings.TrimPrefix(raw, "#"))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid item number %q", raw)
	}
	return n, nil
}

// ordinalsArg reads a comma-separated list of ordinals and ranges, e.g. "2,5,7" or "3-6".
func ordinalsArg(cCtx *cli.Context, i int) ([]int, error) {
	raw := cCtx.Args().Get(i)
	if raw == "" {
		return nil, fmt.Errorf("missing item number; run list first")
	}
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(strings.ReplaceAll(part, "#", ""))
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(lo)
		if err != nil || first < 1 {
			return nil, fmt.Errorf("invalid item number %q", part)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(hi); err != nil || last < first {
				return nil, fmt.Errorf("invalid item range %q", part)
			}
		}
		for n := first; n <= last; n++ {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("invalid item number %q", raw)
	}
	return out, nil
}

// timeFlag parses a time flag; unset flags yield fallback.
func (s *Session) timeFlag(cCtx *cli.Context, name string, fallback time.Time) (time.Time, error) {
	if !cCtx.IsSet(name) {
		return fallback, nil
	}
	t, err := utils.ParseTime(cCtx.String(name), s.Now(), s.location())
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

// startOfDay is midnight of the current day in the session zone.
func (s *Session) startOfDay() time.Time {
	now := s.Now().In(s.location())
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
