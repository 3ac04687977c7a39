package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"

	"github.com/example/negotiation-scheduler/internal/negotiation"
)

const (
	outputAuto  = "auto"
	outputTable = "table"
	outputJSON  = "json"
)

const slotLayout = "Mon 02 Jan 15:04"

// resolveOutput picks table output for terminals and JSON otherwise.
func resolveOutput(format string, w io.Writer) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case outputTable:
		return outputTable, nil
	case outputJSON:
		return outputJSON, nil
	case outputAuto, "":
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return outputTable, nil
		}
		return outputJSON, nil
	default:
		return "", fmt.Errorf("--output の値が不正です: %s", format)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type palette struct {
	title  lipgloss.Style
	header lipgloss.Style
	cell   lipgloss.Style
	dim    lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
}

func newPalette(w io.Writer) palette {
	r := lipgloss.NewRenderer(w)
	return palette{
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")),
		header: r.NewStyle().Bold(true).Padding(0, 1),
		cell:   r.NewStyle().Padding(0, 1),
		dim:    r.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		ok:     r.NewStyle().Foreground(lipgloss.Color("#10B981")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
	}
}

func renderNegotiation(w io.Writer, format string, result negotiation.Result) error {
	if format == outputJSON {
		return writeJSON(w, result)
	}

	p := newPalette(w)
	loc := result.Request.Preferred.Location()
	fmt.Fprintln(w, p.title.Render(result.Request.Title))
	fmt.Fprintln(w, p.dim.Render(fmt.Sprintf("session %s  requested %s for %d min  participants %s",
		result.SessionID,
		result.Request.Preferred.Format(slotLayout),
		result.Request.DurationMinutes,
		strings.Join(result.Participants, ", "),
	)))

	status := p.ok
	if !result.Success || result.RequiresConfirmation {
		status = p.warn
	}
	fmt.Fprintln(w, status.Render(result.Message))
	if len(result.Candidates) == 0 {
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "START", "END", "SCORE", "EXPLANATION").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.header
			}
			return p.cell
		})
	for i, slot := range result.Candidates {
		marker := strconv.Itoa(i)
		if slot.ExactMatch {
			marker += "*"
		}
		t.Row(
			marker,
			slot.Start.In(loc).Format(slotLayout),
			slot.End.In(loc).Format("15:04"),
			strconv.FormatFloat(slot.Score, 'f', 2, 64),
			slot.Explanation,
		)
	}
	fmt.Fprintln(w, t.Render())
	return nil
}

func renderSchedule(w io.Writer, format string, result negotiation.ScheduleResult) error {
	if format == outputJSON {
		return writeJSON(w, result)
	}

	p := newPalette(w)
	status := p.ok
	if !result.Success {
		status = p.warn
	}
	fmt.Fprintln(w, status.Render(result.Message))
	fmt.Fprintln(w, p.dim.Render(fmt.Sprintf("session %s  slot %d of %d  outcome %s",
		result.SessionID, result.SlotIndex, result.CandidateCount, result.Outcome)))

	if m := result.Meeting; m != nil {
		fmt.Fprintf(w, "meeting %s  %s-%s  %s  [%s]\n",
			m.ID,
			m.Start.Format(slotLayout),
			m.End.Format("15:04"),
			m.Status,
			strings.Join(m.Participants, ", "),
		)
	}
	for _, c := range result.Conflicts {
		fmt.Fprintf(w, "conflict %s  %s  block %s\n", c.Participant, c.Type, c.BlockID)
	}
	return nil
}

// describeError turns field errors into one readable line.
func describeError(err error) error {
	var vErr *negotiation.ValidationError
	if !errors.As(err, &vErr) || !vErr.HasErrors() {
		return err
	}
	fields := make([]string, 0, len(vErr.FieldErrors))
	for field := range vErr.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+vErr.FieldErrors[field])
	}
	return fmt.Errorf("invalid request: %s", strings.Join(parts, "; "))
}
