package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"

	"github.com/blacktop/xrelay/internal/fanout"
	"github.com/blacktop/xrelay/internal/xpost"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	succeededStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	skippedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(out io.Writer, result fanout.Result, asJSON bool) error {
	if asJSON {
		return printJSON(out, result)
	}

	fmt.Fprintf(out, "%s: %s\n", result.Source, result.State)
	if result.Err != nil {
		fmt.Fprintf(out, "  %v\n", result.Err)
	}
	if len(result.Outcomes) == 0 {
		return nil
	}

	var rows [][]string
	for _, n := range xpost.Networks {
		o, ok := result.Outcomes[n]
		if !ok {
			continue
		}
		detail := o.DestinationID
		switch o.Status {
		case fanout.StatusSkipped:
			detail = o.Reason
		case fanout.StatusFailed:
			if o.Err != nil {
				detail = o.Err.Error()
			}
		}
		rows = append(rows, []string{n.String(), string(o.Status), detail, string(o.Threading)})
	}

	if !isTerminal(out) {
		for _, r := range rows {
			fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", r[0], r[1], r[2], r[3])
		}
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("DESTINATION", "STATUS", "ID / REASON", "THREADING").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col != 1 {
				return lipgloss.NewStyle()
			}
			switch fanout.Status(rows[row][1]) {
			case fanout.StatusSucceeded:
				return succeededStyle
			case fanout.StatusFailed:
				return failedStyle
			default:
				return skippedStyle
			}
		})
	fmt.Fprintln(out, t)
	return nil
}
