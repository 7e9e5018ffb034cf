package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"markergate/internal/preflight"
)

type checkState int

const (
	stateInfo checkState = iota
	stateOK
	stateWarn
	stateFail
)

func (s checkState) label() string {
	switch s {
	case stateOK:
		return "OK"
	case stateWarn:
		return "WARN"
	case stateFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

func (s checkState) colors() text.Colors {
	switch s {
	case stateOK:
		return text.Colors{text.FgGreen}
	case stateWarn:
		return text.Colors{text.FgYellow}
	case stateFail:
		return text.Colors{text.FgRed, text.Bold}
	default:
		return text.Colors{text.FgBlue}
	}
}

func (s checkState) render(colorize bool) string {
	if !colorize {
		return s.label()
	}
	return s.colors().Sprint(s.label())
}

// resultState maps a preflight result to its display state. A failing
// optional check only degrades the service, so it is a warning.
func resultState(r preflight.Result) checkState {
	switch {
	case r.Passed:
		return stateOK
	case r.Optional:
		return stateWarn
	default:
		return stateFail
	}
}

// preflightSummary condenses the results into the single verdict line that
// opens the report.
func preflightSummary(results []preflight.Result) (checkState, string) {
	failed := preflight.Failed(results)
	if len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for _, r := range failed {
			names = append(names, r.Name)
		}
		return stateFail, fmt.Sprintf("%d required check(s) failing: %s", len(failed), strings.Join(names, ", "))
	}
	warnings := 0
	for _, r := range results {
		if resultState(r) == stateWarn {
			warnings++
		}
	}
	if warnings > 0 {
		return stateWarn, fmt.Sprintf("ready with %d warning(s)", warnings)
	}
	return stateOK, "all checks passed"
}

// statusSetting is a configured value echoed above the preflight checks.
type statusSetting struct {
	Name  string
	Value string
}

// renderStatusReport draws the settings and every preflight check in one
// table, followed by the summary verdict.
func renderStatusReport(settings []statusSetting, results []preflight.Result, colorize bool) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle("markergate")
	tw.AppendHeader(table.Row{"Check", "State", "Detail"})
	for _, s := range settings {
		tw.AppendRow(table.Row{s.Name, stateInfo.render(colorize), s.Value})
	}
	if len(settings) > 0 {
		tw.AppendSeparator()
	}
	for _, r := range results {
		detail := strings.TrimSpace(r.Detail)
		if detail == "" {
			detail = "not available"
		}
		tw.AppendRow(table.Row{r.Name, resultState(r).render(colorize), detail})
	}

	state, message := preflightSummary(results)
	return tw.Render() + "\n" + fmt.Sprintf("Summary: [%s] %s", state.render(colorize), message)
}
