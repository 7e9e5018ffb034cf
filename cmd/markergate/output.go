package main

import (
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"markergate/internal/gpu"
	"markergate/internal/readiness"
)

// writeJSON encodes v as indented JSON to the command's stdout. Paths and
// converter messages are left unescaped so they can be pasted back verbatim.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// colorEnabled reports whether w is a terminal and NO_COLOR is unset.
func colorEnabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// gpuTable lists every device with the policy violations that keep it from
// being admitted.
func gpuTable(snapshot gpu.Snapshot, verdict readiness.Verdict, colorize bool) string {
	reasons := make(map[int][]string, len(verdict.Unsafe))
	for _, v := range verdict.Unsafe {
		reasons[v.Device.Index] = v.Reasons
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"GPU", "Temp (C)", "Total MB", "Used MB", "Free MB", "Status"})
	for _, d := range snapshot.Devices {
		status := "ok"
		if r, bad := reasons[d.Index]; bad {
			status = "unsafe: " + strings.Join(r, ", ")
			if colorize {
				status = text.FgRed.Sprint(status)
			}
		}
		tw.AppendRow(table.Row{
			strconv.Itoa(d.Index),
			d.TemperatureC,
			d.MemoryTotalMB,
			d.MemoryUsedMB,
			d.MemoryFreeMB(),
			status,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	return tw.Render()
}
