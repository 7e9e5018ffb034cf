package tables

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	tableBlock    = regexp.MustCompile(`(\|.*\|\s*\n)+`)
	separatorLine = regexp.MustCompile(`(?i)^\s*\|?\s*:?-{3,}`)
)

// Table is one markdown table: a header row and data rows of equal width.
type Table struct {
	Header []string
	Rows   [][]string
}

// Parse finds every pipe table in markdown. Blocks that cannot be parsed
// are skipped and reported in the returned error slice.
func Parse(markdown string) ([]Table, []error) {
	if !strings.HasSuffix(markdown, "\n") {
		markdown += "\n"
	}
	var tables []Table
	var skipped []error
	for i, block := range tableBlock.FindAllString(markdown, -1) {
		table, err := parseBlock(block)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("table %d: %w", i+1, err))
			continue
		}
		if table == nil {
			continue
		}
		tables = append(tables, *table)
	}
	return tables, skipped
}

func parseBlock(block string) (*Table, error) {
	var rows [][]string
	for _, line := range strings.Split(block, "\n") {
		if strings.TrimSpace(line) == "" || separatorLine.MatchString(line) {
			continue
		}
		cells := strings.Split(strings.TrimRight(line, " \t\r"), "|")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	width := len(rows[0])
	for n, row := range rows[1:] {
		if len(row) > width {
			return nil, fmt.Errorf("row %d has %d fields, header has %d", n+2, len(row), width)
		}
		for len(row) < width {
			row = append(row, "")
		}
		rows[n+1] = row
	}

	// A column survives when any data cell is filled, whatever its header
	// says. A table with no data rows keeps its named header columns.
	data := rows[1:]
	if len(data) == 0 {
		data = rows[:1]
	}
	keep := make([]int, 0, width)
	for col := 0; col < width; col++ {
		for _, row := range data {
			if row[col] != "" {
				keep = append(keep, col)
				break
			}
		}
	}
	if len(keep) == 0 {
		return nil, nil
	}

	project := func(row []string) []string {
		out := make([]string, len(keep))
		for i, col := range keep {
			out[i] = row[col]
		}
		return out
	}
	table := &Table{Header: project(rows[0])}
	for _, row := range rows[1:] {
		table.Rows = append(table.Rows, project(row))
	}
	return table, nil
}
