package search

import (
	"bufio"
	"strings"
)

// Paragraphs splits extracted document text into scoring units. Blank lines
// separate paragraphs. Markdown table rows become one paragraph each with the
// cells joined by spaces; separator rows are dropped.
func Paragraphs(text string) []string {
	var (
		out []string
		cur []string
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, "\n"))
			cur = cur[:0]
		}
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			flush()
			continue
		}
		if row, ok := tableRow(line); ok {
			flush()
			if row != "" {
				out = append(out, row)
			}
			continue
		}
		cur = append(cur, line)
	}
	// lines longer than the scanner buffer end the scan; keep what we have
	flush()
	return out
}

// tableRow reports whether line is a "| ... |" row and returns its cells
// joined by spaces, or "" for separator rows.
func tableRow(line string) (string, bool) {
	if len(line) < 2 || !strings.HasPrefix(line, "|") || !strings.HasSuffix(line, "|") {
		return "", false
	}
	cols := strings.Split(strings.Trim(line, "|"), "|")
	cells := make([]string, 0, len(cols))
	allSep := true
	for _, c := range cols {
		cell := strings.TrimSpace(c)
		if strings.Trim(cell, ":- ") != "" {
			allSep = false
		}
		if cell != "" {
			cells = append(cells, cell)
		}
	}
	if allSep {
		return "", true
	}
	return strings.Join(cells, " "), true
}
