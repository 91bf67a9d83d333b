package tools

import (
	"fmt"
	"strings"
)

type diffLineKind int

const (
	diffContext diffLineKind = iota
	diffAdded
	diffRemoved
)

type diffLine struct {
	kind diffLineKind
	text string
}

// generateDiff produces a simple line-by-line diff with a small lookahead
// for resynchronization. Good enough for rendering tool edits; not a full
// LCS implementation.
func generateDiff(oldText, newText string) []diffLine {
	oldLines := splitLines(oldText)
	newLines := splitLines(newText)

	var diff []diffLine
	i, j := 0, 0

	for i < len(oldLines) || j < len(newLines) {
		if i < len(oldLines) && j < len(newLines) && oldLines[i] == newLines[j] {
			diff = append(diff, diffLine{diffContext, oldLines[i]})
			i++
			j++
			continue
		}

		found := false
		for lookahead := 1; lookahead <= 3; lookahead++ {
			if i < len(oldLines) && j+lookahead < len(newLines) && oldLines[i] == newLines[j+lookahead] {
				for k := 0; k < lookahead; k++ {
					diff = append(diff, diffLine{diffAdded, newLines[j+k]})
				}
				j += lookahead
				found = true
				break
			}
		}
		if !found {
			for lookahead := 1; lookahead <= 3; lookahead++ {
				if i+lookahead < len(oldLines) && j < len(newLines) && oldLines[i+lookahead] == newLines[j] {
					for k := 0; k < lookahead; k++ {
						diff = append(diff, diffLine{diffRemoved, oldLines[i+k]})
					}
					i += lookahead
					found = true
					break
				}
			}
		}
		if !found {
			if i < len(oldLines) {
				diff = append(diff, diffLine{diffRemoved, oldLines[i]})
				i++
			}
			if j < len(newLines) {
				diff = append(diff, diffLine{diffAdded, newLines[j]})
				j++
			}
		}
	}

	return diff
}

// formatDiff renders a diff with a summary header and +/- markers. Removed
// lines do not advance the line counter.
func formatDiff(diff []diffLine, filePath string) string {
	adds, removes := 0, 0
	for _, line := range diff {
		switch line.kind {
		case diffAdded:
			adds++
		case diffRemoved:
			removes++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Updated %s with %d addition%s and %d removal%s\n",
		filePath, adds, plural(adds), removes, plural(removes))

	if adds == 0 && removes == 0 {
		return sb.String()
	}

	lineNumber := 0
	for _, line := range diff {
		switch line.kind {
		case diffContext:
			lineNumber++
			fmt.Fprintf(&sb, "  %3d  %s\n", lineNumber, line.text)
		case diffAdded:
			lineNumber++
			fmt.Fprintf(&sb, "  %3d+ %s\n", lineNumber, line.text)
		case diffRemoved:
			fmt.Fprintf(&sb, "  %3d- %s\n", lineNumber, line.text)
		}
	}

	return sb.String()
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
