package style

import (
	"strings"
	"testing"
)

func TestTableRendersAlignedColumns(t *testing.T) {
	tbl := NewTable(
		Column{Name: "ID", Width: 8},
		Column{Name: "AGE", Width: 5, Align: AlignRight},
	)
	tbl.AddRow("1a2b3c4d", "2m")
	out := tbl.Render()

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want header, separator, row", len(lines))
	}
	row := stripAnsi(lines[2])
	if !strings.HasPrefix(row, "  1a2b3c4d") {
		t.Errorf("row = %q", row)
	}
	if !strings.HasSuffix(row, "   2m") {
		t.Errorf("right alignment lost: %q", row)
	}
}

func TestTableTruncatesOverflow(t *testing.T) {
	tbl := NewTable(Column{Name: "NAME", Width: 8}).SetHeaderSeparator(false)
	tbl.AddRow("much-too-long-value")
	out := stripAnsi(tbl.Render())
	if !strings.Contains(out, "much-...") {
		t.Errorf("overflow not truncated: %q", out)
	}
}

func TestTablePadsShortRows(t *testing.T) {
	tbl := NewTable(
		Column{Name: "A", Width: 3},
		Column{Name: "B", Width: 3},
	).SetHeaderSeparator(false)
	tbl.AddRow("x")
	out := tbl.Render()
	if strings.Count(out, "\n") != 2 {
		t.Errorf("output = %q", out)
	}
}

func TestStripAnsi(t *testing.T) {
	in := "\x1b[1mbold\x1b[0m"
	if got := stripAnsi(in); got != "bold" {
		t.Errorf("stripAnsi = %q", got)
	}
}
