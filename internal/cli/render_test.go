package cli

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestRenderTableAlignsColumns(t *testing.T) {
	out := RenderTable(Table{
		Title:   "Models",
		Headers: []string{"Model", "Tokens"},
		Rows: [][]string{
			{"claude-sonnet-4-5", "1.2M"},
			{"---"},
			{"gpt-5", "800"},
		},
	})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 8 {
		t.Fatalf("got %d lines, want 8:\n%s", len(lines), out)
	}
	width := lipgloss.Width(lines[1])
	for i, l := range lines[1:] {
		if got := lipgloss.Width(l); got != width {
			t.Errorf("line %d width = %d, want %d: %q", i+1, got, width, l)
		}
	}
	if !strings.Contains(out, "claude-sonnet-4-5") || !strings.Contains(out, "gpt-5") {
		t.Errorf("missing cells:\n%s", out)
	}
}

func TestRenderTableEmpty(t *testing.T) {
	if got := RenderTable(Table{}); got != "" {
		t.Errorf("RenderTable(empty) = %q, want empty", got)
	}
}

func TestRenderBarWidth(t *testing.T) {
	for _, pct := range []float64{-5, 0, 42, 100, 250} {
		if got := lipgloss.Width(RenderBar(pct, 20)); got != 20 {
			t.Errorf("RenderBar(%v) width = %d, want 20", pct, got)
		}
	}
}

func TestRenderSparkline(t *testing.T) {
	got := []rune(RenderSparkline([]float64{0, 5, 10}))
	if len(got) != 3 || got[0] != '▁' || got[2] != '█' {
		t.Errorf("RenderSparkline = %q", string(got))
	}
	if RenderSparkline(nil) != "" {
		t.Error("RenderSparkline(nil) should be empty")
	}
}
