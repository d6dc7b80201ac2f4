package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/strrl/agentchat/internal/logger"
)

// markdownRenderer renders bot replies, rebuilding the glamour renderer
// when the chat width changes
type markdownRenderer struct {
	style    string // glamour style path; empty means auto-detect
	width    int
	renderer *glamour.TermRenderer
}

func newMarkdownRenderer(style string) *markdownRenderer {
	return &markdownRenderer{style: style}
}

func (r *markdownRenderer) setWidth(width int) {
	if width < 20 {
		width = 20
	}
	if width == r.width && r.renderer != nil {
		return
	}
	styleOpt := glamour.WithAutoStyle()
	if r.style != "" {
		styleOpt = glamour.WithStylePath(r.style)
	}
	renderer, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(width))
	if err != nil {
		logger.Warn("failed to create markdown renderer", "err", err)
		renderer = nil
	}
	r.width = width
	r.renderer = renderer
}

// render falls back to the raw text when markdown rendering fails
func (r *markdownRenderer) render(content string) string {
	if r.renderer == nil {
		return content
	}
	out, err := r.renderer.Render(content)
	if err != nil {
		logger.Debug("markdown render failed", "err", err)
		return content
	}
	return strings.Trim(out, "\n")
}
