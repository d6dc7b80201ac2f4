package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/strrl/agentchat/internal/sessions"
)

// Message types for async operations
type (
	// StateChangedMsg reports that the controller state changed and the
	// view should be rebuilt from a fresh snapshot
	StateChangedMsg struct{}

	// OpDoneMsg reports the end of a controller operation
	OpDoneMsg struct {
		Op    string
		Info  string // shown in the status line on success
		Error error
	}

	// TickMsg is sent periodically for spinner animation
	TickMsg time.Time
)

// waitForChange blocks until the controller signals a change. It is
// re-armed after every StateChangedMsg.
func waitForChange(c *sessions.Controller) tea.Cmd {
	return func() tea.Msg {
		<-c.Changes()
		return StateChangedMsg{}
	}
}

// runOp runs a controller operation off the UI goroutine
func runOp(op string, fn func() (string, error)) tea.Cmd {
	return func() tea.Msg {
		info, err := fn()
		return OpDoneMsg{Op: op, Info: info, Error: err}
	}
}

// tickCmd creates a ticker for spinner animation
func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
