// Package export renders session histories as downloadable transcripts.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/strrl/agentchat/pkg/models"
)

// ErrNothingToExport is returned when the history has no messages
var ErrNothingToExport = errors.New("no messages to export, start a conversation first")

// FileName returns the transcript file name for a session, or for an
// unsaved conversation when sessionID is empty
func FileName(sessionID string) string {
	if sessionID == "" {
		sessionID = "new"
	}
	return fmt.Sprintf("chat-export-%s.txt", sessionID)
}

// Transcript formats messages one per entry as "[ROLE] timestamp: content",
// separated by a blank line
func Transcript(messages []models.Message) string {
	entries := make([]string, len(messages))
	for i, msg := range messages {
		entries[i] = fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(msg.Role)), msg.Timestamp, msg.Content)
	}
	return strings.Join(entries, "\n\n")
}

// Write writes the transcript to w
func Write(w io.Writer, messages []models.Message) error {
	if len(messages) == 0 {
		return ErrNothingToExport
	}
	_, err := io.WriteString(w, Transcript(messages))
	return err
}

// WriteFile writes the transcript for sessionID into dir and returns its path
func WriteFile(dir, sessionID string, messages []models.Message) (string, error) {
	if len(messages) == 0 {
		return "", ErrNothingToExport
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(dir, FileName(sessionID))
	if err := os.WriteFile(path, []byte(Transcript(messages)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}
	return path, nil
}
