package sessions

import "github.com/strrl/agentchat/pkg/models"

// HistoryCache holds the message history of a single session.
// Switching sessions discards the previous copy; nothing is kept warm.
type HistoryCache struct {
	sessionID string
	messages  []models.Message
	gen       uint64
}

// NewHistoryCache creates an empty cache scoped to no session
func NewHistoryCache() *HistoryCache {
	return &HistoryCache{}
}

// SessionID returns the session the cache currently holds
func (h *HistoryCache) SessionID() string {
	return h.sessionID
}

// Messages returns a copy of the cached history
func (h *HistoryCache) Messages() []models.Message {
	out := make([]models.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Generation changes on every write. A load that started at one
// generation must not overwrite the cache at a later one.
func (h *HistoryCache) Generation() uint64 {
	return h.gen
}

// Len returns the number of cached messages
func (h *HistoryCache) Len() int {
	return len(h.messages)
}

// Replace makes messages the authoritative history of sessionID
func (h *HistoryCache) Replace(sessionID string, messages []models.Message) {
	h.sessionID = sessionID
	h.messages = make([]models.Message, len(messages))
	copy(h.messages, messages)
	h.gen++
}

// Reset scopes the cache to sessionID with no messages yet
func (h *HistoryCache) Reset(sessionID string) {
	h.sessionID = sessionID
	h.messages = nil
	h.gen++
}

// Append adds a locally created message. It is only valid for the
// session the cache is scoped to.
func (h *HistoryCache) Append(sessionID string, msg models.Message) error {
	if sessionID == "" || sessionID != h.sessionID {
		return ErrNotActive
	}
	h.messages = append(h.messages, msg)
	h.gen++
	return nil
}

// Clear empties the cache and unscopes it
func (h *HistoryCache) Clear() {
	h.sessionID = ""
	h.messages = nil
	h.gen++
}
