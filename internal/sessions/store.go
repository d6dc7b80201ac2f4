package sessions

import "github.com/strrl/agentchat/pkg/models"

// Store holds the ordered session list and the active session pointer.
// It is not safe for concurrent use; the Controller serializes access.
type Store struct {
	sessions []models.Session
	activeID string
}

// NewStore creates an empty session store
func NewStore() *Store {
	return &Store{}
}

// Load replaces the list with sessions in server order, dropping duplicate ids.
// The active pointer is cleared if it no longer references a stored session.
func (s *Store) Load(sessions []models.Session) {
	seen := make(map[string]bool, len(sessions))
	s.sessions = make([]models.Session, 0, len(sessions))
	for _, session := range sessions {
		if seen[session.ID] {
			continue
		}
		seen[session.ID] = true
		s.sessions = append(s.sessions, session)
	}
	if !s.Has(s.activeID) {
		s.activeID = ""
	}
}

// List returns a copy of the sessions, most recent first
func (s *Store) List() []models.Session {
	out := make([]models.Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// Len returns the number of stored sessions
func (s *Store) Len() int {
	return len(s.sessions)
}

// Get returns the session with the given id
func (s *Store) Get(id string) (models.Session, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.sessions[i], true
	}
	return models.Session{}, false
}

// Has reports whether id is stored
func (s *Store) Has(id string) bool {
	return s.indexOf(id) >= 0
}

// Prepend puts a newly created session at the front. An existing entry
// with the same id is moved rather than duplicated.
func (s *Store) Prepend(session models.Session) {
	if i := s.indexOf(session.ID); i >= 0 {
		s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
	}
	s.sessions = append([]models.Session{session}, s.sessions...)
}

// Rename changes the name of a session in place. Unknown ids are ignored.
func (s *Store) Rename(id, name string) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.sessions[i].Name = name
	return true
}

// Remove deletes the session and returns the resulting active id: the
// first remaining session if the removed one was active, otherwise the
// unchanged pointer. Unknown ids leave the store untouched.
func (s *Store) Remove(id string) string {
	i := s.indexOf(id)
	if i < 0 {
		return s.activeID
	}
	s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
	if s.activeID == id {
		s.activeID = ""
		if len(s.sessions) > 0 {
			s.activeID = s.sessions[0].ID
		}
	}
	return s.activeID
}

// Active returns the active session id, or "" when none is active
func (s *Store) Active() string {
	return s.activeID
}

// SetActive points at id, or at nothing when id is "".
// Ids that are not stored are rejected.
func (s *Store) SetActive(id string) bool {
	if id != "" && !s.Has(id) {
		return false
	}
	s.activeID = id
	return true
}

func (s *Store) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i, session := range s.sessions {
		if session.ID == id {
			return i
		}
	}
	return -1
}
