package chatwire

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Session is the widget's durable identity: who the visitor is and
// which room they were last in. Persisted across page loads so the
// visitor resumes the same conversation.
type Session struct {
	VisitorID    string    `json:"visitor_id"`
	VisitorName  string    `json:"visitor_name,omitempty"`
	VisitorEmail string    `json:"visitor_email,omitempty"`
	RoomID       uuid.UUID `json:"room_id,omitempty"`
}

// SessionStore persists a Session between runs.
type SessionStore interface {
	Load() (*Session, error)
	Save(*Session) error
}

// FileSessionStore keeps the session as a JSON file.
type FileSessionStore struct {
	path string
}

// NewFileSessionStore creates a store at the given path.
func NewFileSessionStore(path string) *FileSessionStore {
	return &FileSessionStore{path: path}
}

// Load reads the stored session. A missing file yields a fresh session
// with a new visitor id.
func (s *FileSessionStore) Load() (*Session, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &Session{VisitorID: uuid.NewString()}, nil
	}
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	if sess.VisitorID == "" {
		sess.VisitorID = uuid.NewString()
	}
	return &sess, nil
}

// Save writes the session, creating parent directories as needed.
func (s *FileSessionStore) Save(sess *Session) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}
