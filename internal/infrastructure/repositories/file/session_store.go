package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"proctorlink/internal/core/domain"
)

// SessionStore is the durable per-device key→value entry: a single file under
// basePath holding the current session id. Writes are atomic via rename so a
// crash never leaves a truncated id behind.
type SessionStore struct {
	path string
}

func NewSessionStore(basePath string) (*SessionStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &SessionStore{path: filepath.Join(basePath, domain.SessionKey)}, nil
}

func (s *SessionStore) Load(ctx context.Context) (domain.SessionID, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", domain.ErrSessionNotFound
		}
		return "", fmt.Errorf("failed to read session file: %w", err)
	}

	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", domain.ErrSessionNotFound
	}
	return domain.SessionID(id), nil
}

func (s *SessionStore) Save(ctx context.Context, id domain.SessionID) error {
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(id), 0o644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}
