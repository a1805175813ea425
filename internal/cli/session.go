package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"
)

// EnvToken overrides the session token for every command.
const EnvToken = "STAGEHAND_TOKEN"

// SessionFileName is the file under the state directory holding the token
// returned by begin.
const SessionFileName = "session.json"

// ErrNoToken is returned when no ownership token can be found.
var ErrNoToken = errors.New("no stage token: run `stagehand begin` or pass --token")

// Session is the persisted CLI session.
type Session struct {
	Token     string    `json:"token"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

func sessionPath(stateDir string) string {
	return filepath.Join(stateDir, SessionFileName)
}

// SaveSession writes the session file, readable only by its owner.
func SaveSession(stateDir string, s Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(sessionPath(stateDir), data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// LoadSession reads the session file. A missing file yields nil.
func LoadSession(stateDir string) (*Session, error) {
	data, err := os.ReadFile(sessionPath(stateDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session %s: %w", sessionPath(stateDir), err)
	}
	return &s, nil
}

// ClearSession removes the session file if present.
func ClearSession(stateDir string) error {
	if err := os.Remove(sessionPath(stateDir)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// ResolveToken picks the token from the flag, then the environment, then
// the session file.
func ResolveToken(flag string, getenv func(string) string, stateDir string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if v := getenv(EnvToken); v != "" {
		return v, nil
	}
	s, err := LoadSession(stateDir)
	if err != nil {
		return "", err
	}
	if s == nil || s.Token == "" {
		return "", ErrNoToken
	}
	return s.Token, nil
}

// Fingerprint identifies the caller as user@host.
func Fingerprint() string {
	name := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return name + "@" + host
}
