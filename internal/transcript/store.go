package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Store persists session transcripts as JSONL files under {dir}/sessions/.
// Appends are serialized per session; independent sessions do not contend.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates the sessions directory if needed.
func NewStore(workspace string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Join(workspace, "sessions")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// sessionLock returns the per-session append lock, creating it on first use.
func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, safeFileName(sessionID)+".jsonl")
}

// AppendTurn appends one turn to the session log. The write is durable
// before return: the line is flushed and fsynced under the session lock.
func (s *Store) AppendTurn(sessionID string, turn Turn) error {
	if turn.Ts.IsZero() {
		turn.Ts = time.Now()
	}
	line, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.OpenFile(s.path(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync transcript: %w", err)
	}
	return nil
}

// LoadRecent replays the session file and returns the last n non-system
// turns in order. n <= 0 returns everything. A missing file yields an
// empty history; corrupt lines are skipped with a warning.
func (s *Store) LoadRecent(sessionID string, n int) ([]Turn, error) {
	f, err := os.Open(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var turns []Turn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var t Turn
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			s.logger.Warn("transcript.corrupt_line", "session", sessionID, "line", lineNo, "error", err)
			continue
		}
		if t.Kind == KindSystem {
			continue
		}
		turns = append(turns, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns, nil
}

// SessionSummary is a lightweight session descriptor for listing.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	Updated   time.Time `json:"updated"`
	SizeBytes int64     `json:"size_bytes"`
}

// ListSessions enumerates all transcript files, newest first.
func (s *Store) ListSessions() ([]SessionSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	var out []SessionSummary
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".jsonl")
		out = append(out, SessionSummary{
			// File names use '-' for ':'; only the two structural
			// separators after "agent" and the agent ID are restored.
			SessionID: restoreSessionID(name),
			Updated:   info.ModTime(),
			SizeBytes: info.Size(),
		})
	}
	sortSummaries(out)
	return out, nil
}

func sortSummaries(s []SessionSummary) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].Updated.After(s[j-1].Updated); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// restoreSessionID maps a transcript file name back to a session ID.
// Peer IDs themselves never contain ':' (channels guarantee that), so the
// replacement is reversible for canonical IDs.
func restoreSessionID(fileName string) string {
	parts := strings.SplitN(fileName, "-", 4)
	if len(parts) < 4 || parts[0] != "agent" {
		return fileName
	}
	return strings.Join(parts, ":")
}
