// Package session manages the session table persisted at sessions.json on
// the shared volume. A session holds the ordered message window, the
// per-session probe cache, and loop-detector state. Turns on the same
// session are serialized FIFO; different sessions may run in parallel.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Message is one entry of the session history window.
type Message struct {
	Role      string    `json:"role"` // user | assistant | system
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ProbeCacheEntry caches a semantic-probe result for one phrase.
type ProbeCacheEntry struct {
	ResultJSON string `json:"result_json"`
	AgeTurns   int    `json:"age_turns"`
}

// LoopState is the loop detector's per-session memory. It is persisted with
// the session so a warn survives suspend/resume.
type LoopState struct {
	ResetCount   int    `json:"reset_count"`
	WarnIssued   bool   `json:"warn_issued"`
	WarnAgeTurns int    `json:"warn_age_turns"`
	LastPattern  string `json:"last_pattern,omitempty"`
}

// Session is one conversation identified by its session_id (for example
// discord_dm_<user>, web_<uuid>, cli_<ts>).
type Session struct {
	ID         string                      `json:"id"`
	CreatedAt  time.Time                   `json:"created_at"`
	UpdatedAt  time.Time                   `json:"updated_at"`
	Messages   []Message                   `json:"messages"`
	ProbeCache map[string]*ProbeCacheEntry `json:"probe_cache,omitempty"`
	Loop       LoopState                   `json:"loop_state"`
	LastPrompt string                      `json:"last_prompt,omitempty"`
}

var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Store owns sessions.json and the per-session locks.
type Store struct {
	mu         sync.Mutex
	path       string
	windowSize int
	sessions   map[string]*Session
	locks      map[string]*sync.Mutex
}

func NewStore(path string, windowSize int) (*Store, error) {
	if windowSize <= 0 {
		windowSize = 40
	}
	s := &Store{
		path:       path,
		windowSize: windowSize,
		sessions:   make(map[string]*Session),
		locks:      make(map[string]*sync.Mutex),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read session table: %w", err)
	}
	if err := json.Unmarshal(raw, &s.sessions); err != nil {
		return nil, fmt.Errorf("corrupt session table %s: %w", path, err)
	}
	return s, nil
}

// Lock serializes turns on one session. The returned func releases it.
func (s *Store) Lock(sessionID string) func() {
	s.mu.Lock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Get returns the session, creating it on first use.
func (s *Store) Get(sessionID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		now := time.Now().UTC()
		sess = &Session{
			ID:         sessionID,
			CreatedAt:  now,
			UpdatedAt:  now,
			ProbeCache: make(map[string]*ProbeCacheEntry),
		}
		s.sessions[sessionID] = sess
	}
	return sess
}

// Append stores a message, strips any think-tagged content, enforces the
// sliding window, and persists. Empty content after stripping is skipped.
func (s *Store) Append(sessionID, role, content string) error {
	clean := strings.TrimSpace(thinkTagPattern.ReplaceAllString(content, ""))
	if clean == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		now := time.Now().UTC()
		sess = &Session{ID: sessionID, CreatedAt: now, ProbeCache: make(map[string]*ProbeCacheEntry)}
		s.sessions[sessionID] = sess
	}

	sess.Messages = append(sess.Messages, Message{
		Role:      role,
		Content:   clean,
		Timestamp: time.Now().UTC(),
	})
	if len(sess.Messages) > s.windowSize {
		sess.Messages = sess.Messages[len(sess.Messages)-s.windowSize:]
	}
	sess.UpdatedAt = time.Now().UTC()

	return s.persistLocked()
}

// History returns a copy of the message window.
func (s *Store) History(sessionID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Message, len(sess.Messages))
	copy(out, sess.Messages)
	return out
}

// CachedProbe returns a cached probe result if it has not aged out.
func (s *Store) CachedProbe(sessionID, phrase string, maxAgeTurns int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return "", false
	}
	entry, ok := sess.ProbeCache[phrase]
	if !ok || entry.AgeTurns >= maxAgeTurns {
		return "", false
	}
	return entry.ResultJSON, true
}

// CacheProbe stores a probe result for a phrase.
func (s *Store) CacheProbe(sessionID, phrase, resultJSON string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	if sess.ProbeCache == nil {
		sess.ProbeCache = make(map[string]*ProbeCacheEntry)
	}
	sess.ProbeCache[phrase] = &ProbeCacheEntry{ResultJSON: resultJSON}
}

// AdvanceTurn ages the probe cache and the loop warn, evicting stale
// entries. Called once per completed turn.
func (s *Store) AdvanceTurn(sessionID string, cacheMaxAge, warnTTL int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	for phrase, entry := range sess.ProbeCache {
		entry.AgeTurns++
		if entry.AgeTurns >= cacheMaxAge {
			delete(sess.ProbeCache, phrase)
		}
	}
	if sess.Loop.WarnIssued {
		sess.Loop.WarnAgeTurns++
		if warnTTL > 0 && sess.Loop.WarnAgeTurns >= warnTTL {
			sess.Loop.WarnIssued = false
			sess.Loop.WarnAgeTurns = 0
			sess.Loop.LastPattern = ""
		}
	}
}

// LoopStateFor returns a copy of the session's loop state.
func (s *Store) LoopStateFor(sessionID string) LoopState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok {
		return sess.Loop
	}
	return LoopState{}
}

// SetLoopState replaces the session's loop state and persists.
func (s *Store) SetLoopState(sessionID string, state LoopState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	sess.Loop = state
	return s.persistLocked()
}

// SetLastPrompt records the previous user prompt for duplicate-turn checks.
func (s *Store) SetLastPrompt(sessionID, prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok {
		sess.LastPrompt = prompt
	}
}

// LastPrompt returns the previous user prompt.
func (s *Store) LastPrompt(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok {
		return sess.LastPrompt
	}
	return ""
}

// IDs lists the known session ids, sorted.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) persistLocked() error {
	raw, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
