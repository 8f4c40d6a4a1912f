// Package checkpoint persists the cognitive checkpoints prime.md and
// lite.md. These are not memory serialization: they are self-narrated
// summaries the model writes on sleep or graceful shutdown, and they are
// injected back as context-tier data fields on wake.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// AnchorPrefix marks the sleep timestamp line in prime.md. Council notes
// newer than the anchor are consumed on wake.
const AnchorPrefix = "Sleep Started: "

var anchorPattern = regexp.MustCompile(`(?m)^Sleep Started: (.+)$`)

// Store reads and writes the two checkpoint files.
type Store struct {
	primePath string
	litePath  string
}

func NewStore(primePath, litePath string) *Store {
	return &Store{primePath: primePath, litePath: litePath}
}

// WritePrime persists the prime narrative with a sleep anchor. The write is
// atomic so a half-written checkpoint is never observed by the HA sync.
func (s *Store) WritePrime(narrative string, sleepStarted time.Time) error {
	var b strings.Builder
	b.WriteString("# Prime Checkpoint\n\n")
	b.WriteString(AnchorPrefix)
	b.WriteString(sleepStarted.UTC().Format(time.RFC3339))
	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(narrative))
	b.WriteString("\n")
	return atomicWrite(s.primePath, []byte(b.String()))
}

// WriteLite appends a dated entry to the lite journal.
func (s *Store) WriteLite(entry string) error {
	if err := os.MkdirAll(filepath.Dir(s.litePath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.litePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open lite journal: %w", err)
	}
	defer f.Close()

	stamp := time.Now().UTC().Format(time.RFC3339)
	_, err = fmt.Fprintf(f, "\n## %s\n\n%s\n", stamp, strings.TrimSpace(entry))
	return err
}

// ReadPrime returns the prime checkpoint contents, empty if absent.
func (s *Store) ReadPrime() (string, error) {
	return readOptional(s.primePath)
}

// ReadLite returns the lite journal contents, empty if absent.
func (s *Store) ReadLite() (string, error) {
	return readOptional(s.litePath)
}

// Anchor extracts the sleep timestamp from prime.md. Returns zero time when
// the file or the anchor line is missing.
func (s *Store) Anchor() (time.Time, error) {
	content, err := s.ReadPrime()
	if err != nil {
		return time.Time{}, err
	}
	m := anchorPattern.FindStringSubmatch(content)
	if m == nil {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(m[1]))
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed sleep anchor %q: %w", m[1], err)
	}
	return ts, nil
}

// AppendObservation adds a watchdog observation to prime.md without
// disturbing the anchor. Used by the orchestrator to surface degraded HA
// state as a self-narrated note.
func (s *Store) AppendObservation(observation string) error {
	content, err := s.ReadPrime()
	if err != nil {
		return err
	}
	stamp := time.Now().UTC().Format(time.RFC3339)
	content += fmt.Sprintf("\n> Observation (%s): %s\n", stamp, strings.TrimSpace(observation))
	return atomicWrite(s.primePath, []byte(content))
}

func readOptional(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
