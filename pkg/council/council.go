// Package council implements the Lite→Prime handoff notes. A note is
// written when Lite answers while Prime sleeps and the prompt warranted
// escalation; Prime consumes pending notes newer than its sleep anchor on
// wake, exactly once, by atomic rename into the archive.
package council

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Filenames carry microsecond precision to avoid same-second collisions.
const stampLayout = "2006-01-02T15-04-05.000000Z"

// Note is one structured handoff artifact.
type Note struct {
	Timestamp        time.Time `json:"timestamp"`
	UserPrompt       string    `json:"user_prompt"`
	LiteQuickTake    string    `json:"lite_quick_take"`
	EscalationReason string    `json:"escalation_reason"`
	Confidence       float64   `json:"confidence"`
}

// Box owns the pending and archive directories.
type Box struct {
	notesDir   string
	archiveDir string
}

func NewBox(notesDir, archiveDir string) *Box {
	return &Box{notesDir: notesDir, archiveDir: archiveDir}
}

// Write persists a note to the pending directory.
func (b *Box) Write(note Note) error {
	if note.Timestamp.IsZero() {
		note.Timestamp = time.Now().UTC()
	}
	if err := os.MkdirAll(b.notesDir, 0755); err != nil {
		return err
	}

	name := note.Timestamp.UTC().Format(stampLayout) + ".md"
	var body strings.Builder
	body.WriteString("# Council Note\n\n")
	meta, err := json.MarshalIndent(note, "", "  ")
	if err != nil {
		return err
	}
	body.WriteString("```json\n")
	body.Write(meta)
	body.WriteString("\n```\n")

	path := filepath.Join(b.notesDir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body.String()), 0644); err != nil {
		return fmt.Errorf("failed to write council note: %w", err)
	}
	return os.Rename(tmp, path)
}

// Pending lists pending notes in timestamp order without consuming them.
func (b *Box) Pending() ([]Note, error) {
	entries, err := os.ReadDir(b.notesDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	notes := make([]Note, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		note, err := b.readNote(filepath.Join(b.notesDir, entry.Name()))
		if err != nil {
			continue // unreadable notes are skipped, not fatal
		}
		notes = append(notes, note)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].Timestamp.Before(notes[j].Timestamp) })
	return notes, nil
}

// ConsumeSince returns notes with timestamp strictly after the anchor and
// moves every returned note to the archive. The pending→archive rename
// makes consumption exactly-once.
func (b *Box) ConsumeSince(anchor time.Time) ([]Note, error) {
	entries, err := os.ReadDir(b.notesDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(b.archiveDir, 0755); err != nil {
		return nil, err
	}

	var consumed []Note
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(b.notesDir, entry.Name())
		note, err := b.readNote(path)
		if err != nil {
			continue
		}
		if !note.Timestamp.After(anchor) {
			continue
		}
		if err := os.Rename(path, filepath.Join(b.archiveDir, entry.Name())); err != nil {
			return consumed, fmt.Errorf("failed to archive council note %s: %w", entry.Name(), err)
		}
		consumed = append(consumed, note)
	}
	sort.Slice(consumed, func(i, j int) bool { return consumed[i].Timestamp.Before(consumed[j].Timestamp) })
	return consumed, nil
}

// EvictExpired removes pending notes older than the TTL. Run by the
// scheduler, not by wake.
func (b *Box) EvictExpired(ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(b.notesDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-ttl)
	evicted := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		note, err := b.readNote(filepath.Join(b.notesDir, entry.Name()))
		if err != nil {
			continue
		}
		if note.Timestamp.Before(cutoff) {
			if err := os.Remove(filepath.Join(b.notesDir, entry.Name())); err == nil {
				evicted++
			}
		}
	}
	return evicted, nil
}

func (b *Box) readNote(path string) (Note, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Note{}, err
	}
	content := string(raw)

	start := strings.Index(content, "```json")
	end := strings.LastIndex(content, "```")
	if start < 0 || end <= start {
		return Note{}, fmt.Errorf("note %s has no metadata block", path)
	}
	var note Note
	if err := json.Unmarshal([]byte(content[start+len("```json"):end]), &note); err != nil {
		return Note{}, fmt.Errorf("note %s has malformed metadata: %w", path, err)
	}
	return note, nil
}
