package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/azraeltruthsay/gaia-sub000/pkg/config"
)

// Syncer replicates session state one way, live volume to candidate
// volume, so the standby is at most one sync cycle stale on failover.
// Council archives and history directories are deliberately excluded;
// only what a cold standby needs to pick up a conversation travels.
type Syncer struct {
	log       *slog.Logger
	paths     config.PathsConfig
	candidate string

	mu       sync.Mutex
	lastSync time.Time
}

func NewSyncer(paths config.PathsConfig, candidateRoot string, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{
		log:       log.With("component", "ha-sync"),
		paths:     paths,
		candidate: candidateRoot,
	}
}

// Sync copies the session table, per-session vector indices, and both
// cognitive checkpoints to the candidate root. Missing sources are
// skipped; a fresh install has none of them yet.
func (s *Syncer) Sync(ctx context.Context) error {
	if s.candidate == "" {
		return nil
	}
	start := time.Now()

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.copyFile(s.paths.SessionsFile, filepath.Join(s.candidate, "sessions.json"))
	})
	g.Go(func() error {
		return s.copyFile(s.paths.PrimeCheckpoint, filepath.Join(s.candidate, "sleep_state", "prime.md"))
	})
	g.Go(func() error {
		return s.copyFile(s.paths.LiteJournal, filepath.Join(s.candidate, "lite_journal", "Lite.md"))
	})
	g.Go(func() error {
		return s.copyVectors(filepath.Join(s.candidate, "session_vectors"))
	})
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastSync = time.Now()
	s.mu.Unlock()
	s.log.Debug("Session sync complete", "duration", time.Since(start))
	return nil
}

// LastSync reports when the previous sync finished; zero before the
// first successful cycle.
func (s *Syncer) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

func (s *Syncer) copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	return os.Rename(tmp, dst)
}

// copyVectors replicates every top-level *.json index. Subdirectories
// (archive and history) stay on the live volume.
func (s *Syncer) copyVectors(dstDir string) error {
	entries, err := os.ReadDir(s.paths.SessionVectors)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", s.paths.SessionVectors, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		src := filepath.Join(s.paths.SessionVectors, entry.Name())
		if err := s.copyFile(src, filepath.Join(dstDir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
