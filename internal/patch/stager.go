// ABOUTME: Two-phase patch staging: prepare records a diff on disk, apply validates then mutates.
// ABOUTME: Apply claims the record atomically so a patch is applied at most once.

package patch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/2389/workbridge/internal/protocol"
	"github.com/2389/workbridge/internal/runner"
)

const (
	// DefaultTTL is how long an unapplied patch is kept.
	DefaultTTL = time.Hour

	// SweepSchedule is the cron spec for expiring stale patches.
	SweepSchedule = "@every 1m"

	previewRunes = 500
	fileSuffix   = ".patch"
)

// Config configures a Stager.
type Config struct {
	// Dir holds staged patch files. Created if missing.
	Dir string
	// Root is the working tree patches are applied to.
	Root   string
	Runner runner.Runner
	TTL    time.Duration
	Logger *slog.Logger
}

// Prepared is a staged, not yet applied diff.
type Prepared struct {
	ID        string
	Diff      string
	Path      string
	Files     []string
	CreatedAt time.Time
}

// Summary is returned by Prepare.
type Summary struct {
	PatchID              string   `json:"patchId"`
	Files                []string `json:"files"`
	Additions            int      `json:"additions"`
	Deletions            int      `json:"deletions"`
	Summary              string   `json:"summary"`
	Preview              string   `json:"preview"`
	RequiresConfirmation bool     `json:"requiresConfirmation"`
}

// Applied is returned by a successful Apply.
type Applied struct {
	PatchID string   `json:"patchId"`
	Applied bool     `json:"applied"`
	Files   []string `json:"files"`
}

// Stager owns the PreparedPatch records.
type Stager struct {
	dir    string
	root   string
	runner runner.Runner
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	patches map[string]*Prepared

	cron *cron.Cron
}

// New creates a Stager and its staging directory.
func New(cfg Config) (*Stager, error) {
	if cfg.Dir == "" {
		return nil, errors.New("patch staging dir is required")
	}
	if cfg.Root == "" {
		return nil, errors.New("workspace root is required")
	}
	if cfg.Runner == nil {
		cfg.Runner = runner.Exec{}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}

	return &Stager{
		dir:     cfg.Dir,
		root:    cfg.Root,
		runner:  cfg.Runner,
		ttl:     cfg.TTL,
		logger:  cfg.Logger.With("component", "patch"),
		now:     time.Now,
		patches: make(map[string]*Prepared),
	}, nil
}

// Prepare validates diff, writes it to the staging dir, and records it.
func (s *Stager) Prepare(diff string) (*Summary, error) {
	if strings.TrimSpace(diff) == "" {
		return nil, protocol.Errorf(protocol.KindValidation, protocol.CodeMissingInput, "missing diff parameter")
	}
	stats, err := parseDiff(diff)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	path := filepath.Join(s.dir, id+fileSuffix)
	if err := os.WriteFile(path, []byte(diff), 0o600); err != nil {
		return nil, fmt.Errorf("writing patch file: %w", err)
	}

	s.mu.Lock()
	s.patches[id] = &Prepared{
		ID:        id,
		Diff:      diff,
		Path:      path,
		Files:     stats.files,
		CreatedAt: s.now(),
	}
	s.mu.Unlock()

	s.logger.Info("patch staged", "patch_id", id, "files", len(stats.files))

	return &Summary{
		PatchID:              id,
		Files:                stats.files,
		Additions:            stats.additions,
		Deletions:            stats.deletions,
		Summary:              fmt.Sprintf("%d file(s) changed, +%d -%d", len(stats.files), stats.additions, stats.deletions),
		Preview:              preview(diff),
		RequiresConfirmation: true,
	}, nil
}

// Apply dry-runs the staged patch against the working tree and applies it
// only if the dry run passes. A failed apply leaves the record in place.
func (s *Stager) Apply(ctx context.Context, id string) (*Applied, error) {
	if id == "" {
		return nil, protocol.Errorf(protocol.KindValidation, protocol.CodeMissingInput, "missing patchId parameter")
	}
	p := s.claim(id)
	if p == nil {
		return nil, protocol.Errorf(protocol.KindValidation, protocol.CodeNotFound, "patch %s not found or already applied", id)
	}

	out, err := s.runner.Run(ctx, s.root, "git", "apply", "--check", p.Path)
	if err != nil || out.ExitCode != 0 {
		s.restore(p)
		return nil, protocol.Errorf(protocol.KindExecution, protocol.CodePatchConflict,
			"patch does not apply cleanly: %s", failureDetail(out, err))
	}

	out, err = s.runner.Run(ctx, s.root, "git", "apply", p.Path)
	if err != nil || out.ExitCode != 0 {
		s.restore(p)
		return nil, protocol.Errorf(protocol.KindExecution, "",
			"failed to apply patch: %s", failureDetail(out, err))
	}

	if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove applied patch file", "patch_id", id, "error", err)
	}
	s.logger.Info("patch applied", "patch_id", id, "files", len(p.Files))

	return &Applied{PatchID: id, Applied: true, Files: p.Files}, nil
}

// Pending returns the staged patches, oldest first.
func (s *Stager) Pending() []Prepared {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Prepared, 0, len(s.patches))
	for _, p := range s.patches {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Sweep removes patches older than the TTL, including orphaned files left
// by a previous process. Returns the number of records removed.
func (s *Stager) Sweep() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	var expired []*Prepared
	for id, p := range s.patches {
		if p.CreatedAt.Before(cutoff) {
			expired = append(expired, p)
			delete(s.patches, id)
		}
	}
	known := make(map[string]bool, len(s.patches))
	for _, p := range s.patches {
		known[p.Path] = true
	}
	s.mu.Unlock()

	for _, p := range expired {
		s.removeFile(p)
		s.logger.Info("patch expired", "patch_id", p.ID, "age", s.now().Sub(p.CreatedAt).Round(time.Second))
	}
	s.sweepOrphans(cutoff, known)
	return len(expired)
}

// Start schedules Sweep on SweepSchedule.
func (s *Stager) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(SweepSchedule, func() { s.Sweep() }); err != nil {
		return fmt.Errorf("scheduling patch sweep: %w", err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the sweep and waits for a running sweep to finish.
func (s *Stager) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// claim removes the record for id and returns it, or nil if absent.
func (s *Stager) claim(id string) *Prepared {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patches[id]
	if !ok {
		return nil
	}
	delete(s.patches, id)
	return p
}

func (s *Stager) restore(p *Prepared) {
	s.mu.Lock()
	s.patches[p.ID] = p
	s.mu.Unlock()
}

func (s *Stager) removeFile(p *Prepared) {
	if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove patch file", "patch_id", p.ID, "error", err)
	}
}

func (s *Stager) sweepOrphans(cutoff time.Time, known map[string]bool) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("failed to list staging dir", "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if known[path] {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err == nil {
			s.logger.Debug("removed orphaned patch file", "file", entry.Name())
		}
	}
}

func preview(diff string) string {
	r := []rune(diff)
	if len(r) <= previewRunes {
		return diff
	}
	return string(r[:previewRunes])
}

func failureDetail(out runner.Output, err error) string {
	if err != nil {
		return err.Error()
	}
	if msg := strings.TrimSpace(out.Stderr); msg != "" {
		return msg
	}
	return fmt.Sprintf("git exited with status %d", out.ExitCode)
}
