package skills

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const reloadDelay = 200 * time.Millisecond

// Set holds the loaded skills and builds per-input prompt additions.
type Set struct {
	dir    string
	mu     sync.RWMutex
	skills []Skill
	logger zerolog.Logger
}

// NewSet loads the skills in dir.
func NewSet(dir string) (*Set, error) {
	s := &Set{dir: dir, logger: log.With().Str("component", "skills").Logger()}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Set) Dir() string { return s.dir }

// Reload re-reads the skills directory. On error the previous skills stay.
func (s *Set) Reload() error {
	loaded, err := LoadSkills(s.dir)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.skills = loaded
	s.mu.Unlock()
	return nil
}

func (s *Set) Skills() []Skill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Skill, len(s.skills))
	copy(out, s.skills)
	return out
}

// Match returns the skills that apply to input.
func (s *Set) Match(input string) []Skill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Skill
	for _, sk := range s.skills {
		if sk.Body != "" && sk.Matches(input) {
			out = append(out, sk)
		}
	}
	return out
}

// Prompt returns the bodies of the matching skills as system prompt text.
func (s *Set) Prompt(input string) string {
	matched := s.Match(input)
	if len(matched) == 0 {
		return ""
	}
	blocks := make([]string, 0, len(matched))
	for _, sk := range matched {
		blocks = append(blocks, fmt.Sprintf("## Skill: %s\n%s", sk.Name, sk.Body))
	}
	return strings.Join(blocks, "\n\n")
}

// Watch reloads the set whenever a file under the skills directory changes,
// until ctx is done. A missing directory is not watched.
func (s *Set) Watch(ctx context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat skills dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create skills watcher: %w", err)
	}
	defer w.Close()

	if err := s.addWatches(w); err != nil {
		return err
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(reloadDelay)
			} else {
				timer.Reset(reloadDelay)
			}
			pending = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("skills watcher error")
		case <-pending:
			pending = nil
			if err := s.Reload(); err != nil {
				s.logger.Warn().Err(err).Msg("reload skills failed, keeping previous set")
				continue
			}
			s.logger.Info().Int("skills", len(s.Skills())).Msg("skills reloaded")
		}
	}
}

func (s *Set) addWatches(w *fsnotify.Watcher) error {
	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read skills dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(s.dir, e.Name())); err != nil {
				s.logger.Warn().Err(err).Str("dir", e.Name()).Msg("cannot watch skill directory")
			}
		}
	}
	return nil
}
