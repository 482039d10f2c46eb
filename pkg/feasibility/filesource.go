package feasibility

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// maxCalendarFileSize is the maximum allowed calendar file size (1 MiB).
const maxCalendarFileSize = 1 << 20

// ErrFileTooLarge is returned when a calendar file exceeds maxCalendarFileSize.
var ErrFileTooLarge = errors.New("availability file exceeds maximum allowed size (1 MiB)")

// ErrPathTraversal is returned when a calendar file path contains path traversal.
var ErrPathTraversal = errors.New("availability file path contains path traversal")

// calendarFile is the on-disk YAML shape:
//
//	resources:
//	  - id: MILL-1
//	    capacityHours: 80
//	materials:
//	  - id: AL-6061
//	    lotQuantity: 500
type calendarFile struct {
	Resources []struct {
		ID            string  `yaml:"id"`
		CapacityHours float64 `yaml:"capacityHours"`
	} `yaml:"resources"`
	Materials []struct {
		ID          string  `yaml:"id"`
		LotQuantity float64 `yaml:"lotQuantity"`
	} `yaml:"materials"`
}

// FileSource is an AvailabilitySource backed by a YAML calendar file on disk.
// Watch keeps the served map current while the file changes underneath.
type FileSource struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	results map[string]AvailabilityResult
	watcher *fsnotify.Watcher
}

// NewFileSource loads the calendar at path and returns a source serving it.
// Returns an error if the path contains traversal sequences or the initial
// load fails.
func NewFileSource(path string, logger *slog.Logger) (*FileSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := validateCalendarPath(path); err != nil {
		return nil, err
	}
	s := &FileSource{
		path:    path,
		logger:  logger,
		results: make(map[string]AvailabilityResult),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// validateCalendarPath checks that the path does not contain ".." traversal
// components.
func validateCalendarPath(path string) error {
	cleaned := filepath.Clean(path)
	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if part == ".." {
			return ErrPathTraversal
		}
	}
	return nil
}

// Path returns the calendar file path served by this source.
func (s *FileSource) Path() string {
	return s.path
}

// reload reads and parses the calendar file, swapping the served map only on
// success. A broken edit leaves the previous calendar in effect.
func (s *FileSource) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("availability source: failed to read %s: %w", s.path, err)
	}
	if int64(len(data)) > maxCalendarFileSize {
		return fmt.Errorf("availability source: %s: %w", s.path, ErrFileTooLarge)
	}

	var cal calendarFile
	if err := yaml.Unmarshal(data, &cal); err != nil {
		return fmt.Errorf("availability source: failed to parse %s: %w", s.path, err)
	}

	results := make(map[string]AvailabilityResult, len(cal.Resources)+len(cal.Materials))
	for _, r := range cal.Resources {
		if r.ID == "" {
			continue
		}
		results[r.ID] = AvailabilityResult{TargetID: r.ID, CapacityHours: r.CapacityHours}
	}
	for _, m := range cal.Materials {
		if m.ID == "" {
			continue
		}
		results[m.ID] = AvailabilityResult{TargetID: m.ID, LotQuantity: m.LotQuantity}
	}

	s.mu.Lock()
	s.results = results
	s.mu.Unlock()
	return nil
}

// Reload re-reads the calendar file immediately.
func (s *FileSource) Reload() error {
	return s.reload()
}

// Available implements AvailabilitySource.
func (s *FileSource) Available(_ context.Context, targetID string, _ Window) (AvailabilityResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.results[targetID]; ok {
		return r, nil
	}
	return AvailabilityResult{TargetID: targetID}, nil
}

// Watch reloads the calendar whenever the file changes, until the context is
// canceled or Close is called. Config pushers typically replace the file
// rather than write it in place, so the watch sits on the directory and
// filters events down to the calendar file name.
func (s *FileSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("availability source: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("availability source: watch %s: %w", filepath.Dir(s.path), err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	go func() {
		want := filepath.Clean(s.path)
		for {
			select {
			case <-ctx.Done():
				_ = s.Close()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != want {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.reload(); err != nil {
					s.logger.Warn("availability calendar reload failed", "path", s.path, "error", err)
					continue
				}
				s.logger.Info("availability calendar reloaded", "path", s.path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("availability calendar watch error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher if one is running.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil
	return err
}

// Compile-time interface checks.
var (
	_ AvailabilitySource = (*FileSource)(nil)
	_ AvailabilitySource = (*StaticSource)(nil)
)
