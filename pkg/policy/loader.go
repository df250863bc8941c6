package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Loader reads policy documents from files and directories. Documents are
// YAML or JSON; each may declare several policies. All structural problems
// are config errors and abort the load.
type Loader struct {
	logger   zerolog.Logger
	validate *validator.Validate
	watcher  *fsnotify.Watcher
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:   logger.With().Str("component", "policy-loader").Logger(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// LoadPaths loads every policy document under the given file or directory
// paths, preserving declaration order: files are visited in path order and
// policies in document order.
func (l *Loader) LoadPaths(paths []string) ([]Policy, error) {
	var all []Policy

	for _, path := range paths {
		policies, err := l.loadPath(path)
		if err != nil {
			return nil, err
		}
		all = append(all, policies...)
	}

	l.logger.Info().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return all, nil
}

// LoadRegistry runs the full load-and-validate path and compiles the
// result, prepending the built-in policy set when requested.
func (l *Loader) LoadRegistry(paths []string, includeBuiltins bool) (*Registry, error) {
	var policies []Policy
	if includeBuiltins {
		policies = append(policies, Builtins()...)
	}

	loaded, err := l.LoadPaths(paths)
	if err != nil {
		return nil, err
	}
	policies = append(policies, loaded...)

	return NewRegistry(policies)
}

func (l *Loader) loadPath(path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, NewConfigError("stat policy source", err).WithSource(path)
	}

	if info.IsDir() {
		return l.loadDirectory(path)
	}
	return l.loadFile(path)
}

func (l *Loader) loadDirectory(dirPath string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}

		loaded, err := l.loadFile(path)
		if err != nil {
			return err
		}
		policies = append(policies, loaded...)
		return nil
	})
	if err != nil {
		if IsConfigError(err) {
			return nil, err
		}
		return nil, NewConfigError("walk policy directory", err).WithSource(dirPath)
	}

	return policies, nil
}

func (l *Loader) loadFile(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewConfigError("read policy file", err).WithSource(path)
	}

	var doc Document
	// yaml.v3 handles JSON as a subset of YAML, so one decoder covers both
	// document formats.
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, NewConfigError("parse policy document", err).WithSource(path)
	}

	if err := l.validate.Struct(&doc); err != nil {
		return nil, NewConfigError("invalid policy document", err).WithSource(path)
	}

	l.logger.Debug().
		Str("path", path).
		Int("policies", len(doc.Policies)).
		Msg("Policy document loaded")

	return doc.Policies, nil
}

func isPolicyFile(path string) bool {
	return strings.HasSuffix(path, ".yaml") ||
		strings.HasSuffix(path, ".yml") ||
		strings.HasSuffix(path, ".json")
}

// Watch observes the given paths and re-runs the full load-and-validate
// path when a policy file changes. On success the new registry is handed
// to swapFn for an atomic swap; on failure the previous registry stays in
// effect and the error is logged.
func (l *Loader) Watch(ctx context.Context, paths []string, includeBuiltins bool, swapFn func(*Registry)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}
		if info.IsDir() {
			if err := l.watchDirectory(path); err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch directory")
			}
		} else if err := watcher.Add(path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch file")
		}
	}

	go l.processEvents(ctx, paths, includeBuiltins, swapFn)

	l.logger.Info().Int("paths", len(paths)).Msg("Started watching policy paths")
	return nil
}

func (l *Loader) watchDirectory(dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return l.watcher.Add(path)
		}
		return nil
	})
}

func (l *Loader) processEvents(ctx context.Context, paths []string, includeBuiltins bool, swapFn func(*Registry)) {
	// Debounce bursts of file events into one reload.
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if l.watcher != nil {
				_ = l.watcher.Close()
			}
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			if !isPolicyFile(event.Name) {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Policy file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				reg, err := l.LoadRegistry(paths, includeBuiltins)
				if err != nil {
					l.logger.Error().Err(err).Msg("Policy reload failed, keeping previous registry")
					return
				}
				swapFn(reg)
				l.logger.Info().Int("count", reg.Len()).Msg("Policies reloaded")
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
