// Package origins keeps the set of browser origins allowed to call the API.
package origins

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Store answers origin checks from a static list merged with an optional
// file of one origin per line. The file is watched and reloaded on change.
type Store struct {
	file         string
	logger       *zap.Logger
	watcher      *fsnotify.Watcher
	refreshDelay time.Duration
	static       map[string]struct{}

	mu      sync.RWMutex
	origins map[string]struct{}

	refreshMu    sync.Mutex
	refreshTimer *time.Timer
	done         chan struct{}
	wg           sync.WaitGroup
	closeOnce    sync.Once
	closeErr     error
}

// NewStore creates a Store. When filePath is empty only the static list is used.
func NewStore(static []string, filePath string, debounce time.Duration, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		logger:       logger.Named("origins"),
		refreshDelay: debounce,
		static:       make(map[string]struct{}, len(static)),
		origins:      make(map[string]struct{}),
		done:         make(chan struct{}),
	}
	for _, origin := range static {
		if origin = normalize(origin); origin != "" {
			s.static[origin] = struct{}{}
		}
	}

	if strings.TrimSpace(filePath) == "" {
		s.origins = s.static
		return s, nil
	}
	s.file = filepath.Clean(filePath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	s.watcher = watcher

	if err := s.refresh(); err != nil {
		watcher.Close()
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(s.file)); err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(s.file); err != nil {
		s.logger.Debug("origin watcher could not watch file directly", zap.Error(err))
	}

	s.wg.Add(1)
	go s.run()

	return s, nil
}

// Close stops the file watcher and releases resources.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.refreshMu.Lock()
		if s.refreshTimer != nil {
			s.refreshTimer.Stop()
			s.refreshTimer = nil
		}
		s.refreshMu.Unlock()

		if s.watcher != nil {
			s.closeErr = s.watcher.Close()
		}
		s.wg.Wait()
	})
	return s.closeErr
}

// IsAllowedOrigin reports whether origin may make credentialed cross-origin requests.
func (s *Store) IsAllowedOrigin(origin string) bool {
	origin = normalize(origin)
	if origin == "" {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.origins["*"]; ok {
		return true
	}
	_, ok := s.origins[origin]
	return ok
}

// Origins returns the number of allowed origins.
func (s *Store) Origins() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.origins)
}

func (s *Store) run() {
	defer s.wg.Done()

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("origin watcher error", zap.Error(err))
		case <-s.done:
			return
		}
	}
}

func (s *Store) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != s.file {
		return
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
		s.scheduleRefresh()
	}
}

func (s *Store) scheduleRefresh() {
	select {
	case <-s.done:
		return
	default:
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}

	s.refreshTimer = time.AfterFunc(s.refreshDelay, func() {
		if err := s.refresh(); err != nil {
			s.logger.Warn("origin refresh error", zap.Error(err))
		}

		s.refreshMu.Lock()
		s.refreshTimer = nil
		s.refreshMu.Unlock()
	})
}

func (s *Store) refresh() error {
	merged := make(map[string]struct{}, len(s.static))
	for origin := range s.static {
		merged[origin] = struct{}{}
	}

	data, err := os.ReadFile(s.file)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		s.logger.Info("origin file missing; using static origins", zap.String("file", s.file))
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if origin := normalize(line); origin != "" {
			merged[origin] = struct{}{}
		}
	}

	s.mu.Lock()
	s.origins = merged
	s.mu.Unlock()

	s.logger.Info("loaded allowed origins", zap.Int("count", len(merged)))
	return nil
}

func normalize(origin string) string {
	return strings.TrimSuffix(strings.TrimSpace(origin), "/")
}
