package library

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Scan lists the supported media files below root as forward-slash relative
// paths, sorted ascending. Directories are visited from an explicit worklist;
// unreadable entries below the root are logged and skipped. Directories listed
// in exclude (absolute or root-relative) are not descended into.
func Scan(root string, allowed []string, exclude []string, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: not a directory", root)
	}

	allowedSet := extensionSet(allowed)
	excluded := excludeSet(root, exclude)
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		realRoot = root
	}

	var files []string
	err = walkDirs(root, excluded, logger, func(dir string, entries []os.DirEntry) {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			full := filepath.Join(dir, entry.Name())
			if !isRegular(realRoot, full, entry) {
				continue
			}
			if _, ok := allowedSet[strings.ToLower(filepath.Ext(full))]; !ok {
				continue
			}
			rel, err := filepath.Rel(root, full)
			if err != nil {
				logger.Warn("relative path failed", zap.String("path", full), zap.Error(err))
				continue
			}
			files = append(files, filepath.ToSlash(rel))
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// walkDirs visits root and every directory below it, depth first, using a stack
// instead of recursion. Only a failure to read root itself is returned.
func walkDirs(root string, excluded map[string]struct{}, logger *zap.Logger, visit func(dir string, entries []os.DirEntry)) error {
	stack := []string{root}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			if dir == root && len(entries) == 0 {
				return fmt.Errorf("read %s: %w", dir, err)
			}
			logger.Warn("directory read error", zap.String("dir", dir), zap.Error(err))
		}

		visit(dir, entries)

		for i := len(entries) - 1; i >= 0; i-- {
			entry := entries[i]
			if !entry.IsDir() {
				continue
			}
			sub := filepath.Join(dir, entry.Name())
			if _, skip := excluded[filepath.Clean(sub)]; skip {
				continue
			}
			stack = append(stack, sub)
		}
	}
	return nil
}

// isRegular accepts regular files and symlinks to regular files that resolve
// inside realRoot.
func isRegular(realRoot, path string, entry os.DirEntry) bool {
	if entry.Type().IsRegular() {
		return true
	}
	if entry.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(realRoot, resolved)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel != ".." && !strings.HasPrefix(rel, "../")
}

func extensionSet(allowed []string) map[string]struct{} {
	set := make(map[string]struct{}, len(allowed))
	for _, ext := range allowed {
		set[strings.ToLower(ext)] = struct{}{}
	}
	return set
}

func excludeSet(root string, exclude []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exclude))
	for _, dir := range exclude {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		set[filepath.Clean(dir)] = struct{}{}
	}
	return set
}

// Option customises a Library.
type Option func(*Library)

// WithExclude skips the given directories when scanning and watching.
func WithExclude(dirs ...string) Option {
	return func(l *Library) {
		l.exclude = append(l.exclude, dirs...)
	}
}

// WithWatchedFiles makes changes to the named files (relative to the root)
// trigger change notifications even though they are not media files.
func WithWatchedFiles(names ...string) Option {
	return func(l *Library) {
		for _, name := range names {
			l.watched[filepath.Clean(filepath.Join(l.root, name))] = struct{}{}
		}
	}
}

// Library scans a content directory on demand and watches it so that callers
// can drop derived state as soon as files change.
type Library struct {
	root     string
	allowed  []string
	allowSet map[string]struct{}
	exclude  []string
	excluded map[string]struct{}
	watched  map[string]struct{}
	watcher  *fsnotify.Watcher
	logger   *zap.Logger

	listenersMu sync.RWMutex
	listeners   []func()

	refreshMu    sync.Mutex
	refreshTimer *time.Timer
	refreshDelay time.Duration

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewLibrary creates a Library and starts watching the provided root path.
func NewLibrary(root string, allowed []string, debounce time.Duration, logger *zap.Logger, opts ...Option) (*Library, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	lib := &Library{
		root:         filepath.Clean(root),
		allowed:      append([]string(nil), allowed...),
		allowSet:     extensionSet(allowed),
		watched:      make(map[string]struct{}),
		watcher:      watcher,
		logger:       logger.Named("library"),
		refreshDelay: debounce,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(lib)
	}
	lib.excluded = excludeSet(lib.root, lib.exclude)

	lib.addWatchRecursive(lib.root)

	lib.wg.Add(1)
	go lib.run()

	return lib, nil
}

// Root returns the directory being served.
func (l *Library) Root() string {
	return l.root
}

// Files scans the root and returns the supported media files currently on disk.
func (l *Library) Files() ([]string, error) {
	return Scan(l.root, l.allowed, l.exclude, l.logger)
}

// OnChange registers fn to be called (debounced) after relevant file-system changes.
func (l *Library) OnChange(fn func()) {
	l.listenersMu.Lock()
	defer l.listenersMu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Close stops the watcher and cleans up resources.
func (l *Library) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)

		l.refreshMu.Lock()
		if l.refreshTimer != nil {
			l.refreshTimer.Stop()
			l.refreshTimer = nil
		}
		l.refreshMu.Unlock()

		l.closeErr = l.watcher.Close()
		l.wg.Wait()
	})
	return l.closeErr
}

func (l *Library) run() {
	defer l.wg.Done()

	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handleEvent(event)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("watcher error", zap.Error(err))
		case <-l.done:
			return
		}
	}
}

func (l *Library) handleEvent(event fsnotify.Event) {
	name := filepath.Clean(event.Name)
	if l.isExcluded(name) {
		return
	}

	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(name); err == nil && info.IsDir() {
			l.addWatchRecursive(name)
			l.scheduleNotify()
			return
		}
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	_, watched := l.watched[name]
	if watched || l.isAllowed(name) || event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		l.scheduleNotify()
	}
}

func (l *Library) notify() {
	l.listenersMu.RLock()
	listeners := make([]func(), len(l.listeners))
	copy(listeners, l.listeners)
	l.listenersMu.RUnlock()

	l.logger.Debug("content changed", zap.Int("listeners", len(listeners)))
	for _, fn := range listeners {
		fn()
	}
}

func (l *Library) scheduleNotify() {
	select {
	case <-l.done:
		return
	default:
	}

	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	if l.refreshTimer != nil {
		l.refreshTimer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(l.refreshDelay, func() {
		l.notify()

		l.refreshMu.Lock()
		if l.refreshTimer == timer {
			l.refreshTimer = nil
		}
		l.refreshMu.Unlock()
	})

	l.refreshTimer = timer
}

func (l *Library) addWatchRecursive(path string) {
	err := walkDirs(path, l.excluded, l.logger, func(dir string, _ []os.DirEntry) {
		if err := l.watcher.Add(dir); err != nil && !errors.Is(err, fsnotify.ErrClosed) {
			l.logger.Warn("watcher add failure", zap.String("dir", dir), zap.Error(err))
		}
	})
	if err != nil {
		l.logger.Warn("watch registration failed", zap.String("dir", path), zap.Error(err))
	}
}

func (l *Library) isAllowed(path string) bool {
	_, ok := l.allowSet[strings.ToLower(filepath.Ext(path))]
	return ok
}

func (l *Library) isExcluded(path string) bool {
	for dir := range l.excluded {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
