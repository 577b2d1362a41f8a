// Package monitor watches a media root for file-system changes and
// turns bursts of raw events into debounced gallery change sets.
package monitor

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"comfygallery/logger"
	"comfygallery/scanner"
)

// ChangeSet maps folder key to filename to the change that happened.
type ChangeSet map[string]map[string]FileChange

// FileChange is one create/update/remove action. Details are absent
// for removals.
type FileChange struct {
	Action string `json:"action"`
	*scanner.FileDetails
}

// OnChange receives a non-empty change set and the full tree it was
// diffed against.
type OnChange func(changes ChangeSet, tree *scanner.Tree)

// Monitor owns an fsnotify watcher over the scan root. Raw events are
// debounced; each quiet period triggers one rescan whose result is
// diffed against the last known tree.
type Monitor struct {
	scan     *scanner.Scanner
	interval time.Duration
	onChange OnChange

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	debounce *time.Timer
	last     *scanner.Tree
	scanning bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a Monitor over the given scanner. interval is the
// debounce quiet period.
func New(s *scanner.Scanner, interval time.Duration, onChange OnChange) *Monitor {
	return &Monitor{scan: s, interval: interval, onChange: onChange}
}

// Start takes an initial baseline scan and begins watching. It is an
// error to start an already-running monitor.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != nil {
		return nil
	}

	baseline, err := m.scan.Scan(ctx)
	if err != nil {
		return err
	}
	m.last = baseline

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addRecursive(watcher, m.scan.Root()); err != nil {
		_ = watcher.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	m.watcher = watcher
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, watcher)
	logger.Info("monitor: watching", "root", m.scan.Root())
	return nil
}

// Stop shuts the watcher down and waits for the event loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	watcher := m.watcher
	cancel := m.cancel
	done := m.done
	if m.debounce != nil {
		m.debounce.Stop()
		m.debounce = nil
	}
	m.watcher = nil
	m.cancel = nil
	m.mu.Unlock()

	if watcher == nil {
		return
	}
	cancel()
	_ = watcher.Close()
	<-done
	logger.Info("monitor: stopped", "root", m.scan.Root())
}

// Running reports whether the watcher loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watcher != nil
}

// addRecursive registers a watch on every directory under root,
// skipping hidden directories. fsnotify has no recursive mode.
func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

// ignoredFile filters temp files and non-media paths out of the event
// stream before they reach the debouncer.
func ignoredFile(path string) bool {
	if strings.HasSuffix(path, ".swp") || strings.HasSuffix(path, ".tmp") || strings.HasSuffix(path, "~") {
		return true
	}
	return !scanner.IsMediaFile(path)
}

// loop owns the watcher for its lifetime; Stop nils the struct field
// concurrently, so the goroutine must never read it.
func (m *Monitor) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			// New directories need their own watch before anything
			// inside them is seen.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = addRecursive(watcher, event.Name)
				}
			}
			if ignoredFile(event.Name) {
				continue
			}
			logger.Debug("monitor: event", "op", event.Op.String(), "path", event.Name)
			m.kick(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("monitor: watcher error", "error", err)
		}
	}
}

// kick arms (or re-arms) the debounce timer.
func (m *Monitor) kick(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.debounce != nil {
		m.debounce.Stop()
	}
	m.debounce = time.AfterFunc(m.interval, func() { m.rescan(ctx) })
}

// rescan runs one scan and publishes the diff. A scan already in
// flight makes this a no-op; the next event re-arms the debouncer.
func (m *Monitor) rescan(ctx context.Context) {
	m.mu.Lock()
	if m.scanning || m.watcher == nil {
		m.mu.Unlock()
		return
	}
	m.scanning = true
	old := m.last
	m.mu.Unlock()

	tree, err := m.scan.Scan(ctx)

	m.mu.Lock()
	m.scanning = false
	if err != nil {
		m.mu.Unlock()
		logger.Warn("monitor: rescan failed", "error", err)
		return
	}
	m.last = tree
	m.mu.Unlock()

	changes := DetectChanges(old, tree)
	if len(changes) == 0 {
		logger.Debug("monitor: events produced no gallery changes")
		return
	}
	logger.Info("monitor: changes detected", "folders", len(changes))
	if m.onChange != nil {
		m.onChange(changes, tree)
	}
}

// DetectChanges diffs two trees into per-folder create/update/remove
// actions. Folders present in neither map contribute nothing; an
// unchanged file contributes nothing.
func DetectChanges(old, next *scanner.Tree) ChangeSet {
	changes := make(ChangeSet)
	if old == nil {
		old = &scanner.Tree{}
	}
	if next == nil {
		next = &scanner.Tree{}
	}

	folders := make(map[string]bool)
	for name := range old.Folders {
		folders[name] = true
	}
	for name := range next.Folders {
		folders[name] = true
	}

	for folder := range folders {
		oldFiles := old.Folders[folder]
		newFiles := next.Folders[folder]
		folderChanges := make(map[string]FileChange)

		for name, details := range newFiles {
			prev, existed := oldFiles[name]
			switch {
			case !existed:
				folderChanges[name] = FileChange{Action: "create", FileDetails: details}
			case !sameDetails(prev, details):
				folderChanges[name] = FileChange{Action: "update", FileDetails: details}
			}
		}
		for name := range oldFiles {
			if _, exists := newFiles[name]; !exists {
				folderChanges[name] = FileChange{Action: "remove"}
			}
		}

		if len(folderChanges) > 0 {
			changes[folder] = folderChanges
		}
	}
	return changes
}

// sameDetails compares the cheap identity fields; metadata follows the
// file's timestamp so comparing it again would be redundant.
func sameDetails(a, b *scanner.FileDetails) bool {
	return a.Timestamp == b.Timestamp && a.URL == b.URL && a.Type == b.Type
}
