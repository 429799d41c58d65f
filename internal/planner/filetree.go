package planner

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileTreeCache caches a flat listing of a project folder's files so
// repeated Inspect calls don't re-walk the tree on every invocation.
// An fsnotify watcher invalidates the cache when the tree changes,
// debounced so a burst of writes from one apply doesn't trigger a
// re-walk per file.
type FileTreeCache struct {
	mu          sync.RWMutex
	root        string
	files       []string
	valid       bool
	watcher     *fsnotify.Watcher
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewFileTreeCache creates a cache rooted at root. Call Start to begin
// watching for changes; the cache works without it, just without
// automatic invalidation.
func NewFileTreeCache(root string) *FileTreeCache {
	return &FileTreeCache{
		root:        root,
		debounceDur: 250 * time.Millisecond,
	}
}

// Start begins watching root for filesystem changes in a background
// goroutine. Safe to call at most once per FileTreeCache.
func (c *FileTreeCache) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(c.root); err != nil {
		watcher.Close()
		return err
	}

	c.mu.Lock()
	c.watcher = watcher
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	go c.run()
	return nil
}

// Stop shuts the watcher down. Safe to call even if Start was never
// called.
func (c *FileTreeCache) Stop() {
	c.mu.Lock()
	watcher := c.watcher
	stopCh := c.stopCh
	doneCh := c.doneCh
	c.watcher = nil
	c.mu.Unlock()

	if watcher == nil {
		return
	}
	close(stopCh)
	<-doneCh
	watcher.Close()
}

func (c *FileTreeCache) run() {
	defer close(c.doneCh)

	pending := false
	debounce := time.NewTicker(c.debounceDur)
	defer debounce.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case _, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			pending = true
		case _, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
		case <-debounce.C:
			if pending {
				c.invalidate()
				pending = false
			}
		}
	}
}

func (c *FileTreeCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
	c.files = nil
}

// Files returns a sorted, root-relative listing of every regular file
// under root, walking the tree only if the cache is cold.
func (c *FileTreeCache) Files() ([]string, error) {
	c.mu.RLock()
	if c.valid {
		files := append([]string(nil), c.files...)
		c.mu.RUnlock()
		return files, nil
	}
	c.mu.RUnlock()

	var files []string
	err := filepath.Walk(c.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" || info.Name() == ".forge" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(c.root, path)
		if relErr != nil {
			return relErr
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	c.mu.Lock()
	c.files = files
	c.valid = true
	c.mu.Unlock()

	return files, nil
}
