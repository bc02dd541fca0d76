package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/anima/engine/core"
)

var ErrWatcherClosed = errors.New("library watcher already closed")

type LibraryInfo struct {
	Path       string
	LastLoaded time.Time
	Container  *LibraryContainer
}

// LibraryWatcher indexes the shader libraries of a directory tree and
// reloads them when they change on disk.
type LibraryWatcher struct {
	libraries map[string]LibraryInfo
	onChange  func(LibraryInfo)

	mutex sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
}

// NewLibraryWatcher scans dir once. When watch is set it keeps following
// the tree and calls onChange (may be nil) after every reload.
func NewLibraryWatcher(dir string, watch bool, onChange func(LibraryInfo)) (*LibraryWatcher, error) {
	lw := &LibraryWatcher{
		libraries: make(map[string]LibraryInfo),
		onChange:  onChange,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	if watch {
		fsWatch, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		lw.fsnotify = fsWatch
		go lw.start()
	} else {
		close(lw.stopped)
	}
	if err := lw.watchRecursive(dir); err != nil {
		lw.Close()
		return nil, err
	}
	return lw, nil
}

// Library returns the container whose file name (without extension) or
// container name matches name.
func (lw *LibraryWatcher) Library(name string) (*LibraryContainer, bool) {
	lw.mutex.RLock()
	defer lw.mutex.RUnlock()

	for path, info := range lw.libraries {
		base := filepath.Base(path)
		if info.Container.Name == name || base[:len(base)-len(filepath.Ext(base))] == name {
			return info.Container, true
		}
	}
	return nil, false
}

// Libraries lists the loaded containers sorted by path.
func (lw *LibraryWatcher) Libraries() []LibraryInfo {
	lw.mutex.RLock()
	defer lw.mutex.RUnlock()

	out := make([]LibraryInfo, 0, len(lw.libraries))
	for _, info := range lw.libraries {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (lw *LibraryWatcher) Close() error {
	lw.mutex.Lock()
	if lw.isClosed {
		lw.mutex.Unlock()
		return nil
	}
	lw.isClosed = true
	lw.mutex.Unlock()

	close(lw.done)
	<-lw.stopped
	return nil
}

func (lw *LibraryWatcher) start() {
	defer close(lw.stopped)
	for {
		select {
		case e, ok := <-lw.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := lw.watchRecursive(e.Name); err != nil {
						core.LogWarn("failed to watch %s: %s", e.Name, err)
					}
				}
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				lw.handleFileEvent(e.Name)
			}
			// Can't stat a deleted entry, so try both the index and the watch list.
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				lw.removeLibrary(e.Name)
				_ = lw.fsnotify.Remove(e.Name)
			}

		case err, ok := <-lw.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("library watcher: %s", err)

		case <-lw.done:
			lw.fsnotify.Close()
			return
		}
	}
}

// watchRecursive loads every library under path and, when watching, adds
// each directory to the watch list.
func (lw *LibraryWatcher) watchRecursive(path string) error {
	lw.mutex.RLock()
	closed := lw.isClosed
	lw.mutex.RUnlock()
	if closed {
		return ErrWatcherClosed
	}
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if lw.fsnotify == nil {
				return nil
			}
			return lw.fsnotify.Add(walkPath)
		}
		lw.handleFileEvent(walkPath)
		return nil
	})
}

func (lw *LibraryWatcher) handleFileEvent(path string) {
	loader, ok := loaderFor(path)
	if !ok {
		return
	}
	c, err := loader.Load(path)
	if err != nil {
		core.LogWarn("skipping library %s: %s", path, err)
		return
	}
	info := LibraryInfo{Path: path, LastLoaded: time.Now(), Container: c}

	lw.mutex.Lock()
	lw.libraries[path] = info
	lw.mutex.Unlock()

	core.LogDebug("loaded library %s (%d functions)", path, len(c.Functions))
	if lw.onChange != nil {
		lw.onChange(info)
	}
}

func (lw *LibraryWatcher) removeLibrary(path string) {
	lw.mutex.Lock()
	defer lw.mutex.Unlock()
	if _, ok := lw.libraries[path]; ok {
		core.LogDebug("library %s removed", path)
	}
	delete(lw.libraries, path)
}

func (lw *LibraryWatcher) String() string {
	return fmt.Sprintf("LibraryWatcher(%d libraries)", len(lw.Libraries()))
}
