package resolver

import (
	"github.com/fsnotify/fsnotify"
)

// DocumentWatcher watches on-disk packages (document mode: package
// directories that have not yet been checked into the object store) and
// reports each change to a callback. It holds no Resolver and invalidates
// nothing itself; a callback that wants a subsequent Resolve to re-read the
// edited package calls Resolver.Invalidate.
type DocumentWatcher struct {
	watcher *fsnotify.Watcher
	onEvent func(path string)
	done    chan struct{}
}

// NewDocumentWatcher starts watching and calls onEvent with the path, as
// fsnotify reports it, of every file or directory that receives a write,
// create, remove, or rename event, until Stop is called.
func NewDocumentWatcher(onEvent func(path string)) (*DocumentWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dw := &DocumentWatcher{watcher: w, onEvent: onEvent, done: make(chan struct{})}
	go dw.run()
	return dw, nil
}

// Watch adds path to the watch set. Safe to call after the watcher has
// started; adding the same path twice is a no-op.
func (dw *DocumentWatcher) Watch(path string) error {
	return dw.watcher.Add(path)
}

func (dw *DocumentWatcher) run() {
	defer close(dw.done)
	for {
		select {
		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				dw.onEvent(event.Name)
			}
		case _, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Stop closes the underlying watcher and waits for its event loop to exit.
func (dw *DocumentWatcher) Stop() {
	dw.watcher.Close()
	<-dw.done
}

// Invalidate drops the resolver's memoized resolution for canon, the path
// a DocumentWatcher callback should pass in after mapping a changed file
// back to the package directory containing it.
func (r *Resolver) Invalidate(canon string) {
	r.mu.Lock()
	delete(r.resolved, canon)
	r.mu.Unlock()
}
