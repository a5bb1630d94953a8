// Package hwmon reports capture devices reappearing after another process
// released them, by watching the device directory for create events.
package hwmon

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Notifier watches device paths (e.g. /dev/video0) and invokes callbacks
// when the node is created. Callbacks run on the watcher goroutine; keep
// them short and re-dispatch heavy work.
type Notifier struct {
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	nextID  int
	subs    map[int]subscription
	watched map[string]int // dir → subscriber refcount

	done      chan struct{}
	closeOnce sync.Once
}

type subscription struct {
	device string
	fn     func(device string)
}

// New creates a Notifier and starts its watch loop.
func New() (*Notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	n := &Notifier{
		watcher: w,
		subs:    map[int]subscription{},
		watched: map[string]int{},
		done:    make(chan struct{}),
	}
	go n.run()
	return n, nil
}

// Close stops the watch loop. Outstanding cancel funcs become no-ops.
func (n *Notifier) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.done)
		err = n.watcher.Close()
	})
	return err
}

// Subscribe registers fn for creation of the exact device path. If the
// device already exists the callback fires immediately: the device may
// have come back between the caller noticing the loss and subscribing.
func (n *Notifier) Subscribe(device string, fn func(device string)) (func(), error) {
	dir := filepath.Dir(device)

	n.mu.Lock()
	if n.watched[dir] == 0 {
		if err := n.watcher.Add(dir); err != nil {
			n.mu.Unlock()
			return nil, err
		}
	}
	n.watched[dir]++
	id := n.nextID
	n.nextID++
	n.subs[id] = subscription{device: device, fn: fn}
	n.mu.Unlock()

	if _, err := os.Stat(device); err == nil {
		go fn(device)
	}

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.subs[id]; !ok {
			return
		}
		delete(n.subs, id)
		n.watched[dir]--
		if n.watched[dir] == 0 {
			delete(n.watched, dir)
			if err := n.watcher.Remove(dir); err != nil {
				log.Printf("HWMON: unwatch %s: %v", dir, err)
			}
		}
	}
	return cancel, nil
}

func (n *Notifier) run() {
	for {
		select {
		case <-n.done:
			return
		case ev, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			n.mu.Lock()
			var fns []func(string)
			for _, s := range n.subs {
				if s.device == ev.Name {
					fns = append(fns, s.fn)
				}
			}
			n.mu.Unlock()
			for _, fn := range fns {
				fn(ev.Name)
			}
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("HWMON: watch error: %v", err)
		}
	}
}

// Nop is a notifier that never reports anything, for platforms without a
// watchable device tree.
type Nop struct{}

func (Nop) Subscribe(string, func(string)) (func(), error) {
	return func() {}, nil
}
