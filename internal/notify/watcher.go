package notify

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventWatcher tails the spool directory and dispatches each event file to
// the handlers subscribed to its type. The orchestrator subscribes to
// approval events; front ends subscribe to draft and escalation events.
// Event files are consumed (removed) on dispatch, so exactly one watching
// process handles each event.
type EventWatcher struct {
	dir     string
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu       sync.RWMutex
	handlers map[string][]func(Event)
}

// NewEventWatcher creates a watcher for the spool directory. Register
// handlers with Subscribe before calling Start.
func NewEventWatcher(spoolPath string) *EventWatcher {
	return &EventWatcher{
		dir:      spoolPath,
		done:     make(chan struct{}),
		handlers: map[string][]func(Event){},
	}
}

// Subscribe registers a handler for one event type. An empty eventType
// subscribes to every event.
func (ew *EventWatcher) Subscribe(eventType string, fn func(Event)) {
	ew.mu.Lock()
	ew.handlers[eventType] = append(ew.handlers[eventType], fn)
	ew.mu.Unlock()
}

// Start drains event files already in the spool, then watches for new ones.
// Call Stop to clean up.
func (ew *EventWatcher) Start() error {
	if err := os.MkdirAll(ew.dir, 0o700); err != nil {
		return err
	}

	entries, err := os.ReadDir(ew.dir)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".event") {
				ew.consume(filepath.Join(ew.dir, entry.Name()))
			}
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(ew.dir); err != nil {
		_ = w.Close()
		return err
	}
	ew.watcher = w

	go ew.loop()
	log.Printf("notify: watching %s", ew.dir)
	return nil
}

// Stop shuts down the watcher and waits for the dispatch loop to exit.
func (ew *EventWatcher) Stop() {
	if ew.watcher == nil {
		return
	}
	_ = ew.watcher.Close()
	<-ew.done
}

func (ew *EventWatcher) loop() {
	defer close(ew.done)
	for {
		select {
		case evt, ok := <-ew.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&fsnotify.Create != 0 && strings.HasSuffix(evt.Name, ".event") {
				ew.consume(evt.Name)
			}
		case err, ok := <-ew.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("notify: watcher error: %v", err)
		}
	}
}

// consume reads, removes, and dispatches one event file. A read failure
// means another watcher claimed the file first.
func (ew *EventWatcher) consume(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	_ = os.Remove(path)

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		log.Printf("notify: invalid event file %s: %v", filepath.Base(path), err)
		return
	}
	if event.EntityID == "" {
		return
	}

	ew.mu.RLock()
	fns := append([]func(Event){}, ew.handlers[event.Type]...)
	fns = append(fns, ew.handlers[""]...)
	ew.mu.RUnlock()

	for _, fn := range fns {
		fn(event)
	}
}
