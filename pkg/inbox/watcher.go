package inbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pimsg/pkg/protocol"
)

// debounceInterval coalesces a burst of file-system events into one
// processing pass.
const debounceInterval = 50 * time.Millisecond

// Watcher open retries back off exponentially from retryBase up to retryCap,
// at most maxWatcherRetries times. Between retries, explicit Flush calls at
// turn boundaries keep mail moving.
const (
	retryBase         = 1 * time.Second
	retryCap          = 30 * time.Second
	maxWatcherRetries = 10
)

// watchState carries the watcher plumbing. Processing is serialized by one
// coalescing flag: watcher events, periodic polls, and explicit flushes all
// funnel through process(), and whatever arrives while a pass is running
// collapses into a single pending re-run. cond wakes blocked flushes when
// the flag clears.
type watchState struct {
	mu         sync.Mutex
	cond       *sync.Cond // signals processing -> false; tied to mu
	processing bool
	pending    bool
	watcher    *fsnotify.Watcher
	debounceT  *time.Timer
	retryT     *time.Timer
	retries    int
	closed     bool
}

// Start opens the file-system watcher over the owner's inbox and begins
// delivering. An immediate pass picks up mail that arrived before Start.
// Watcher open failures schedule retries; Start itself only fails when the
// agent is not registered.
func (in *Inbox) Start() error {
	if in.reg.Name() == "" {
		return fmt.Errorf("inbox start: not registered")
	}
	in.openWatcher()
	go in.process()
	return nil
}

// Close stops the watcher and all timers. Pending mail stays on disk.
func (in *Inbox) Close() {
	in.watch.mu.Lock()
	in.watch.closed = true
	if in.watch.debounceT != nil {
		in.watch.debounceT.Stop()
	}
	if in.watch.retryT != nil {
		in.watch.retryT.Stop()
	}
	w := in.watch.watcher
	in.watch.watcher = nil
	in.watch.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
}

// openWatcher tries to observe the inbox directory. The watcher is a hint,
// never a source of truth: every event triggers a full directory scan.
func (in *Inbox) openWatcher() {
	if err := os.MkdirAll(in.dir(), 0o755); err != nil {
		in.scheduleRetry()
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		in.scheduleRetry()
		return
	}
	if err := watcher.Add(in.dir()); err != nil {
		_ = watcher.Close()
		in.scheduleRetry()
		return
	}

	in.watch.mu.Lock()
	if in.watch.closed {
		in.watch.mu.Unlock()
		_ = watcher.Close()
		return
	}
	in.watch.watcher = watcher
	in.watch.retries = 0
	in.watch.mu.Unlock()

	go in.watchLoop(watcher)
}

// watchLoop reacts to events with a debounced processing pass. When the
// event channel dies the watcher is reopened through the retry path.
func (in *Inbox) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case _, ok := <-watcher.Events:
			if !ok {
				in.scheduleRetry()
				return
			}
			in.scheduleProcess()
		case _, ok := <-watcher.Errors:
			if !ok {
				in.scheduleRetry()
				return
			}
			// Errors are hints too; rescan rather than trust them.
			in.scheduleProcess()
		}
	}
}

// scheduleProcess arms (or re-arms) the debounce timer.
func (in *Inbox) scheduleProcess() {
	in.watch.mu.Lock()
	defer in.watch.mu.Unlock()
	if in.watch.closed {
		return
	}
	if in.watch.debounceT != nil {
		in.watch.debounceT.Stop()
	}
	in.watch.debounceT = time.AfterFunc(debounceInterval, func() { in.process() })
}

// scheduleRetry arms the watcher-reopen backoff timer.
func (in *Inbox) scheduleRetry() {
	in.watch.mu.Lock()
	defer in.watch.mu.Unlock()
	if in.watch.closed || in.watch.retries >= maxWatcherRetries {
		return
	}
	delay := retryBase << in.watch.retries
	if delay > retryCap {
		delay = retryCap
	}
	in.watch.retries++
	in.watch.retryT = time.AfterFunc(delay, func() { in.openWatcher() })
}

// process is the coalescing entry point shared by watcher events, polls,
// and explicit flushes. Concurrent calls fold into a single pending re-run;
// the caller that loses the flag returns immediately and the winner's
// re-run covers it.
func (in *Inbox) process() {
	in.watch.mu.Lock()
	if in.watch.processing {
		in.watch.pending = true
		in.watch.mu.Unlock()
		return
	}
	in.watch.processing = true
	in.watch.mu.Unlock()

	for {
		in.pass()
		in.watch.mu.Lock()
		if !in.watch.pending {
			in.watch.processing = false
			in.watch.cond.Broadcast()
			in.watch.mu.Unlock()
			return
		}
		in.watch.pending = false
		in.watch.mu.Unlock()
	}
}

// Flush delivers everything currently queued and returns only once the
// mailbox has been scanned past the call point. It coalesces like every
// other trigger: when a pass is already running, the request folds into
// that pass's pending re-run and Flush waits for it to finish.
func (in *Inbox) Flush() error {
	in.process()
	in.watch.mu.Lock()
	for in.watch.processing {
		in.watch.cond.Wait()
	}
	in.watch.mu.Unlock()
	return nil
}

// Drain implements registry.Drainer: deliver everything currently queued.
func (in *Inbox) Drain() error {
	return in.Flush()
}

// pass scans the mailbox once in sorted order and delivers each message.
// Only the process() loop calls this, one pass at a time. Deletion is
// unconditional after the first delivery attempt: a failed read, parse, or
// Deliver drops the message rather than retrying forever.
func (in *Inbox) pass() {
	entries, err := os.ReadDir(in.dir())
	if err != nil {
		return
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(in.dir(), name)
		in.deliverOne(path)
		_ = os.Remove(path)
	}
}

// deliverOne reads, parses, and hands one message to the handler. Failures
// notify and fall through; the caller deletes regardless.
func (in *Inbox) deliverOne(path string) {
	data, err := os.ReadFile(path) //nolint:gosec // path is inside the owner's inbox
	if err != nil {
		in.handler.Notify("error", fmt.Sprintf("read message %s: %v", filepath.Base(path), err))
		return
	}
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		in.handler.Notify("error", fmt.Sprintf("drop malformed message %s: %v", filepath.Base(path), err))
		return
	}
	if err := in.handler.Deliver(msg); err != nil {
		in.handler.Notify("error", fmt.Sprintf("deliver message from %s: %v", msg.From, err))
		return
	}
	in.watch.mu.Lock()
	archiver := in.archiver
	in.watch.mu.Unlock()
	if archiver != nil {
		_ = archiver.ArchiveMessage(msg)
	}
}
