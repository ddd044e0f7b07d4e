// Package feed maintains the shared append-only activity feed. The feed is
// advisory: concurrent appends may interleave and a lost write is acceptable,
// but every line that lands is one complete JSON event.
package feed

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pimsg/pkg/protocol"
)

// DefaultRetention is the number of events kept by the startup prune.
const DefaultRetention = 50

// Feed appends to and reads the shared feed.jsonl. Each append opens and
// closes the file so no descriptor outlives the call.
type Feed struct {
	path      string
	retention int

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New creates a Feed over baseDir/feed.jsonl. retention <= 0 selects
// DefaultRetention.
func New(baseDir string, retention int) *Feed {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Feed{
		path:      filepath.Join(baseDir, protocol.FeedFile),
		retention: retention,
		nowFunc:   time.Now,
	}
}

// SetNowFunc overrides the clock (for testing).
func (f *Feed) SetNowFunc(now func() time.Time) { f.nowFunc = now }

// Append writes one event line. A zero TS is stamped with the current time.
func (f *Feed) Append(ev protocol.FeedEvent) error {
	if ev.TS.IsZero() {
		ev.TS = f.nowFunc()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}
	data = append(data, '\n')

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // shared feed is world-readable by design
	if err != nil {
		return fmt.Errorf("open feed: %w", err)
	}
	_, writeErr := file.Write(data)
	closeErr := file.Close()
	if writeErr != nil {
		return fmt.Errorf("append feed event: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close feed: %w", closeErr)
	}
	return nil
}

// Prune rewrites the feed keeping only the newest retention events. Run once
// at process startup; malformed lines are dropped in the same pass. A missing
// feed is not an error.
func (f *Feed) Prune() error {
	events, err := f.readAll()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(events) > f.retention {
		events = events[len(events)-f.retention:]
	}

	var buf []byte
	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".feed.tmp-*")
	if err != nil {
		return fmt.Errorf("create feed temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write feed temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close feed temp: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace feed: %w", err)
	}
	return nil
}

// Recent returns the newest n events, oldest first. n <= 0 returns all.
// A missing feed yields an empty slice.
func (f *Feed) Recent(n int) ([]protocol.FeedEvent, error) {
	events, err := f.readAll()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

// readAll parses every well-formed line in file order. Malformed lines
// (interleaved concurrent appends, truncation) are skipped, not fatal.
func (f *Feed) readAll() ([]protocol.FeedEvent, error) {
	file, err := os.Open(f.path) //nolint:gosec // path is constructed from the base dir
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var events []protocol.FeedEvent
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev protocol.FeedEvent
		if json.Unmarshal(scanner.Bytes(), &ev) != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	return events, nil
}
