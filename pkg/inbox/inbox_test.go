package inbox_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pimsg/pkg/feed"
	"pimsg/pkg/inbox"
	"pimsg/pkg/protocol"
	"pimsg/pkg/registry"
)

// collector records delivered messages and notices.
type collector struct {
	mu       sync.Mutex
	messages []protocol.Message
	notices  []string
	fail     bool // when set, Deliver returns an error
}

func (c *collector) Deliver(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("handler refused")
	}
	c.messages = append(c.messages, msg)
	return nil
}

func (c *collector) Notify(kind, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, kind+": "+text)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// newAgent joins dir as name with a fake live pid and returns its registry
// and a started-free inbox (call Start or Flush in the test as needed).
func newAgent(t *testing.T, dir, name string, pid int, alive map[int]bool, h inbox.Handler) (*registry.Registry, *inbox.Inbox) {
	t.Helper()
	r := registry.New(registry.Config{BaseDir: dir, Cwd: "/work"}, feed.New(dir, 0))
	r.SetPID(pid)
	r.SetAliveFunc(func(p int) bool { return alive[p] })
	if _, err := r.Join(name, true); err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	return r, inbox.New(dir, r, h, feed.New(dir, 0))
}

func TestSendAndFlush(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	alive := map[int]bool{100: true, 101: true}
	c := &collector{}
	_, recvBox := newAgent(t, dir, "Recv", 100, alive, c)
	_, sendBox := newAgent(t, dir, "Send", 101, alive, &collector{})

	msg, err := sendBox.Send("Recv", "hello", "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ID == "" || msg.From != "Send" || msg.To != "Recv" {
		t.Errorf("message fields: %+v", msg)
	}

	if err := recvBox.Flush(); err != nil {
		t.Fatal(err)
	}
	if c.count() != 1 {
		t.Fatalf("delivered %d messages, want 1", c.count())
	}

	// Consumed and deleted.
	entries, err := os.ReadDir(filepath.Join(dir, protocol.InboxDir, "Recv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("inbox not emptied: %d entries", len(entries))
	}
}

func TestSendOrderPreserved(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	alive := map[int]bool{100: true, 101: true}
	c := &collector{}
	_, recvBox := newAgent(t, dir, "Recv", 100, alive, c)
	_, sendBox := newAgent(t, dir, "Send", 101, alive, &collector{})

	for _, text := range []string{"first", "second", "third"} {
		if _, err := sendBox.Send("Recv", text, ""); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond) // distinct timestamp prefixes
	}
	if err := recvBox.Flush(); err != nil {
		t.Fatal(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) != 3 {
		t.Fatalf("delivered %d, want 3", len(c.messages))
	}
	for i, want := range []string{"first", "second", "third"} {
		if c.messages[i].Text != want {
			t.Errorf("message %d = %q, want %q", i, c.messages[i].Text, want)
		}
	}
}

func TestSendToUnknownTarget(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	alive := map[int]bool{101: true}
	_, sendBox := newAgent(t, dir, "Send", 101, alive, &collector{})

	_, err := sendBox.Send("Ghost", "anyone there", "")
	var notFound *protocol.TargetNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("got %v, want TargetNotFoundError", err)
	}

	_, err = sendBox.Send("bad name", "x", "")
	var invalid *protocol.InvalidTargetError
	if !errors.As(err, &invalid) {
		t.Errorf("got %v, want InvalidTargetError", err)
	}
}

func TestSendToDeadTarget(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	alive := map[int]bool{100: true, 101: true}
	newAgent(t, dir, "Recv", 100, alive, &collector{})
	_, sendBox := newAgent(t, dir, "Send", 101, alive, &collector{})

	alive[100] = false

	_, err := sendBox.Send("Recv", "too late", "")
	var notActive *protocol.TargetNotActiveError
	if !errors.As(err, &notActive) {
		t.Errorf("got %v, want TargetNotActiveError", err)
	}
}

func TestPoisonMessageDropped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	alive := map[int]bool{100: true}
	c := &collector{}
	_, recvBox := newAgent(t, dir, "Recv", 100, alive, c)

	inboxDir := filepath.Join(dir, protocol.InboxDir, "Recv")
	if err := os.WriteFile(filepath.Join(inboxDir, "00000000000000000001-bad.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := recvBox.Flush(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(inboxDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Error("poison message not deleted")
	}
	c.mu.Lock()
	notices := len(c.notices)
	c.mu.Unlock()
	if notices != 1 {
		t.Errorf("got %d notices, want 1", notices)
	}
}

func TestDeliverFailureStillDeletes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	alive := map[int]bool{100: true, 101: true}
	c := &collector{fail: true}
	_, recvBox := newAgent(t, dir, "Recv", 100, alive, c)
	_, sendBox := newAgent(t, dir, "Send", 101, alive, &collector{})

	if _, err := sendBox.Send("Recv", "doomed", ""); err != nil {
		t.Fatal(err)
	}
	if err := recvBox.Flush(); err != nil {
		t.Fatal(err)
	}

	// One attempt, then dropped: no retry storm.
	entries, err := os.ReadDir(filepath.Join(dir, protocol.InboxDir, "Recv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Error("failed delivery left message for retry")
	}
}

func TestBroadcastReachesAllPeers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	alive := map[int]bool{100: true, 101: true, 102: true}
	cB := &collector{}
	cC := &collector{}
	_, boxB := newAgent(t, dir, "Beta", 101, alive, cB)
	_, boxC := newAgent(t, dir, "Gamma", 102, alive, cC)
	_, boxA := newAgent(t, dir, "Alpha", 100, alive, &collector{})

	reached, err := boxA.Broadcast("all hands")
	if err != nil {
		t.Fatal(err)
	}
	if len(reached) != 2 {
		t.Fatalf("broadcast reached %v, want 2 peers", reached)
	}

	if err := boxB.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := boxC.Flush(); err != nil {
		t.Fatal(err)
	}
	if cB.count() != 1 || cC.count() != 1 {
		t.Errorf("deliveries: Beta=%d Gamma=%d, want 1 each", cB.count(), cC.count())
	}
}

func TestWatcherDeliversOnArrival(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	alive := map[int]bool{100: true, 101: true}
	c := &collector{}
	_, recvBox := newAgent(t, dir, "Recv", 100, alive, c)
	_, sendBox := newAgent(t, dir, "Send", 101, alive, &collector{})

	if err := recvBox.Start(); err != nil {
		t.Fatal(err)
	}
	defer recvBox.Close()

	if _, err := sendBox.Send("Recv", "via watcher", ""); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.count() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("watcher never delivered; got %d messages", c.count())
}

func TestConcurrentFlushesDeliverOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	alive := map[int]bool{100: true, 101: true}
	c := &collector{}
	_, recvBox := newAgent(t, dir, "Recv", 100, alive, c)
	_, sendBox := newAgent(t, dir, "Send", 101, alive, &collector{})

	const n = 5
	for range n {
		if _, err := sendBox.Send("Recv", "once", ""); err != nil {
			t.Fatal(err)
		}
	}

	// Overlapping explicit flushes coalesce; every flush returns only after
	// the mailbox has been scanned, and no message is delivered twice.
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = recvBox.Flush()
		}()
	}
	wg.Wait()

	if c.count() != n {
		t.Fatalf("delivered %d messages, want exactly %d", c.count(), n)
	}
	entries, err := os.ReadDir(filepath.Join(dir, protocol.InboxDir, "Recv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("mailbox not drained: %d entries", len(entries))
	}
}

func TestRenameDrainsBeforeMigration(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	alive := map[int]bool{100: true, 101: true}
	c := &collector{}
	recvReg, recvBox := newAgent(t, dir, "Old", 100, alive, c)
	recvReg.SetDrainer(recvBox)
	_, sendBox := newAgent(t, dir, "Send", 101, alive, &collector{})

	for _, text := range []string{"one", "two", "three"} {
		if _, err := sendBox.Send("Old", text, ""); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}

	if err := recvReg.Rename("New"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	// All three messages were delivered before the rename returned.
	if c.count() != 3 {
		t.Fatalf("delivered %d messages before rename returned, want 3", c.count())
	}
	if _, err := os.Stat(filepath.Join(dir, protocol.InboxDir, "Old")); !os.IsNotExist(err) {
		t.Error("old inbox still exists")
	}

	// Mail to the new name flows.
	if _, err := sendBox.Send("New", "after rename", ""); err != nil {
		t.Fatalf("send to new name: %v", err)
	}
	if err := recvBox.Flush(); err != nil {
		t.Fatal(err)
	}
	if c.count() != 4 {
		t.Errorf("message to new name not delivered: %d", c.count())
	}
}
