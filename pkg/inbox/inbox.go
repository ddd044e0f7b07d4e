// Package inbox moves mail between agents: one directory per recipient, one
// JSON file per message. Senders write; only the owner reads and deletes.
// Delivery order from a single sender is preserved by timestamp-prefixed
// file names and lexicographic scanning.
package inbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"pimsg/pkg/feed"
	"pimsg/pkg/protocol"
	"pimsg/pkg/registry"
)

// Handler receives delivered messages and operational notices. The watcher
// and rename pathways call nothing else.
type Handler interface {
	Deliver(msg protocol.Message) error
	Notify(kind, text string)
}

// Archiver records delivered messages for local history. Optional;
// failures are swallowed.
type Archiver interface {
	ArchiveMessage(msg protocol.Message) error
}

// Inbox sends mail and processes the owner's mailbox.
type Inbox struct {
	baseDir  string
	reg      *registry.Registry
	handler  Handler
	feed     *feed.Feed
	archiver Archiver

	watch watchState
}

// New creates an Inbox for the agent owning reg. handler must not be nil.
func New(baseDir string, reg *registry.Registry, handler Handler, fd *feed.Feed) *Inbox {
	in := &Inbox{
		baseDir: baseDir,
		reg:     reg,
		handler: handler,
		feed:    fd,
	}
	in.watch.cond = sync.NewCond(&in.watch.mu)
	return in
}

// SetArchiver wires an optional local history sink.
func (in *Inbox) SetArchiver(a Archiver) {
	in.watch.mu.Lock()
	defer in.watch.mu.Unlock()
	in.archiver = a
}

// dir returns the owner's inbox directory.
func (in *Inbox) dir() string {
	return filepath.Join(in.baseDir, protocol.InboxDir, in.reg.Name())
}

func (in *Inbox) dirFor(name string) string {
	return filepath.Join(in.baseDir, protocol.InboxDir, name)
}

// Send writes one message file into the recipient's inbox. The recipient
// must be live; dead recipients are evicted and reported.
func (in *Inbox) Send(to, text, replyTo string) (*protocol.Message, error) {
	from := in.reg.Name()
	if from == "" {
		return nil, &protocol.NotRegisteredError{}
	}
	if _, err := in.reg.Lookup(to); err != nil {
		return nil, err
	}

	msg := protocol.Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Text:      text,
		Timestamp: time.Now(),
		ReplyTo:   replyTo,
	}

	dir := in.dirFor(to)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recipient inbox: %w", err)
	}

	// Timestamp prefix plus a random suffix: lexicographic order approximates
	// send order, and concurrent senders never collide.
	name := fmt.Sprintf("%020d-%s.json", msg.Timestamp.UnixNano(), msg.ID[:8])
	if err := protocol.WriteJSONAtomic(filepath.Join(dir, name), msg); err != nil {
		return nil, fmt.Errorf("write message: %w", err)
	}

	if in.feed != nil {
		_ = in.feed.Append(protocol.FeedEvent{Agent: from, Kind: protocol.EventMessage, Target: to})
	}
	return &msg, nil
}

// Broadcast sends text to every live peer (scoped to the same cwd when the
// registry is configured that way). Returns the recipients reached; a
// failed recipient is skipped, not fatal.
func (in *Inbox) Broadcast(text string) ([]string, error) {
	peers, err := in.reg.ListActiveAgents(true)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	var reached []string
	for _, peer := range peers {
		if _, err := in.Send(peer.Name, text, ""); err != nil {
			continue
		}
		reached = append(reached, peer.Name)
	}
	return reached, nil
}
