// Package registry manages agent presence: one JSON record per live agent,
// keyed by name, under <base>/registry. The owning process is the only
// writer of its record; any peer may evict a record whose PID is dead.
// Name uniqueness among live agents is enforced by write-then-verify, not by
// any daemon.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pimsg/pkg/feed"
	"pimsg/pkg/liveness"
	"pimsg/pkg/protocol"
)

// autoNameMaxProbe is the highest numeric suffix tried for auto-generated
// names: base, base2, ..., base99.
const autoNameMaxProbe = 99

// autoJoinRetries bounds verify-race retries for auto-generated names.
const autoJoinRetries = 3

// defaultDebounce coalesces activity writes so a burst of tool calls costs
// one disk write.
const defaultDebounce = 2 * time.Second

// Drainer flushes pending inbox messages. Rename drains before moving the
// mailbox so no message is lost to the old directory.
type Drainer interface {
	Drain() error
}

// Config holds the identity the registry advertises.
type Config struct {
	BaseDir    string
	Cwd        string
	Model      string
	IsHuman    bool
	ScopeToCwd bool          // scope List and broadcast peers to same cwd
	CacheTTL   time.Duration // default 1s
	Debounce   time.Duration // activity write coalescing, default 2s
}

// Registry is the per-process coordinator for presence state. All methods
// are safe for concurrent use within the owning process; cross-process
// safety comes from the write-then-verify protocol and PID liveness.
type Registry struct {
	cfg  Config
	feed *feed.Feed

	mu        sync.Mutex
	self      *protocol.Registration
	sessionID string
	drainer   Drainer
	cache     *listCache
	flushT    *time.Timer

	// test seams
	pid       int
	aliveFunc func(int) bool
	nowFunc   func() time.Time
}

// New creates a Registry. It does not join; call Join.
func New(cfg Config, fd *feed.Feed) *Registry {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Second
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = defaultDebounce
	}
	return &Registry{
		cfg:       cfg,
		feed:      fd,
		sessionID: uuid.NewString(),
		cache:     newListCache(cfg.CacheTTL),
		pid:       os.Getpid(),
		aliveFunc: liveness.Alive,
		nowFunc:   time.Now,
	}
}

// SetDrainer wires the inbox drainer used by Rename.
func (r *Registry) SetDrainer(d Drainer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drainer = d
}

// SetPID overrides the advertised PID; the CLI uses it to register on behalf
// of its parent process.
func (r *Registry) SetPID(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pid = pid
}

// SetAliveFunc overrides the liveness probe.
//
//pimsg:testonly
func (r *Registry) SetAliveFunc(f func(int) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliveFunc = f
}

// SessionID returns this process's opaque session identity.
func (r *Registry) SessionID() string { return r.sessionID }

// Name returns the current agent name, or "" before Join.
func (r *Registry) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.self == nil {
		return ""
	}
	return r.self.Name
}

// Self returns a copy of the current registration, or nil before Join.
func (r *Registry) Self() *protocol.Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.self == nil {
		return nil
	}
	cp := *r.self
	cp.Reservations = append([]protocol.Reservation(nil), r.self.Reservations...)
	return &cp
}

func (r *Registry) registryDir() string {
	return filepath.Join(r.cfg.BaseDir, protocol.RegistryDir)
}

func (r *Registry) recordPath(name string) string {
	return filepath.Join(r.registryDir(), name+".json")
}

func (r *Registry) inboxDir(name string) string {
	return filepath.Join(r.cfg.BaseDir, protocol.InboxDir, name)
}

// Join registers this process. With explicit=true, name must be free or held
// by a dead PID; a live collision returns *NameTakenError and a lost verify
// race returns *RaceLostError. With explicit=false, name is a base that is
// probed as base, base2, ... base99, and verify races are retried.
func (r *Registry) Join(name string, explicit bool) (string, error) {
	if err := protocol.ValidateName(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(r.registryDir(), 0o755); err != nil {
		return "", fmt.Errorf("create registry dir: %w", err)
	}

	if explicit {
		if err := r.tryClaimName(name); err != nil {
			return "", err
		}
		return name, r.finishJoin(name)
	}

	for attempt := 0; attempt < autoJoinRetries; attempt++ {
		chosen, err := r.probeAndClaim(name)
		if err == nil {
			return chosen, r.finishJoin(chosen)
		}
		var raceErr *protocol.RaceLostError
		if !errors.As(err, &raceErr) {
			return "", err
		}
		// Another process won the verify race; probe again from the base.
	}
	return "", &protocol.RaceLostError{Name: name}
}

// probeAndClaim walks the candidate names and claims the first available one.
func (r *Registry) probeAndClaim(base string) (string, error) {
	for i := 1; i <= autoNameMaxProbe; i++ {
		candidate := base
		if i > 1 {
			candidate = fmt.Sprintf("%s%d", base, i)
		}
		if r.nameHeldByLive(candidate) {
			continue
		}
		if err := r.tryClaimName(candidate); err != nil {
			var takenErr *protocol.NameTakenError
			if errors.As(err, &takenErr) {
				continue // raced with a live claimer; keep probing
			}
			return "", err
		}
		return candidate, nil
	}
	return "", fmt.Errorf("no free name for base %q after %d probes", base, autoNameMaxProbe)
}

// nameHeldByLive reports whether a parseable record with a live PID exists.
func (r *Registry) nameHeldByLive(name string) bool {
	var existing protocol.Registration
	if err := protocol.ReadJSON(r.recordPath(name), &existing); err != nil {
		return false // missing or malformed: treat as available
	}
	return r.alive(existing.PID)
}

// tryClaimName writes a registration for name and verifies ownership by
// reading it back. A dead holder is overwritten; a live holder fails.
func (r *Registry) tryClaimName(name string) error {
	path := r.recordPath(name)

	var existing protocol.Registration
	if err := protocol.ReadJSON(path, &existing); err == nil {
		if r.alive(existing.PID) {
			return &protocol.NameTakenError{Name: name, PID: existing.PID}
		}
		// Dead holder: overwrite below.
	}

	reg := r.newRegistration(name)
	if err := protocol.WriteJSONAtomic(path, reg); err != nil {
		return fmt.Errorf("write registration: %w", err)
	}

	// Read back and confirm the PID: if another process wrote between our
	// write and this read, it owns the name now.
	var verify protocol.Registration
	if err := protocol.ReadJSON(path, &verify); err != nil {
		// Read-back failed at the I/O level. Remove the file only if it still
		// holds our PID, so we never orphan a record nor clobber a winner.
		r.removeIfOurs(path)
		return fmt.Errorf("verify registration: %w", err)
	}
	if verify.PID != r.currentPID() || verify.SessionID != r.sessionID {
		return &protocol.RaceLostError{Name: name}
	}
	return nil
}

// removeIfOurs deletes path if it parses and carries our PID.
func (r *Registry) removeIfOurs(path string) {
	var reg protocol.Registration
	if err := protocol.ReadJSON(path, &reg); err != nil {
		return
	}
	if reg.PID == r.currentPID() && reg.SessionID == r.sessionID {
		_ = os.Remove(path)
	}
}

// newRegistration builds the record this process advertises.
func (r *Registry) newRegistration(name string) protocol.Registration {
	now := r.now()
	return protocol.Registration{
		Name:      name,
		PID:       r.currentPID(),
		SessionID: r.sessionID,
		Cwd:       r.cfg.Cwd,
		Model:     r.cfg.Model,
		StartedAt: now,
		GitBranch: gitBranch(r.cfg.Cwd),
		IsHuman:   r.cfg.IsHuman,
		Activity:  now,
	}
}

// finishJoin installs self state, creates the inbox directory, invalidates
// the cache, and logs the join event.
func (r *Registry) finishJoin(name string) error {
	if err := os.MkdirAll(r.inboxDir(name), 0o755); err != nil {
		return fmt.Errorf("create inbox dir: %w", err)
	}

	var reg protocol.Registration
	if err := protocol.ReadJSON(r.recordPath(name), &reg); err != nil {
		return fmt.Errorf("reload registration: %w", err)
	}

	r.mu.Lock()
	r.self = &reg
	r.cache.invalidate()
	r.mu.Unlock()

	if r.feed != nil {
		_ = r.feed.Append(protocol.FeedEvent{Agent: name, Kind: protocol.EventJoin})
	}
	return nil
}

// Adopt resumes an existing registration: a short-lived tool invocation
// acting on behalf of the registered agent process loads the record and
// takes on its identity (including the recorded session id). The record's
// PID must match this coordinator's PID and be alive.
func (r *Registry) Adopt(name string) error {
	if err := protocol.ValidateName(name); err != nil {
		return err
	}
	var reg protocol.Registration
	path := r.recordPath(name)
	if err := protocol.ReadJSON(path, &reg); err != nil {
		if os.IsNotExist(err) {
			return &protocol.NotRegisteredError{}
		}
		return &protocol.InvalidRegistrationError{Path: path, Err: err}
	}
	if !r.alive(reg.PID) {
		return &protocol.TargetNotActiveError{Target: name, PID: reg.PID}
	}
	if reg.PID != r.currentPID() {
		return &protocol.NameTakenError{Name: name, PID: reg.PID}
	}

	r.mu.Lock()
	r.self = &reg
	r.sessionID = reg.SessionID
	r.cache.invalidate()
	r.mu.Unlock()
	return nil
}

// Leave removes this agent's registration. The inbox directory is removed
// only when empty: pending messages stay on disk, and an agent that later
// joins under the same name receives them.
func (r *Registry) Leave() error {
	r.mu.Lock()
	if r.self == nil {
		r.mu.Unlock()
		return &protocol.NotRegisteredError{}
	}
	name := r.self.Name
	r.self = nil
	r.stopFlushLocked()
	r.cache.invalidate()
	r.mu.Unlock()

	if err := os.Remove(r.recordPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove registration: %w", err)
	}
	// Best-effort: a drained inbox directory disappears with us.
	_ = os.Remove(r.inboxDir(name))

	if r.feed != nil {
		_ = r.feed.Append(protocol.FeedEvent{Agent: name, Kind: protocol.EventLeave})
	}
	return nil
}

// Rename moves this agent to newName: drain inbox, write new record, verify,
// delete old record, migrate the inbox directory, swap in-memory state.
func (r *Registry) Rename(newName string) error {
	if err := protocol.ValidateName(newName); err != nil {
		return err
	}

	r.mu.Lock()
	if r.self == nil {
		r.mu.Unlock()
		return &protocol.NotRegisteredError{}
	}
	oldName := r.self.Name
	current := *r.self
	drainer := r.drainer
	r.mu.Unlock()

	if newName == oldName {
		return &protocol.SameNameError{Name: newName}
	}
	if r.nameHeldByLive(newName) {
		var holder protocol.Registration
		_ = protocol.ReadJSON(r.recordPath(newName), &holder)
		return &protocol.NameTakenError{Name: newName, PID: holder.PID}
	}

	// Drain before the mailbox moves so per-sender order survives the rename.
	if drainer != nil {
		if err := drainer.Drain(); err != nil {
			return fmt.Errorf("drain inbox before rename: %w", err)
		}
	}

	moved := current
	moved.Name = newName
	newPath := r.recordPath(newName)
	if err := protocol.WriteJSONAtomic(newPath, moved); err != nil {
		return fmt.Errorf("write renamed registration: %w", err)
	}

	var verify protocol.Registration
	if err := protocol.ReadJSON(newPath, &verify); err != nil {
		r.removeIfOurs(newPath)
		return fmt.Errorf("verify renamed registration: %w", err)
	}
	if verify.PID != r.currentPID() || verify.SessionID != r.sessionID {
		return &protocol.RaceLostError{Name: newName}
	}

	if err := os.Remove(r.recordPath(oldName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove old registration: %w", err)
	}

	// Migrate the inbox: create the new directory, drop the old empty one.
	if err := os.MkdirAll(r.inboxDir(newName), 0o755); err != nil {
		return fmt.Errorf("create renamed inbox dir: %w", err)
	}
	_ = os.Remove(r.inboxDir(oldName))

	r.mu.Lock()
	r.self = &moved
	r.cache.invalidate()
	r.mu.Unlock()

	if r.feed != nil {
		_ = r.feed.Append(protocol.FeedEvent{Agent: oldName, Kind: protocol.EventRename, Target: newName})
	}
	return nil
}

// ListActiveAgents returns live peers, evicting dead records as it goes.
// Results are cached for the configured TTL; any mutation invalidates the
// cache wholesale.
func (r *Registry) ListActiveAgents(excludeSelf bool) ([]protocol.Registration, error) {
	r.mu.Lock()
	selfName := ""
	if r.self != nil {
		selfName = r.self.Name
	}
	key := cacheKey{self: selfName, excludeSelf: excludeSelf, scoped: r.cfg.ScopeToCwd, cwd: r.cfg.Cwd}
	if cached, ok := r.cache.get(key, r.now()); ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	agents, err := r.scanRegistry(selfName, excludeSelf)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache.put(key, agents, r.now())
	r.mu.Unlock()
	return agents, nil
}

// scanRegistry reads every record, skips malformed ones, and evicts the dead.
func (r *Registry) scanRegistry(selfName string, excludeSelf bool) ([]protocol.Registration, error) {
	entries, err := os.ReadDir(r.registryDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read registry dir: %w", err)
	}

	var agents []protocol.Registration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(r.registryDir(), entry.Name())
		var reg protocol.Registration
		if err := protocol.ReadJSON(path, &reg); err != nil {
			continue // poison registration: skip, never fail the list
		}
		if !r.alive(reg.PID) {
			r.evict(path, reg)
			continue
		}
		if excludeSelf && reg.Name == selfName {
			continue
		}
		if r.cfg.ScopeToCwd && reg.Cwd != r.cfg.Cwd {
			continue
		}
		agents = append(agents, reg)
	}

	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents, nil
}

// evict removes a dead record and logs the leave on its behalf.
func (r *Registry) evict(path string, reg protocol.Registration) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return
	}
	r.mu.Lock()
	r.cache.invalidate()
	r.mu.Unlock()
	if r.feed != nil {
		_ = r.feed.Append(protocol.FeedEvent{Agent: reg.Name, Kind: protocol.EventLeave, Text: "process died"})
	}
}

// Lookup returns the live registration for name. Dead records are evicted
// and reported as *TargetNotActiveError.
func (r *Registry) Lookup(name string) (*protocol.Registration, error) {
	if err := protocol.ValidateName(name); err != nil {
		return nil, &protocol.InvalidTargetError{Target: name}
	}
	path := r.recordPath(name)
	var reg protocol.Registration
	if err := protocol.ReadJSON(path, &reg); err != nil {
		if os.IsNotExist(err) {
			return nil, &protocol.TargetNotFoundError{Target: name}
		}
		return nil, &protocol.InvalidRegistrationError{Path: path, Err: err}
	}
	if !r.alive(reg.PID) {
		r.evict(path, reg)
		return nil, &protocol.TargetNotActiveError{Target: name, PID: reg.PID}
	}
	return &reg, nil
}

// IsStuck reports whether reg looks wedged: no activity for at least
// threshold while advertising open work (a claim spec or a reservation).
// Heuristic only; callers decide whether to notify.
func (r *Registry) IsStuck(reg protocol.Registration, threshold time.Duration) bool {
	if threshold <= 0 {
		return false
	}
	if reg.Spec == "" && len(reg.Reservations) == 0 {
		return false
	}
	return r.now().Sub(reg.Activity) >= threshold
}

func (r *Registry) alive(pid int) bool {
	r.mu.Lock()
	f := r.aliveFunc
	r.mu.Unlock()
	return f(pid)
}

func (r *Registry) currentPID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pid
}

func (r *Registry) now() time.Time {
	return r.nowFunc()
}
