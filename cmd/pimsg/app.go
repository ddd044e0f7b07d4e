package main

import (
	"fmt"
	"os"

	"pimsg/pkg/config"
	"pimsg/pkg/feed"
	"pimsg/pkg/history"
	"pimsg/pkg/inbox"
	"pimsg/pkg/protocol"
	"pimsg/pkg/registry"
	"pimsg/pkg/reservation"
	"pimsg/pkg/swarm"
)

// App wires one coordinator per invocation: every component shares the same
// base directory and nothing is process-global, so tests (and embedders)
// can run independent meshes against temp directories.
type App struct {
	Paths *Paths
	Cfg   config.Config
	Feed  *feed.Feed
	Reg   *registry.Registry
	Inbox *inbox.Inbox
	Swarm *swarm.Store
	Check *reservation.Checker

	handler *printHandler

	// pendingName is the identity from --as / PI_AGENT_NAME, adopted on
	// first use by requireIdentity.
	pendingName string
}

// appOpts carries the global flag values.
type appOpts struct {
	as    string // agent name to act as (PI_AGENT_NAME fallback)
	pid   int    // pid to register/act on behalf of; 0 = parent process
	human bool
	model string
}

// newApp assembles the coordinator. The identity named by --as is adopted
// lazily by the operations that need it.
func newApp(opts appOpts) (*App, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.BaseDir, paths.Cwd)
	if err != nil {
		return nil, err
	}

	fd := feed.New(paths.BaseDir, cfg.FeedRetention)
	if err := fd.Prune(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: prune feed: %v\n", err)
	}

	reg := registry.New(registry.Config{
		BaseDir:    paths.BaseDir,
		Cwd:        paths.Cwd,
		Model:      opts.model,
		IsHuman:    opts.human,
		ScopeToCwd: cfg.ScopeToFolder,
	}, fd)

	pid := opts.pid
	if pid == 0 {
		// A tool invocation acts on behalf of the agent process that ran it.
		pid = os.Getppid()
	}
	reg.SetPID(pid)

	handler := &printHandler{}
	in := inbox.New(paths.BaseDir, reg, handler, fd)
	reg.SetDrainer(in)

	app := &App{
		Paths:   paths,
		Cfg:     cfg,
		Feed:    fd,
		Reg:     reg,
		Inbox:   in,
		Swarm:   swarm.NewStore(paths.BaseDir, reg),
		Check:   reservation.NewChecker(reg),
		handler: handler,
	}
	if opts.as != "" {
		app.pendingName = opts.as
	}
	return app, nil
}

// requireIdentity adopts the registration named by --as / PI_AGENT_NAME and
// wires the history archiver. Operations that only read the mesh skip this.
func (a *App) requireIdentity() error {
	if a.Reg.Name() != "" {
		return nil
	}
	if a.pendingName == "" {
		return &protocol.NotRegisteredError{}
	}
	if err := a.Reg.Adopt(a.pendingName); err != nil {
		return err
	}
	a.attachHistory()
	return nil
}

// attachHistory opens the local archive for the adopted identity.
// Best-effort: history never blocks messaging.
func (a *App) attachHistory() {
	store, err := history.Open(a.Paths.BaseDir, a.Reg.Name())
	if err != nil {
		return
	}
	a.Inbox.SetArchiver(store)
}
