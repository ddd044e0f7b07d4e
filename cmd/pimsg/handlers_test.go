package main

import (
	"testing"
	"time"

	"pimsg/pkg/config"
	"pimsg/pkg/feed"
	"pimsg/pkg/protocol"
	"pimsg/pkg/registry"
)

func TestIsAutoStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		msg  string
		want bool
	}{
		{"idle", true},
		{"working on task-3", true},
		{"working on T-1", true},
		{"", false},
		{"debugging the watcher", false},
		{"idle hands", false},
	}
	for _, tc := range cases {
		if got := isAutoStatus(tc.msg); got != tc.want {
			t.Errorf("isAutoStatus(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}

func TestNotifyStuckOncePerEpisode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := config.Default()
	app := &App{Cfg: cfg, Feed: feed.New(dir, 0)}

	lastActivity := time.Now().Add(-10 * time.Minute)
	views := []AgentView{{
		Registration: protocol.Registration{Name: "Swift", Activity: lastActivity},
		Stuck:        true,
	}}

	// Two observations of the same episode announce once.
	app.notifyStuck(views)
	app.notifyStuck(views)

	events, err := app.Feed.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, ev := range events {
		if ev.Kind == protocol.EventStuck && ev.Agent == "Swift" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("got %d stuck events, want 1", count)
	}

	// An activity bump starts a new episode; going stuck again re-announces.
	views[0].Activity = time.Now()
	app.notifyStuck(views)

	events, err = app.Feed.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	count = 0
	for _, ev := range events {
		if ev.Kind == protocol.EventStuck && ev.Agent == "Swift" {
			count++
		}
	}
	if count != 2 {
		t.Errorf("got %d stuck events after new episode, want 2", count)
	}
}

func TestNotifyStuckDisabled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.StuckNotify = false
	app := &App{Cfg: cfg, Feed: feed.New(dir, 0)}

	app.notifyStuck([]AgentView{{
		Registration: protocol.Registration{Name: "Swift", Activity: time.Now().Add(-time.Hour)},
		Stuck:        true,
	}})

	events, err := app.Feed.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("stuckNotify=false still announced: %v", events)
	}
}

func TestMaybeAutoStatus(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	reg := registry.New(registry.Config{BaseDir: dir, Cwd: "/work"}, feed.New(dir, 0))
	reg.SetPID(100)
	reg.SetAliveFunc(func(int) bool { return true })
	if _, err := reg.Join("Swift", true); err != nil {
		t.Fatal(err)
	}

	app := &App{Cfg: config.Default(), Feed: feed.New(dir, 0), Reg: reg}

	// Empty status: auto line is set.
	app.maybeAutoStatus("working on task-3")
	if got := reg.Self().StatusMessage; got != "working on task-3" {
		t.Errorf("status = %q, want auto line", got)
	}

	// Auto line is replaced by the next auto line.
	app.maybeAutoStatus("idle")
	if got := reg.Self().StatusMessage; got != "idle" {
		t.Errorf("status = %q, want idle", got)
	}

	// A custom status is never overwritten.
	if err := reg.SetStatusMessage("debugging the watcher"); err != nil {
		t.Fatal(err)
	}
	app.maybeAutoStatus("idle")
	if got := reg.Self().StatusMessage; got != "debugging the watcher" {
		t.Errorf("custom status overwritten: %q", got)
	}

	// Disabled: an empty status stays empty.
	if err := reg.SetStatusMessage(""); err != nil {
		t.Fatal(err)
	}
	app.Cfg.AutoStatus = false
	app.maybeAutoStatus("idle")
	if got := reg.Self().StatusMessage; got != "" {
		t.Errorf("autoStatus=false still wrote %q", got)
	}
}
