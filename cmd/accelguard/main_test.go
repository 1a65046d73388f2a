package main

import (
	"errors"
	"testing"
)

func TestBuildRootSubcommands(t *testing.T) {
	root := buildRoot()
	want := map[string]bool{"start": false, "run": false, "stop": false, "status": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("subcommand %q not registered", name)
		}
	}
}

func TestStartCommandFlags(t *testing.T) {
	root := buildRoot()
	start, _, err := root.Find([]string{"start"})
	if err != nil {
		t.Fatalf("find start: %v", err)
	}
	if start.Flags().Lookup("daemonize") == nil {
		t.Fatalf("start missing --daemonize")
	}
	status, _, err := root.Find([]string{"status"})
	if err != nil {
		t.Fatalf("find status: %v", err)
	}
	for _, name := range []string{"lines", "api-url", "api-timeout"} {
		if status.Flags().Lookup(name) == nil {
			t.Fatalf("status missing --%s", name)
		}
	}
}

func TestExitErrorf(t *testing.T) {
	err := exitErrorf(exitNoop, "already running (pid %d)", 42)
	var ee *exitError
	if !errors.As(err, &ee) {
		t.Fatalf("not an exitError: %v", err)
	}
	if ee.code != exitNoop || ee.Error() != "already running (pid 42)" {
		t.Fatalf("unexpected exitError: %d %q", ee.code, ee.Error())
	}
}
