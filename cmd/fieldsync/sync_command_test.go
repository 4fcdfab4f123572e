package main

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"fieldsync/internal/api"
	"fieldsync/internal/daemon"
	"fieldsync/internal/submit"
	"fieldsync/internal/testsupport"
	"fieldsync/internal/trigger"
)

func TestSyncLocalDeliversQueuedReports(t *testing.T) {
	env := setupCLITestEnv(t, http.StatusCreated)
	store := testsupport.MustOpenStore(t, env.cfg)
	first := testsupport.MustEnqueue(t, store, testsupport.Payload("one"))
	second := testsupport.MustEnqueue(t, store, testsupport.Payload("two"))

	out, _, err := runCLI(t, env.configPath, "", "sync", "--local", "--format", "json")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	summary := decodeJSON[api.PassSummary](t, out)
	if summary.Trigger != trigger.Manual {
		t.Fatalf("expected manual trigger, got %q", summary.Trigger)
	}
	if len(summary.Delivered) != 2 || summary.Delivered[0] != first.ID || summary.Delivered[1] != second.ID {
		t.Fatalf("unexpected delivered partition %v", summary.Delivered)
	}

	reports, err := store.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(reports) != 0 {
		t.Fatalf("expected empty queue after sync, got %d", len(reports))
	}
}

func TestSyncLocalKeepsReportsWhenCollectorFails(t *testing.T) {
	env := setupCLITestEnv(t, http.StatusServiceUnavailable)
	store := testsupport.MustOpenStore(t, env.cfg)
	testsupport.MustEnqueue(t, store, testsupport.Payload("one"))

	out, _, err := runCLI(t, env.configPath, "", "sync", "--local")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !strings.Contains(out, "Pending") || !strings.Contains(out, "503") {
		t.Fatalf("expected pending partition with failure status, got %q", out)
	}
	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Pending != 1 {
		t.Fatalf("expected report to stay queued, got %d pending", stats.Pending)
	}
}

func TestSyncUsesRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t, http.StatusCreated)
	store := testsupport.MustOpenStore(t, env.cfg)
	report := testsupport.MustEnqueue(t, store, testsupport.Payload("one"))

	d, err := daemon.New(env.cfg, store, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)

	env.cfg.Paths.APIBind = d.APIAddress()
	env.writeConfig(t)

	out, _, err := runCLI(t, env.configPath, "", "sync", "--format", "json")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	summary := decodeJSON[api.PassSummary](t, out)
	if summary.Trigger != trigger.BackgroundSync {
		t.Fatalf("expected daemon background sync, got %q", summary.Trigger)
	}
	if len(summary.Delivered) != 1 || summary.Delivered[0] != report.ID {
		t.Fatalf("unexpected delivered partition %v", summary.Delivered)
	}
}

func TestSubmitLocalQueuesWhenCollectorDown(t *testing.T) {
	env := setupCLITestEnv(t, http.StatusBadGateway)

	out, _, err := runCLI(t, env.configPath, `{"category":"fire"}`, "submit", "--local", "--format", "json")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	resp := decodeJSON[api.SubmitResponse](t, out)
	if resp.Outcome != string(submit.OutcomeQueued) || resp.ReportID == 0 {
		t.Fatalf("expected queued receipt, got %+v", resp)
	}

	store := testsupport.MustOpenStore(t, env.cfg)
	queued, err := store.Get(context.Background(), resp.ReportID)
	if err != nil || queued == nil {
		t.Fatalf("expected queued report, got %+v err=%v", queued, err)
	}
	if queued.Key != resp.Key {
		t.Fatalf("expected key %q, got %q", resp.Key, queued.Key)
	}
}

func TestSubmitLocalDelivered(t *testing.T) {
	env := setupCLITestEnv(t, http.StatusCreated)

	out, _, err := runCLI(t, env.configPath, `{"category":"fire"}`, "submit", "--local")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(out, "Report delivered") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestJoinIDsTruncates(t *testing.T) {
	ids := make([]int64, 15)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	got := joinIDs(ids)
	if !strings.HasSuffix(got, "12, +3 more") {
		t.Fatalf("unexpected joined ids %q", got)
	}
	if joinIDs(nil) != "-" {
		t.Fatalf("expected dash for no ids")
	}
}
