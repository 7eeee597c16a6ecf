package models

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
)

func TestJob_Lifecycle(t *testing.T) {
	store := NewJobStore()
	j := store.Create("migration-run")
	if j.ID == "" {
		t.Fatal("Create did not assign an ID")
	}
	if store.Running() != j {
		t.Fatal("Running() should return the new job")
	}

	j.AppendLog("=== Migrating folder /plone_portal/nl ===")
	if _, err := j.Write([]byte("created nl/news\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	lines := j.LogsSince(0)
	if len(lines) != 2 || lines[1] != "created nl/news" {
		t.Fatalf("LogsSince(0) = %q", lines)
	}
	if got := j.LogsSince(5); got != nil {
		t.Errorf("LogsSince(5) = %v, want nil", got)
	}

	j.Fail("boom")
	if j.State() != "failed" || j.Err() != "boom" {
		t.Errorf("after Fail: status=%q error=%q", j.State(), j.Err())
	}
	j.Complete()
	if j.State() != "failed" {
		t.Errorf("Complete after Fail changed status to %q", j.State())
	}
	if store.Running() != nil {
		t.Error("Running() should be nil once the job finished")
	}
}

func TestJob_Cancel(t *testing.T) {
	store := NewJobStore()
	j := store.Create("migration-run")
	ctx, cancel := context.WithCancel(context.Background())
	j.Bind(cancel)

	j.Cancel()
	if ctx.Err() == nil {
		t.Error("Cancel did not cancel the bound context")
	}
	if j.State() != "cancelled" {
		t.Errorf("status = %q, want cancelled", j.State())
	}
	if !j.Done() {
		t.Error("cancelled job should be done")
	}
}

func TestJobStore_Concurrent(t *testing.T) {
	store := NewJobStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j := store.Create("migration-run")
			j.AppendLog("line")
			j.Complete()
		}()
	}
	wg.Wait()

	list := store.List()
	if len(list) != 50 {
		t.Fatalf("expected 50 jobs, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].StartedAt.After(list[i-1].StartedAt) {
			t.Fatal("List() is not ordered most recent first")
		}
	}
}

func TestJob_MarshalJSON(t *testing.T) {
	store := NewJobStore()
	j := store.Create("fix-positions")
	j.AppendLog("DONE")
	j.Complete()

	data, err := json.Marshal(j)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["id"] != j.ID || got["type"] != "fix-positions" || got["status"] != "completed" {
		t.Errorf("unexpected job JSON: %s", data)
	}
	if out, _ := got["output"].([]interface{}); len(out) != 1 || out[0] != "DONE" {
		t.Errorf("output = %v", got["output"])
	}
	if _, ok := got["finished_at"]; !ok {
		t.Error("finished_at missing for a completed job")
	}
}
