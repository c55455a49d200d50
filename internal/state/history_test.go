package state

import (
	"testing"
	"time"
)

func TestRunLifecycle(t *testing.T) {
	db := setupTestDB(t)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	run := &RunRecord{
		RequestID: "req-1",
		Branch:    "feature/login",
		Tier:      "medium",
		Status:    RunRunning,
		StartedAt: started,
	}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := db.GetRun("req-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got == nil {
		t.Fatal("GetRun returned nil")
	}
	if got.Branch != "feature/login" || got.Status != RunRunning {
		t.Errorf("run = %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil", got.CompletedAt)
	}

	if err := db.IncrementCorrections("req-1"); err != nil {
		t.Fatalf("IncrementCorrections: %v", err)
	}
	if err := db.IncrementCorrections("req-1"); err != nil {
		t.Fatalf("IncrementCorrections: %v", err)
	}

	got, _ = db.GetRun("req-1")
	if got.Corrections != 2 {
		t.Errorf("Corrections = %d, want 2", got.Corrections)
	}
	if got.Status != RunCorrecting {
		t.Errorf("Status = %q, want %q", got.Status, RunCorrecting)
	}

	if err := db.ResumeCorrectedRun("req-1"); err != nil {
		t.Fatalf("ResumeCorrectedRun: %v", err)
	}
	got, _ = db.GetRun("req-1")
	if got.Status != RunRunning {
		t.Errorf("Status after resume = %q, want %q", got.Status, RunRunning)
	}

	done := started.Add(15 * time.Minute)
	if err := db.FinishRun("req-1", RunApproved, done); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	got, _ = db.GetRun("req-1")
	if got.Status != RunApproved {
		t.Errorf("Status = %q, want %q", got.Status, RunApproved)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, done)
	}
}

func TestResumeLeavesTerminalRunsAlone(t *testing.T) {
	db := setupTestDB(t)
	run := &RunRecord{RequestID: "req-1", Branch: "feature/a", Tier: "light", Status: RunRunning, StartedAt: time.Now()}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := db.FinishRun("req-1", RunFailed, time.Now()); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	if err := db.ResumeCorrectedRun("req-1"); err != nil {
		t.Fatalf("ResumeCorrectedRun: %v", err)
	}
	got, _ := db.GetRun("req-1")
	if got.Status != RunFailed {
		t.Errorf("Status = %q, want %q", got.Status, RunFailed)
	}
}

func TestCreateRunReplacesEarlierAttempt(t *testing.T) {
	db := setupTestDB(t)
	first := &RunRecord{RequestID: "req-1", Branch: "feature/a", Tier: "light", Status: RunRunning, StartedAt: time.Now().Add(-time.Hour)}
	if err := db.CreateRun(first); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := db.FinishRun("req-1", RunFailed, time.Now().Add(-50*time.Minute)); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	second := &RunRecord{RequestID: "req-1", Branch: "feature/a", Tier: "heavy", Status: RunRunning, StartedAt: time.Now()}
	if err := db.CreateRun(second); err != nil {
		t.Fatalf("CreateRun again: %v", err)
	}

	got, _ := db.GetRun("req-1")
	if got.Status != RunRunning {
		t.Errorf("Status = %q, want %q", got.Status, RunRunning)
	}
	if got.Tier != "heavy" {
		t.Errorf("Tier = %q, want heavy", got.Tier)
	}
	if got.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil after restart", got.CompletedAt)
	}
}

func TestGetRunMissing(t *testing.T) {
	db := setupTestDB(t)
	got, err := db.GetRun("no-such-request")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestSetRunTier(t *testing.T) {
	db := setupTestDB(t)
	run := &RunRecord{RequestID: "req-1", Branch: "feature/a", Tier: "medium", Status: RunRunning, StartedAt: time.Now()}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := db.SetRunTier("req-1", "heavy"); err != nil {
		t.Fatalf("SetRunTier: %v", err)
	}
	got, _ := db.GetRun("req-1")
	if got.Tier != "heavy" {
		t.Errorf("Tier = %q, want heavy", got.Tier)
	}
}

func TestListRuns(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, r := range []RunRecord{
		{RequestID: "req-1", Branch: "feature/a", Tier: "light", Status: RunRunning},
		{RequestID: "req-2", Branch: "feature/b", Tier: "medium", Status: RunRunning},
		{RequestID: "req-3", Branch: "feature/c", Tier: "heavy", Status: RunRunning},
	} {
		r.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := db.CreateRun(&r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	if err := db.FinishRun("req-2", RunApproved, base.Add(time.Hour)); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	all, err := db.ListRuns(nil, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	// newest first
	if all[0].RequestID != "req-3" || all[2].RequestID != "req-1" {
		t.Errorf("order = %s, %s, %s", all[0].RequestID, all[1].RequestID, all[2].RequestID)
	}

	status := RunApproved
	approved, err := db.ListRuns(&status, 0)
	if err != nil {
		t.Fatalf("ListRuns approved: %v", err)
	}
	if len(approved) != 1 || approved[0].RequestID != "req-2" {
		t.Errorf("approved = %+v", approved)
	}

	limited, err := db.ListRuns(nil, 2)
	if err != nil {
		t.Fatalf("ListRuns limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited len = %d, want 2", len(limited))
	}
}

func TestActiveRuns(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()

	for _, r := range []RunRecord{
		{RequestID: "req-1", Branch: "feature/a", Tier: "light", Status: RunRunning, StartedAt: now.Add(-2 * time.Minute)},
		{RequestID: "req-2", Branch: "feature/b", Tier: "light", Status: RunRunning, StartedAt: now.Add(-1 * time.Minute)},
	} {
		r := r
		if err := db.CreateRun(&r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	if err := db.FinishRun("req-1", RunApproved, now); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	active, err := db.ActiveRuns()
	if err != nil {
		t.Fatalf("ActiveRuns: %v", err)
	}
	if len(active) != 1 || active[0].RequestID != "req-2" {
		t.Errorf("active = %+v", active)
	}
}

func TestReconcileInterrupted(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()

	for _, r := range []RunRecord{
		{RequestID: "req-1", Branch: "feature/a", Tier: "light", Status: RunRunning, StartedAt: now},
		{RequestID: "req-2", Branch: "feature/b", Tier: "light", Status: RunCorrecting, StartedAt: now},
	} {
		r := r
		if err := db.CreateRun(&r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	done := &RunRecord{RequestID: "req-3", Branch: "feature/c", Tier: "light", Status: RunRunning, StartedAt: now}
	if err := db.CreateRun(done); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := db.FinishRun("req-3", RunApproved, now); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	count, err := db.ReconcileInterrupted()
	if err != nil {
		t.Fatalf("ReconcileInterrupted: %v", err)
	}
	if count != 2 {
		t.Errorf("reconciled = %d, want 2", count)
	}

	for _, id := range []string{"req-1", "req-2"} {
		run, _ := db.GetRun(id)
		if run.Status != RunInterrupted {
			t.Errorf("%s status = %q, want %q", id, run.Status, RunInterrupted)
		}
		if run.CompletedAt == nil {
			t.Errorf("%s has no completion time", id)
		}
	}
	if run, _ := db.GetRun("req-3"); run.Status != RunApproved {
		t.Errorf("finished run status = %q, want %q", run.Status, RunApproved)
	}
}

func TestIntegrationRecords(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []IntegrationRecord{
		{Branch: "feature/a", PRNumber: 7, PRURL: "https://github.com/acme/api/pull/7", IntegrationBranch: "integration/feature/a", Outcome: OutcomePRCreated, OccurredAt: base},
		{Branch: "feature/a", PRNumber: 7, IntegrationBranch: "integration/feature/a", Outcome: OutcomeMerged, OccurredAt: base.Add(time.Hour)},
		{Branch: "feature/b", Outcome: OutcomeIntegrationFailed, OccurredAt: base.Add(30 * time.Minute)},
	}
	for i := range records {
		if err := db.RecordIntegration(&records[i]); err != nil {
			t.Fatalf("RecordIntegration: %v", err)
		}
	}

	all, err := db.ListIntegrations("", 0)
	if err != nil {
		t.Fatalf("ListIntegrations: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Outcome != OutcomeMerged {
		t.Errorf("newest outcome = %q, want %q", all[0].Outcome, OutcomeMerged)
	}

	forA, err := db.ListIntegrations("feature/a", 0)
	if err != nil {
		t.Fatalf("ListIntegrations branch: %v", err)
	}
	if len(forA) != 2 {
		t.Errorf("feature/a records = %d, want 2", len(forA))
	}
	for _, rec := range forA {
		if rec.PRNumber != 7 {
			t.Errorf("PRNumber = %d, want 7", rec.PRNumber)
		}
	}

	limited, err := db.ListIntegrations("", 1)
	if err != nil {
		t.Fatalf("ListIntegrations limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited len = %d, want 1", len(limited))
	}
}
