package storage

import (
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "octbench.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecordJobQueued(JobRecord{ID: "job-1", JobType: "maps", Status: "queued", InputPath: "Dataset"}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordJobStart("job-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordJobResult("job-1", "completed", map[string]any{"maps": 12}, ""); err != nil {
		t.Fatal(err)
	}

	jobs, err := s.RecentJobs(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Status != "completed" || jobs[0].StartedAt == nil || jobs[0].CompletedAt == nil {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	meta, err := s.JobMeta("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if meta["maps"].(float64) != 12 {
		t.Fatalf("unexpected meta %v", meta)
	}
}

func TestRunPersistence(t *testing.T) {
	s := openTestStore(t)
	id, err := s.RecordRunStart(Run{Category: "meso", InputDir: "Dataset", Reference: "Meso_Amp"})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected generated run id")
	}

	scores := []Score{
		{Map: "Struct", Comparison: "Intra_Meso_Amp", Class: "Intra", File1: "Scan_1.png", File2: "Scan_2.png", Metric: "SSIM", Value: 0.9},
		{Map: "Struct", Comparison: "Intra_Meso_Amp", Class: "Intra", File1: "Scan_1.png", File2: "Scan_2.png", Metric: "PSNR", Value: math.Inf(1)},
	}
	if err := s.RecordScores(id, scores); err != nil {
		t.Fatal(err)
	}
	if n, err := s.CountScores(id); err != nil || n != 2 {
		t.Fatalf("expected 2 scores, got %d (%v)", n, err)
	}

	summary := []SummaryRecord{{Map: "Struct", Comparison: "Intra_Meso_Amp", Class: "Intra", Metric: "SSIM", Mean: 0.9, P2_5: 0.85, P97_5: math.NaN(), N: 4}}
	if err := s.RecordSummary(id, summary); err != nil {
		t.Fatal(err)
	}
	got, err := s.RunSummary(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Mean != 0.9 || !math.IsNaN(got[0].P97_5) || got[0].N != 4 {
		t.Fatalf("unexpected summary %+v", got)
	}

	if err := s.RecordSignificance(id, []Significance{{Category: "meso", Map: "Struct", Metric: "SSIM", Tier: "***"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordRunResult(id, "completed", 1, ""); err != nil {
		t.Fatal(err)
	}

	runs, err := s.RecentRuns(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != id || runs[0].Status != "completed" || runs[0].Pairs != 1 || runs[0].CompletedAt == nil {
		t.Fatalf("unexpected runs %+v", runs)
	}
}

func TestConcurrentWritersDoNotLock(t *testing.T) {
	s := openTestStore(t)
	runID, err := s.RecordRunStart(Run{Category: "micro", InputDir: "Dataset"})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 400)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("job-%d-%d", w, i)
				if err := s.RecordJobQueued(JobRecord{ID: id, JobType: "evaluate", Status: "queued"}); err != nil {
					errs <- err
					continue
				}
				if err := s.RecordJobResult(id, "completed", map[string]any{"worker": w}, ""); err != nil {
					errs <- err
				}
			}
			if err := s.RecordScores(runID, []Score{{Map: "OAC", Comparison: "Intra_A", Class: "Intra", Metric: "MSE", Value: float64(w)}}); err != nil {
				errs <- err
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	var count int
	var first error
	for err := range errs {
		if first == nil {
			first = err
		}
		count++
	}
	if count > 0 {
		t.Fatalf("expected no write errors, got %d, first: %v", count, first)
	}
	jobs, err := s.RecentJobs(500)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 200 {
		t.Fatalf("expected 200 jobs, got %d", len(jobs))
	}
	if n, err := s.CountScores(runID); err != nil || n != 4 {
		t.Fatalf("expected 4 scores, got %d (%v)", n, err)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var s *Store
	if err := s.RecordJobQueued(JobRecord{ID: "x"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	id, err := s.RecordRunStart(Run{})
	if err != nil || id == "" {
		t.Fatalf("expected id without store, got %q (%v)", id, err)
	}
	if err := s.RecordScores(id, []Score{{Metric: "MSE"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecentRuns(1); err == nil {
		t.Fatal("expected error listing runs without store")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}
