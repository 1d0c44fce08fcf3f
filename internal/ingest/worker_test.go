package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/applyd/internal/profile"
	"github.com/kalambet/applyd/internal/retrieval"
	"github.com/kalambet/applyd/internal/storage"
)

type mockBuilder struct {
	mu      sync.Mutex
	built   []int
	buildFn func(idx int) error
}

func (m *mockBuilder) Build(_ context.Context, idx int, _ profile.Record) (retrieval.BuildResult, error) {
	if m.buildFn != nil {
		if err := m.buildFn(idx); err != nil {
			return retrieval.BuildResult{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.built = append(m.built, idx)
	return retrieval.BuildResult{Narrative: 1, Skills: 1}, nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func saveTestProfile(t *testing.T, mgr *profile.Manager, idx int) {
	t.Helper()
	rec := profile.Record{Name: fmt.Sprintf("Person %d", idx), Languages: []profile.Language{{Language: "English"}}}
	if err := mgr.Put(idx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func enqueueTestJob(t *testing.T, store *storage.Store, idx int) string {
	t.Helper()
	id, err := EnqueueBuild(store, idx)
	if err != nil {
		t.Fatalf("EnqueueBuild: %v", err)
	}
	return id
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID)
	if err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func jobStatus(t *testing.T, store *storage.Store, id string) (string, int) {
	t.Helper()
	var status string
	var attempts int
	if err := store.DB().QueryRow(`SELECT status, attempts FROM jobs WHERE id = ?`, id).Scan(&status, &attempts); err != nil {
		t.Fatalf("query job %s: %v", id, err)
	}
	return status, attempts
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	mgr := profile.NewManager(store)
	saveTestProfile(t, mgr, 7)
	id := enqueueTestJob(t, store, 7)

	b := &mockBuilder{}
	w := NewWorker(store, mgr, b, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}
	if len(b.built) != 1 || b.built[0] != 7 {
		t.Errorf("built = %v, want [7]", b.built)
	}
	if status, _ := jobStatus(t, store, id); status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
}

func TestWorker_NoJobs(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, profile.NewManager(store), &mockBuilder{}, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if didWork {
		t.Error("RunOnce returned true with an empty queue")
	}
}

func TestWorker_MissingProfileFailsJob(t *testing.T) {
	store := openTestStore(t)
	id := enqueueTestJob(t, store, 99)
	w := NewWorker(store, profile.NewManager(store), &mockBuilder{}, 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	status, attempts := jobStatus(t, store, id)
	if status != "pending" || attempts != 1 {
		t.Errorf("status=%q attempts=%d, want pending/1", status, attempts)
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	mgr := profile.NewManager(store)
	saveTestProfile(t, mgr, 1)
	id := enqueueTestJob(t, store, 1)

	var calls atomic.Int32
	w := NewWorker(store, mgr, &mockBuilder{
		buildFn: func(int) error {
			if n := calls.Add(1); n <= 2 {
				return fmt.Errorf("transient error %d", n)
			}
			return nil
		},
	}, 0)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		status, attempts := jobStatus(t, store, id)
		if i < 3 {
			if status != "pending" || attempts != i {
				t.Errorf("after fail %d: status=%q attempts=%d, want pending/%d", i, status, attempts, i)
			}
			resetRunAfter(t, store, id)
		} else if status != "completed" {
			t.Errorf("after 3rd attempt: status=%q, want completed", status)
		}
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	mgr := profile.NewManager(store)
	saveTestProfile(t, mgr, 1)
	id := enqueueTestJob(t, store, 1)

	w := NewWorker(store, mgr, &mockBuilder{
		buildFn: func(int) error { return fmt.Errorf("permanent error") },
	}, 0)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		if i < 3 {
			resetRunAfter(t, store, id)
		}
	}

	if status, _ := jobStatus(t, store, id); status != "failed" {
		t.Errorf("final status = %q, want %q", status, "failed")
	}
}

func TestWorker_ConcurrentEnqueue(t *testing.T) {
	store := openTestStore(t)
	mgr := profile.NewManager(store)

	const goroutines = 5
	const jobsPerGoroutine = 4
	const total = goroutines * jobsPerGoroutine

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for j := 0; j < jobsPerGoroutine; j++ {
				idx := g*jobsPerGoroutine + j + 1
				if err := mgr.Put(idx, profile.Record{Name: "p"}); err != nil {
					t.Errorf("Put %d: %v", idx, err)
					return
				}
				if _, err := EnqueueBuild(store, idx); err != nil {
					t.Errorf("EnqueueBuild %d: %v", idx, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	b := &mockBuilder{}
	w := NewWorker(store, mgr, b, 0)

	ctx := context.Background()
	deadline := time.After(5 * time.Second)
	processed := 0
	for processed < total {
		select {
		case <-deadline:
			t.Fatalf("timed out after processing %d/%d jobs", processed, total)
		default:
		}
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce error at job %d: %v", processed, err)
		}
		if didWork {
			processed++
		}
	}

	if len(b.built) != total {
		t.Errorf("built %d profiles, want %d", len(b.built), total)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, profile.NewManager(store), &mockBuilder{}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
