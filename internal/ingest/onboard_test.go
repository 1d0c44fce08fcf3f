package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kalambet/applyd/internal/profile"
	"github.com/kalambet/applyd/internal/storage"
)

func TestOnboard_AssignsSequentialIndexes(t *testing.T) {
	store := openTestStore(t)
	mgr := profile.NewManager(store)
	b := &mockBuilder{}
	o := NewOnboarder(store, mgr, b)
	ctx := context.Background()

	first, _, err := o.Onboard(ctx, "Ada", "ada@example.com", profile.Record{About: "engineer"})
	if err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	second, _, err := o.Onboard(ctx, "Grace", "grace@example.com", profile.Record{})
	if err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	if first != 1 || second != 2 {
		t.Errorf("indexes = %d, %d, want 1, 2", first, second)
	}
	if diff := cmp.Diff([]int{1, 2}, b.built); diff != "" {
		t.Errorf("built mismatch (-want +got):\n%s", diff)
	}

	idx, err := store.LookupIndexByEmail("grace@example.com")
	if err != nil {
		t.Fatalf("LookupIndexByEmail: %v", err)
	}
	if idx != 2 {
		t.Errorf("lookup = %d, want 2", idx)
	}

	rec, err := mgr.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Name != "Ada" || rec.About != "engineer" {
		t.Errorf("stored record = %+v, want name defaulted and about kept", rec)
	}
}

func TestOnboard_InvalidEmail(t *testing.T) {
	store := openTestStore(t)
	b := &mockBuilder{}
	o := NewOnboarder(store, profile.NewManager(store), b)

	if _, _, err := o.Onboard(context.Background(), "Ada", "not-an-email", profile.Record{}); err == nil {
		t.Fatal("expected validation error")
	}
	if len(b.built) != 0 {
		t.Error("indexes built for rejected person")
	}
}

func TestOnboard_BuildFailureKeepsIndex(t *testing.T) {
	store := openTestStore(t)
	boom := errors.New("embedder down")
	o := NewOnboarder(store, profile.NewManager(store), &mockBuilder{buildFn: func(int) error { return boom }})

	idx, _, err := o.Onboard(context.Background(), "Ada", "ada@example.com", profile.Record{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if idx != 1 {
		t.Errorf("idx = %d, want 1 so the build can be retried", idx)
	}
}

type failingWriter struct {
	err   error
	calls int
}

func (w *failingWriter) Put(int, profile.Record) error {
	w.calls++
	return w.err
}

func TestRegister_ProfileSaveFailureRemovesPerson(t *testing.T) {
	store := openTestStore(t)
	diskFull := errors.New("disk full")
	o := NewOnboarder(store, &failingWriter{err: diskFull}, &mockBuilder{})

	if _, err := o.Register("Ada", "ada@example.com", profile.Record{}); !errors.Is(err, diskFull) {
		t.Fatalf("err = %v, want %v", err, diskFull)
	}
	if _, err := store.LookupIndexByEmail("ada@example.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("lookup after failed register: err = %v, want ErrNotFound", err)
	}

	mgr := profile.NewManager(store)
	retry := NewOnboarder(store, mgr, &mockBuilder{})
	idx, err := retry.Register("Ada", "ada@example.com", profile.Record{About: "engineer"})
	if err != nil {
		t.Fatalf("retry Register: %v", err)
	}
	rec, err := mgr.Get(idx)
	if err != nil {
		t.Fatalf("Get(%d): %v", idx, err)
	}
	if rec.About != "engineer" {
		t.Errorf("stored record = %+v", rec)
	}
}
