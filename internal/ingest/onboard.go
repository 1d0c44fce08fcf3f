package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/applyd/internal/profile"
	"github.com/kalambet/applyd/internal/retrieval"
)

// PersonDirectory assigns profile indexes to contact addresses.
type PersonDirectory interface {
	AddPerson(name, email string) (int, error)
	RemovePerson(idx int) error
}

// ProfileWriter persists profile records. Implemented by profile.Manager.
type ProfileWriter interface {
	Put(idx int, rec profile.Record) error
}

// Onboarder registers a new person: directory entry, stored profile and
// both indexes.
type Onboarder struct {
	people   PersonDirectory
	profiles ProfileWriter
	builder  IndexBuilder
}

// NewOnboarder creates an Onboarder.
func NewOnboarder(people PersonDirectory, profiles ProfileWriter, builder IndexBuilder) *Onboarder {
	return &Onboarder{people: people, profiles: profiles, builder: builder}
}

// Onboard adds the person, stores rec under the new index and builds both
// indexes inline. It returns the assigned profile index.
func (o *Onboarder) Onboard(ctx context.Context, name, email string, rec profile.Record) (int, retrieval.BuildResult, error) {
	idx, err := o.Register(name, email, rec)
	if err != nil {
		return 0, retrieval.BuildResult{}, err
	}
	res, err := o.builder.Build(ctx, idx, rec)
	if err != nil {
		return idx, retrieval.BuildResult{}, fmt.Errorf("building indexes for profile %d: %w", idx, err)
	}
	return idx, res, nil
}

// Register adds the person and stores rec without building indexes. If the
// profile cannot be stored the person is removed again, so the address can
// be registered on a later attempt.
func (o *Onboarder) Register(name, email string, rec profile.Record) (int, error) {
	if rec.Name == "" {
		rec.Name = name
	}
	idx, err := o.people.AddPerson(name, email)
	if err != nil {
		return 0, fmt.Errorf("adding person: %w", err)
	}
	if err := o.profiles.Put(idx, rec); err != nil {
		if rmErr := o.people.RemovePerson(idx); rmErr != nil {
			slog.Error("failed to roll back person", "profile_index", idx, "email", email, "error", rmErr)
		}
		return 0, fmt.Errorf("storing profile %d: %w", idx, err)
	}
	slog.Info("person registered", "profile_index", idx, "email", email)
	return idx, nil
}
