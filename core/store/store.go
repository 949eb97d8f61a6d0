// Package store persists the engine state between restarts and keeps a
// journal of balancer decisions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/wattbudget/core/balancer"
	"github.com/kilianp07/wattbudget/core/connection"
	"github.com/kilianp07/wattbudget/core/learner"
	"github.com/kilianp07/wattbudget/core/model"
)

// ErrNoSnapshot is returned by Load when nothing was saved yet.
var ErrNoSnapshot = errors.New("no snapshot")

// Snapshot is the persisted engine state.
type Snapshot struct {
	SavedAt       time.Time           `json:"saved_at"`
	Slots         []model.PowerSlot   `json:"slots"`
	StressedHours []int               `json:"stressed_hours,omitempty"`
	Jobs          []model.ChargingJob `json:"jobs"`
	Learner       learner.Tables      `json:"learner"`
	Links         connection.Table    `json:"links"`
}

// SnapshotStore loads and saves snapshots.
type SnapshotStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, s Snapshot) error
	Close() error
}

// JournalRecord is one journaled decision.
type JournalRecord struct {
	ID       string            `json:"id"`
	Decision balancer.Decision `json:"decision"`
}

// JournalQuery filters journal records. Zero fields match everything.
type JournalQuery struct {
	Start time.Time
	End   time.Time
	Rule  balancer.RuleName
}

func (q JournalQuery) match(d balancer.Decision) bool {
	if !q.Start.IsZero() && d.Time.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && d.Time.After(q.End) {
		return false
	}
	return q.Rule == "" || d.Rule == q.Rule
}

// Journal appends decisions and reads them back.
type Journal interface {
	Append(ctx context.Context, d balancer.Decision) error
	Query(ctx context.Context, q JournalQuery) ([]JournalRecord, error)
	Close() error
}

// NopJournal discards decisions.
type NopJournal struct{}

func (NopJournal) Append(context.Context, balancer.Decision) error { return nil }
func (NopJournal) Query(context.Context, JournalQuery) ([]JournalRecord, error) {
	return nil, nil
}
func (NopJournal) Close() error { return nil }
