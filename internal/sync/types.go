package sync

import (
	"context"

	"github.com/watchhero/jellyfin-watch-sync/internal/models"
)

// Client is the slice of the Jellyfin API the orchestrator needs.
// Satisfied by *jellyfin.Client; tests substitute fakes.
type Client interface {
	Name() string
	ListUsers(ctx context.Context) ([]models.UserRecord, error)
	CreateUser(ctx context.Context, name string) (*models.UserRecord, error)
	WatchedItems(ctx context.Context, userID string) ([]models.WatchedItem, error)
	ItemExists(ctx context.Context, userID, itemID string) (bool, error)
	SetPlaybackState(ctx context.Context, userID, itemID string, item models.WatchedItem) error
}

// UserPair joins the two server-local IDs of one common user
type UserPair struct {
	Name     string
	SourceID string
	DestID   string
}

// Plan is the user-set diff computed before any mutation
type Plan struct {
	// Missing are users present on the source only, sorted by name
	Missing []models.UserRecord
	// Common are users present on both servers, matched by name
	Common []UserPair
}

// Result accumulates per-item counters for one user's sync.
// Invariant: Total = Completed + Skipped + Failed once the walk finishes.
type Result struct {
	Total     int
	Completed int
	Skipped   int
	Failed    int
}

// Remaining returns how many items have not been attempted yet
func (r Result) Remaining() int {
	return r.Total - r.Completed - r.Skipped - r.Failed
}

// Add merges another result into this one
func (r *Result) Add(other Result) {
	r.Total += other.Total
	r.Completed += other.Completed
	r.Skipped += other.Skipped
	r.Failed += other.Failed
}

// UserReport is the per-user outcome included in the run summary
type UserReport struct {
	User   string
	Result Result
}

// RunSummary aggregates every synced user's result
type RunSummary struct {
	Users     []UserReport
	Aggregate Result
}

// CreateSummary reports the outcome of the user-provisioning step
type CreateSummary struct {
	Total   int
	Created int
	Failed  int
}

// Progress describes the state of a user's sync after one item attempt
type Progress struct {
	Index    int
	Total    int
	ItemName string
	Outcome  Outcome
	Result   Result
}

// Outcome classifies a single item attempt
type Outcome int

const (
	// OutcomeCompleted means the state was written to the destination
	OutcomeCompleted Outcome = iota
	// OutcomeSkipped means the item is absent from the destination catalog
	OutcomeSkipped
	// OutcomeFailed means the write errored; the run continues
	OutcomeFailed
)

// ProgressFunc receives a progress update after every item attempt
type ProgressFunc func(p Progress)
