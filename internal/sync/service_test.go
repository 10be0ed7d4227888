package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchhero/jellyfin-watch-sync/internal/api/jellyfin"
	"github.com/watchhero/jellyfin-watch-sync/internal/config"
	"github.com/watchhero/jellyfin-watch-sync/internal/models"
)

// fakeServer implements Client over in-memory state
type fakeServer struct {
	name    string
	users   []models.UserRecord
	watched map[string][]models.WatchedItem // source user ID -> items
	catalog map[string]bool                 // item IDs present on this server

	// applied records SetPlaybackState calls: user ID -> item ID -> item
	applied map[string]map[string]models.WatchedItem

	listErr   error
	createErr error
	writeErr  map[string]error // per item ID

	nextID int
}

func newFakeServer(name string) *fakeServer {
	return &fakeServer{
		name:    name,
		watched: make(map[string][]models.WatchedItem),
		catalog: make(map[string]bool),
		applied: make(map[string]map[string]models.WatchedItem),
	}
}

func (f *fakeServer) Name() string { return f.name }

func (f *fakeServer) ListUsers(ctx context.Context) ([]models.UserRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.UserRecord(nil), f.users...), nil
}

func (f *fakeServer) CreateUser(ctx context.Context, name string) (*models.UserRecord, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	for _, u := range f.users {
		if u.Name == name {
			return nil, &jellyfin.ConflictError{Name: name}
		}
	}
	f.nextID++
	user := models.UserRecord{ID: fmt.Sprintf("%s-u%d", f.name, f.nextID), Name: name}
	f.users = append(f.users, user)
	return &user, nil
}

func (f *fakeServer) WatchedItems(ctx context.Context, userID string) ([]models.WatchedItem, error) {
	return append([]models.WatchedItem(nil), f.watched[userID]...), nil
}

func (f *fakeServer) ItemExists(ctx context.Context, userID, itemID string) (bool, error) {
	return f.catalog[itemID], nil
}

func (f *fakeServer) SetPlaybackState(ctx context.Context, userID, itemID string, item models.WatchedItem) error {
	if err := f.writeErr[itemID]; err != nil {
		return err
	}
	if !f.catalog[itemID] {
		return &jellyfin.NotFoundError{ItemID: itemID}
	}
	if f.applied[userID] == nil {
		f.applied[userID] = make(map[string]models.WatchedItem)
	}
	f.applied[userID][itemID] = item
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.Mode = config.ModeBatch
	cfg.App.Target = config.TargetAll
	return cfg
}

func TestPlanComputesDiff(t *testing.T) {
	source := newFakeServer("source")
	source.users = []models.UserRecord{
		{ID: "s1", Name: "alice"},
		{ID: "s2", Name: "bob"},
		{ID: "s3", Name: "carol"},
	}
	dest := newFakeServer("destination")
	dest.users = []models.UserRecord{
		{ID: "d1", Name: "alice"},
		{ID: "d9", Name: "zed"},
	}

	service := NewService(source, dest, testConfig())
	plan, err := service.Plan(context.Background())
	require.NoError(t, err)

	require.Len(t, plan.Missing, 2)
	assert.Equal(t, "bob", plan.Missing[0].Name)
	assert.Equal(t, "carol", plan.Missing[1].Name)

	require.Len(t, plan.Common, 1)
	assert.Equal(t, UserPair{Name: "alice", SourceID: "s1", DestID: "d1"}, plan.Common[0])
}

func TestPlanIsOrderIndependent(t *testing.T) {
	users := []models.UserRecord{
		{ID: "s1", Name: "alice"},
		{ID: "s2", Name: "bob"},
	}
	reversed := []models.UserRecord{users[1], users[0]}

	for i, sourceUsers := range [][]models.UserRecord{users, reversed} {
		source := newFakeServer("source")
		source.users = sourceUsers
		dest := newFakeServer("destination")
		dest.users = []models.UserRecord{
			{ID: "d2", Name: "bob"},
			{ID: "d1", Name: "alice"},
		}

		plan, err := NewService(source, dest, testConfig()).Plan(context.Background())
		require.NoError(t, err, "ordering %d", i)
		require.Len(t, plan.Common, 2)
		assert.Equal(t, "alice", plan.Common[0].Name)
		assert.Equal(t, "bob", plan.Common[1].Name)
		assert.Empty(t, plan.Missing)
	}
}

func TestPlanFailsWhenServerUnreachable(t *testing.T) {
	source := newFakeServer("source")
	source.listErr = &jellyfin.NetworkError{Server: "source", Op: "GET /Users", Err: errors.New("connection refused")}
	dest := newFakeServer("destination")

	_, err := NewService(source, dest, testConfig()).Plan(context.Background())
	require.Error(t, err)
	assert.True(t, jellyfin.IsNetwork(err))
}

func TestCreateMissingUsers(t *testing.T) {
	source := newFakeServer("source")
	source.users = []models.UserRecord{
		{ID: "s1", Name: "alice"},
		{ID: "s2", Name: "bob", HasPassword: true},
	}
	dest := newFakeServer("destination")
	dest.users = []models.UserRecord{{ID: "d1", Name: "alice"}}

	service := NewService(source, dest, testConfig())
	plan, err := service.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, plan.Missing, 1)

	summary := service.CreateMissingUsers(context.Background(), plan.Missing)
	assert.Equal(t, CreateSummary{Total: 1, Created: 1, Failed: 0}, summary)

	// bob now exists on the destination, without a password
	destUsers, err := dest.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, destUsers, 2)
	assert.Equal(t, "bob", destUsers[1].Name)
	assert.False(t, destUsers[1].HasPassword)

	// and the refreshed plan treats bob as common
	plan, err = service.Plan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, plan.Missing)
	assert.Len(t, plan.Common, 2)
}

func TestCreateMissingUsersContinuesOnFailure(t *testing.T) {
	source := newFakeServer("source")
	dest := newFakeServer("destination")
	dest.createErr = &jellyfin.ValidationError{Name: "bad/name"}

	service := NewService(source, dest, testConfig())
	summary := service.CreateMissingUsers(context.Background(), []models.UserRecord{
		{ID: "s1", Name: "bad/name"},
		{ID: "s2", Name: "also-bad"},
	})

	assert.Equal(t, CreateSummary{Total: 2, Created: 0, Failed: 2}, summary)
}

func TestSyncUserAccounting(t *testing.T) {
	played := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	source := newFakeServer("source")
	source.watched["s1"] = []models.WatchedItem{
		{ItemID: "X1", Name: "Synced", Played: true, PlayCount: 2, PlaybackPositionTicks: 500000, LastPlayedDate: &played},
		{ItemID: "X2", Name: "Missing on dest", Played: true},
		{ItemID: "X3", Name: "Write fails", Played: true},
	}
	dest := newFakeServer("destination")
	dest.catalog["X1"] = true
	dest.catalog["X3"] = true
	dest.writeErr = map[string]error{
		"X3": &jellyfin.NetworkError{Server: "destination", Op: "mark played", Err: errors.New("timeout")},
	}

	service := NewService(source, dest, testConfig())
	pair := UserPair{Name: "alice", SourceID: "s1", DestID: "d1"}

	var updates []Progress
	result, err := service.SyncUser(context.Background(), pair, func(p Progress) {
		updates = append(updates, p)
	})
	require.NoError(t, err)

	assert.Equal(t, Result{Total: 3, Completed: 1, Skipped: 1, Failed: 1}, result)
	assert.Equal(t, result.Total, result.Completed+result.Skipped+result.Failed)
	assert.Equal(t, 0, result.Remaining())

	// The present item carries the full source state
	applied := dest.applied["d1"]["X1"]
	assert.True(t, applied.Played)
	assert.Equal(t, 2, applied.PlayCount)
	assert.Equal(t, int64(500000), applied.PlaybackPositionTicks)
	require.NotNil(t, applied.LastPlayedDate)
	assert.True(t, applied.LastPlayedDate.Equal(played))

	// Absent item was never written
	_, wrote := dest.applied["d1"]["X2"]
	assert.False(t, wrote)

	// One progress update per item, counters consistent throughout
	require.Len(t, updates, 3)
	for _, p := range updates {
		sum := p.Result.Completed + p.Result.Skipped + p.Result.Failed
		assert.Equal(t, p.Index, sum)
	}
	assert.Equal(t, OutcomeCompleted, updates[0].Outcome)
	assert.Equal(t, OutcomeSkipped, updates[1].Outcome)
	assert.Equal(t, OutcomeFailed, updates[2].Outcome)
}

func TestSyncUserIdempotentRerun(t *testing.T) {
	source := newFakeServer("source")
	source.watched["s1"] = []models.WatchedItem{
		{ItemID: "X1", Played: true, PlaybackPositionTicks: 500000},
	}
	dest := newFakeServer("destination")
	dest.catalog["X1"] = true

	service := NewService(source, dest, testConfig())
	pair := UserPair{Name: "alice", SourceID: "s1", DestID: "d1"}

	first, err := service.SyncUser(context.Background(), pair, nil)
	require.NoError(t, err)
	stateAfterFirst := dest.applied["d1"]["X1"]

	second, err := service.SyncUser(context.Background(), pair, nil)
	require.NoError(t, err)

	// Re-running completes again but the destination state is unchanged
	assert.Equal(t, first, second)
	assert.Equal(t, Result{Total: 1, Completed: 1}, second)
	assert.Equal(t, stateAfterFirst, dest.applied["d1"]["X1"])
}

func TestSyncUserSkipsAbsentItem(t *testing.T) {
	source := newFakeServer("source")
	source.watched["s1"] = []models.WatchedItem{
		{ItemID: "X2", Name: "Not on destination", Played: true},
	}
	dest := newFakeServer("destination")

	service := NewService(source, dest, testConfig())
	result, err := service.SyncUser(context.Background(), UserPair{Name: "alice", SourceID: "s1", DestID: "d1"}, nil)
	require.NoError(t, err)

	assert.Equal(t, Result{Total: 1, Skipped: 1}, result)
	assert.Empty(t, dest.applied["d1"])
}

func TestSyncUserEmptyHistory(t *testing.T) {
	source := newFakeServer("source")
	dest := newFakeServer("destination")

	service := NewService(source, dest, testConfig())
	result, err := service.SyncUser(context.Background(), UserPair{Name: "alice", SourceID: "s1", DestID: "d1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
}

func TestSyncUserDryRun(t *testing.T) {
	source := newFakeServer("source")
	source.watched["s1"] = []models.WatchedItem{
		{ItemID: "X1", Played: true},
	}
	dest := newFakeServer("destination")
	dest.catalog["X1"] = true

	cfg := testConfig()
	cfg.App.DryRun = true

	service := NewService(source, dest, cfg)
	result, err := service.SyncUser(context.Background(), UserPair{Name: "alice", SourceID: "s1", DestID: "d1"}, nil)
	require.NoError(t, err)

	assert.Equal(t, Result{Total: 1, Completed: 1}, result)
	assert.Empty(t, dest.applied["d1"], "dry run must not write")
}

func TestSyncAllAggregates(t *testing.T) {
	source := newFakeServer("source")
	source.watched["s1"] = []models.WatchedItem{
		{ItemID: "X1", Played: true},
		{ItemID: "X2", Played: true},
	}
	source.watched["s2"] = []models.WatchedItem{
		{ItemID: "X3", Played: true},
	}
	dest := newFakeServer("destination")
	dest.catalog["X1"] = true
	dest.catalog["X3"] = true

	service := NewService(source, dest, testConfig())
	summary, err := service.SyncAll(context.Background(), []UserPair{
		{Name: "alice", SourceID: "s1", DestID: "d1"},
		{Name: "bob", SourceID: "s2", DestID: "d2"},
	}, nil)
	require.NoError(t, err)

	require.Len(t, summary.Users, 2)
	assert.Equal(t, Result{Total: 2, Completed: 1, Skipped: 1}, summary.Users[0].Result)
	assert.Equal(t, Result{Total: 1, Completed: 1}, summary.Users[1].Result)
	assert.Equal(t, Result{Total: 3, Completed: 2, Skipped: 1}, summary.Aggregate)
}

func TestSyncAllAbortsWhenCanceled(t *testing.T) {
	source := newFakeServer("source")
	source.watched["s1"] = []models.WatchedItem{
		{ItemID: "X1", Played: true},
	}
	dest := newFakeServer("destination")
	dest.catalog["X1"] = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	service := NewService(source, dest, testConfig())
	summary, err := service.SyncAll(ctx, []UserPair{
		{Name: "alice", SourceID: "s1", DestID: "d1"},
	}, nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, summary)
	assert.Empty(t, dest.applied, "no playback state may be written after cancellation")
}

func TestSelectTarget(t *testing.T) {
	plan := &Plan{
		Common: []UserPair{
			{Name: "alice", SourceID: "s1", DestID: "d1"},
			{Name: "bob", SourceID: "s2", DestID: "d2"},
		},
	}

	all, err := SelectTarget(plan, config.TargetAll)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := SelectTarget(plan, "bob")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "bob", one[0].Name)

	_, err = SelectTarget(plan, "mallory")
	require.Error(t, err)
}
