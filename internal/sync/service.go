package sync

import (
	"context"
	"fmt"
	"sort"

	"github.com/watchhero/jellyfin-watch-sync/internal/api/jellyfin"
	"github.com/watchhero/jellyfin-watch-sync/internal/config"
	"github.com/watchhero/jellyfin-watch-sync/internal/logger"
	"github.com/watchhero/jellyfin-watch-sync/internal/models"
)

// Service replays user accounts and watch history from the source server
// onto the destination server. Source state always wins; the destination
// is never read to resolve conflicts, only to check item existence.
type Service struct {
	source Client
	dest   Client
	config *config.Config
	log    *logger.Logger
}

// NewService creates a new sync service
func NewService(source, dest Client, cfg *config.Config) *Service {
	return &Service{
		source: source,
		dest:   dest,
		config: cfg,
		log:    logger.Get().With(map[string]interface{}{"component": "sync"}),
	}
}

// Plan lists users on both servers and computes the user-set diff.
// The result does not depend on which server is listed first.
func (s *Service) Plan(ctx context.Context) (*Plan, error) {
	s.log.Info("Fetching users from source server")
	sourceUsers, err := s.source.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users on source: %w", err)
	}

	s.log.Info("Fetching users from destination server")
	destUsers, err := s.dest.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users on destination: %w", err)
	}

	destByName := make(map[string]models.UserRecord, len(destUsers))
	for _, u := range destUsers {
		destByName[u.Name] = u
	}

	plan := &Plan{}
	for _, u := range sourceUsers {
		if destUser, ok := destByName[u.Name]; ok {
			plan.Common = append(plan.Common, UserPair{
				Name:     u.Name,
				SourceID: u.ID,
				DestID:   destUser.ID,
			})
		} else {
			plan.Missing = append(plan.Missing, u)
		}
	}

	sort.Slice(plan.Missing, func(i, j int) bool { return plan.Missing[i].Name < plan.Missing[j].Name })
	sort.Slice(plan.Common, func(i, j int) bool { return plan.Common[i].Name < plan.Common[j].Name })

	s.log.Info("Computed user diff", map[string]interface{}{
		"source_users": len(sourceUsers),
		"dest_users":   len(destUsers),
		"common":       len(plan.Common),
		"missing":      len(plan.Missing),
	})
	return plan, nil
}

// CreateMissingUsers provisions the given source-only users on the
// destination, always without a password. Individual failures are
// counted and reported, never fatal.
func (s *Service) CreateMissingUsers(ctx context.Context, users []models.UserRecord) CreateSummary {
	summary := CreateSummary{Total: len(users)}

	for _, u := range users {
		log := s.log.With(map[string]interface{}{"user": u.Name})

		if s.config.App.DryRun {
			log.Info("[dry-run] Would create user on destination")
			summary.Created++
			continue
		}

		created, err := s.dest.CreateUser(ctx, u.Name)
		if err != nil {
			summary.Failed++
			log.Warn("Failed to create user", map[string]interface{}{"error": err.Error()})
			continue
		}

		summary.Created++
		log.Info("Created user on destination", map[string]interface{}{"dest_id": created.ID})
	}

	return summary
}

// SyncUser replays one user's watch history onto the destination.
// Items absent from the destination catalog are skipped permanently for
// this run; write failures are counted and the walk continues. The
// returned error is non-nil only when the source listing itself fails.
func (s *Service) SyncUser(ctx context.Context, pair UserPair, progress ProgressFunc) (Result, error) {
	log := s.log.With(map[string]interface{}{"user": pair.Name})

	log.Info("Fetching watched items from source server")
	items, err := s.source.WatchedItems(ctx, pair.SourceID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch watched items for %s: %w", pair.Name, err)
	}

	result := Result{Total: len(items)}
	if len(items) == 0 {
		log.Info("No watched items on source, nothing to sync")
		return result, nil
	}

	log.Info("Replaying watch history", map[string]interface{}{
		"items":   len(items),
		"dry_run": s.config.App.DryRun,
	})

	for i, item := range items {
		outcome := s.syncItem(ctx, pair, item, log)
		switch outcome {
		case OutcomeCompleted:
			result.Completed++
		case OutcomeSkipped:
			result.Skipped++
		case OutcomeFailed:
			result.Failed++
		}

		if progress != nil {
			progress(Progress{
				Index:    i + 1,
				Total:    result.Total,
				ItemName: item.Name,
				Outcome:  outcome,
				Result:   result,
			})
		}
	}

	log.Info("User sync finished", map[string]interface{}{
		"total":     result.Total,
		"completed": result.Completed,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
	})
	return result, nil
}

// syncItem attempts exactly one item. Re-running the tool is the retry
// mechanism; nothing here retries.
func (s *Service) syncItem(ctx context.Context, pair UserPair, item models.WatchedItem, log *logger.Logger) Outcome {
	exists, err := s.dest.ItemExists(ctx, pair.DestID, item.ItemID)
	if err != nil {
		log.Warn("Existence check failed", map[string]interface{}{
			"item_id": item.ItemID,
			"item":    item.Name,
			"error":   err.Error(),
		})
		return OutcomeFailed
	}
	if !exists {
		// Steady-state condition, not an error
		log.Debug("Item not found on destination, skipped", map[string]interface{}{
			"item_id": item.ItemID,
			"item":    item.Name,
		})
		return OutcomeSkipped
	}

	if s.config.App.DryRun {
		log.Debug("[dry-run] Would replay playback state", map[string]interface{}{
			"item_id": item.ItemID,
			"item":    item.Name,
		})
		return OutcomeCompleted
	}

	if err := s.dest.SetPlaybackState(ctx, pair.DestID, item.ItemID, item); err != nil {
		if jellyfin.IsNotFound(err) {
			// Disappeared between check and write
			log.Debug("Item vanished before write, skipped", map[string]interface{}{
				"item_id": item.ItemID,
			})
			return OutcomeSkipped
		}
		log.Warn("Failed to replay playback state", map[string]interface{}{
			"item_id": item.ItemID,
			"item":    item.Name,
			"error":   err.Error(),
		})
		return OutcomeFailed
	}

	return OutcomeCompleted
}

// SyncAll syncs every pair in order and aggregates the results
func (s *Service) SyncAll(ctx context.Context, pairs []UserPair, progress ProgressFunc) (*RunSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	summary := &RunSummary{}

	for _, pair := range pairs {
		result, err := s.SyncUser(ctx, pair, progress)
		if err != nil {
			// A user whose source listing failed contributes a zero
			// result; the remaining users are still attempted.
			s.log.Error("User sync failed", map[string]interface{}{
				"user":  pair.Name,
				"error": err.Error(),
			})
		}
		summary.Users = append(summary.Users, UserReport{User: pair.Name, Result: result})
		summary.Aggregate.Add(result)
	}

	return summary, nil
}

// SelectTarget resolves the configured target against the plan's common
// users. Target "all" selects every common user.
func SelectTarget(plan *Plan, target string) ([]UserPair, error) {
	if target == config.TargetAll {
		return plan.Common, nil
	}
	for _, pair := range plan.Common {
		if pair.Name == target {
			return []UserPair{pair}, nil
		}
	}
	return nil, fmt.Errorf("user %q is not present on both servers", target)
}
