package service

import (
	"context"
	"fmt"
	"time"

	"smart-progress/internal/logger"
	"smart-progress/internal/model"
	"smart-progress/internal/store"
)

// IdentityEnsurer creates identities for tracker users on first sight.
type IdentityEnsurer interface {
	Ensure(ctx context.Context, space model.IdentitySpace, externalID, displayName string) (model.Identity, error)
}

// TaskCache serves tracker snapshots from the store while they are younger than
// ttl and refreshes them from the source otherwise.
type TaskCache struct {
	source TaskSource
	store  *store.Store
	idents IdentityEnsurer
	ttl    time.Duration
	now    func() time.Time
}

func NewTaskCache(source TaskSource, st *store.Store, idents IdentityEnsurer, ttl time.Duration) *TaskCache {
	return &TaskCache{source: source, store: st, idents: idents, ttl: ttl, now: time.Now}
}

func (c *TaskCache) FetchTasks(ctx context.Context, projectID string) ([]model.TrackedItem, error) {
	if c.ttl > 0 {
		cached, err := c.store.Items(ctx, projectID, c.now().Add(-c.ttl))
		if err != nil {
			return nil, err
		}
		if len(cached) > 0 {
			logger.Debug("task cache hit", "project", projectID, "items", len(cached))
			return cached, nil
		}
	}
	return c.Refresh(ctx, projectID)
}

// Refresh bypasses the cache.
func (c *TaskCache) Refresh(ctx context.Context, projectID string) ([]model.TrackedItem, error) {
	items, err := c.source.FetchTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	now := c.now()
	for i := range items {
		items[i].FetchedAt = now
	}
	if err := c.store.SaveItems(ctx, items); err != nil {
		return nil, fmt.Errorf("cache tasks %s: %w", projectID, err)
	}
	c.ensureAssignees(ctx, items)
	return items, nil
}

func (c *TaskCache) ensureAssignees(ctx context.Context, items []model.TrackedItem) {
	if c.idents == nil {
		return
	}
	seen := map[string]struct{}{}
	for _, it := range items {
		if it.AssigneeID == "" {
			continue
		}
		if _, ok := seen[it.AssigneeID]; ok {
			continue
		}
		seen[it.AssigneeID] = struct{}{}
		if _, err := c.idents.Ensure(ctx, model.SpaceTracker, it.AssigneeID, it.AssigneeName); err != nil {
			logger.Warn("ensure assignee identity failed", "assignee_id", it.AssigneeID, "err", err)
		}
	}
}
