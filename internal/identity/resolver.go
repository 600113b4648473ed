// Package identity maps external ids (tracker user, chat user, commit author) onto
// logical people.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"smart-progress/internal/config"
	"smart-progress/internal/logger"
	"smart-progress/internal/model"
)

// ErrNotFound is returned by Resolve when no link exists.
var ErrNotFound = model.ErrIdentityGap

type Resolver struct {
	db     *gorm.DB
	scope  string
	leadID string
}

func NewResolver(db *gorm.DB, cfg config.IdentityConfig) *Resolver {
	scope := cfg.Scope
	if scope == "" {
		scope = "default"
	}
	return &Resolver{db: db, scope: scope, leadID: cfg.LeadChatUserID}
}

// Resolve returns the identity that owns externalID in space, with all its links.
func (r *Resolver) Resolve(ctx context.Context, space model.IdentitySpace, externalID string) (model.Identity, error) {
	if !space.Valid() || externalID == "" {
		return model.Identity{}, fmt.Errorf("resolve %s:%q: %w", space, externalID, ErrNotFound)
	}
	var link model.IdentityLink
	err := r.db.WithContext(ctx).
		Where("scope = ? AND space = ? AND external_id = ?", r.scope, space, externalID).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Identity{}, fmt.Errorf("resolve %s:%s: %w", space, externalID, ErrNotFound)
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("resolve %s:%s: %w", space, externalID, err)
	}
	return r.Get(ctx, link.IdentityID)
}

// Get loads one identity and its links.
func (r *Resolver) Get(ctx context.Context, id uint) (model.Identity, error) {
	var ident model.Identity
	err := r.db.WithContext(ctx).
		Preload("Links", func(db *gorm.DB) *gorm.DB { return db.Order("space, external_id") }).
		First(&ident, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Identity{}, fmt.Errorf("identity %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("identity %d: %w", id, err)
	}
	return ident, nil
}

func (r *Resolver) List(ctx context.Context) ([]model.Identity, error) {
	var out []model.Identity
	err := r.db.WithContext(ctx).
		Where("scope = ?", r.scope).
		Preload("Links", func(db *gorm.DB) *gorm.DB { return db.Order("space, external_id") }).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return out, nil
}

func (r *Resolver) Create(ctx context.Context, displayName, role string) (model.Identity, error) {
	ident := model.Identity{Scope: r.scope, DisplayName: displayName, Role: role}
	if err := r.db.WithContext(ctx).Create(&ident).Error; err != nil {
		return model.Identity{}, fmt.Errorf("create identity: %w", err)
	}
	return ident, nil
}

// Link points (space, externalID) at identityID. An existing link for the same
// external id is moved; the last write wins.
func (r *Resolver) Link(ctx context.Context, identityID uint, space model.IdentitySpace, externalID string) error {
	if !space.Valid() {
		return fmt.Errorf("link: unknown space %q", space)
	}
	if externalID == "" {
		return errors.New("link: empty external id")
	}
	link := model.IdentityLink{
		Scope:      r.scope,
		Space:      space,
		ExternalID: externalID,
		IdentityID: identityID,
		UpdatedAt:  time.Now(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "space"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"identity_id", "updated_at"}),
	}).Create(&link).Error
	if err != nil {
		return fmt.Errorf("link %s:%s: %w", space, externalID, err)
	}
	logger.Debug("identity linked", "identity_id", identityID, "space", space, "external_id", externalID)
	return nil
}

// Ensure resolves (space, externalID), creating an identity for it when none exists.
func (r *Resolver) Ensure(ctx context.Context, space model.IdentitySpace, externalID, displayName string) (model.Identity, error) {
	ident, err := r.Resolve(ctx, space, externalID)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return ident, err
	}
	if displayName == "" {
		displayName = externalID
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ident = model.Identity{Scope: r.scope, DisplayName: displayName}
		if err := tx.Create(&ident).Error; err != nil {
			return err
		}
		link := model.IdentityLink{Scope: r.scope, Space: space, ExternalID: externalID, IdentityID: ident.ID, UpdatedAt: time.Now()}
		return tx.Create(&link).Error
	})
	if err != nil {
		// Another worker created the link first.
		if again, rerr := r.Resolve(ctx, space, externalID); rerr == nil {
			return again, nil
		}
		return model.Identity{}, fmt.Errorf("ensure %s:%s: %w", space, externalID, err)
	}
	return r.Get(ctx, ident.ID)
}

// Merge moves (toSpace, toID) onto the identity owning (fromSpace, fromID), creating
// that identity if needed.
func (r *Resolver) Merge(ctx context.Context, fromSpace model.IdentitySpace, fromID string, toSpace model.IdentitySpace, toID string) (model.Identity, error) {
	ident, err := r.Ensure(ctx, fromSpace, fromID, "")
	if err != nil {
		return model.Identity{}, err
	}
	if err := r.Link(ctx, ident.ID, toSpace, toID); err != nil {
		return model.Identity{}, err
	}
	return r.Get(ctx, ident.ID)
}

// ParseRef splits "space:external-id".
func ParseRef(s string) (model.IdentitySpace, string, error) {
	space, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return "", "", fmt.Errorf("identity ref %q: want space:id", s)
	}
	sp := model.IdentitySpace(space)
	if !sp.Valid() {
		return "", "", fmt.Errorf("identity ref %q: unknown space %q", s, space)
	}
	return sp, id, nil
}
