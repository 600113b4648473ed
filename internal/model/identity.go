package model

import "time"

// IdentitySpace is one of the external identifier namespaces a person can own ids in.
type IdentitySpace string

const (
	SpaceTracker IdentitySpace = "tracker"
	SpaceChat    IdentitySpace = "chat"
	SpaceVCS     IdentitySpace = "vcs"
)

func (s IdentitySpace) Valid() bool {
	switch s {
	case SpaceTracker, SpaceChat, SpaceVCS:
		return true
	}
	return false
}

// Identity is a logical person. External ids hang off it as links so one person can
// own several ids per space while each (scope, space, external id) points at exactly one identity.
type Identity struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Scope       string         `gorm:"size:64;index" json:"scope"`
	DisplayName string         `gorm:"size:128" json:"display_name"`
	Role        string         `gorm:"size:64" json:"role,omitempty"`
	Links       []IdentityLink `gorm:"foreignKey:IdentityID" json:"links,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type IdentityLink struct {
	ID         uint          `gorm:"primaryKey" json:"-"`
	Scope      string        `gorm:"size:64;uniqueIndex:uk_identity_link" json:"scope"`
	Space      IdentitySpace `gorm:"size:16;uniqueIndex:uk_identity_link" json:"space"`
	ExternalID string        `gorm:"size:128;uniqueIndex:uk_identity_link" json:"external_id"`
	IdentityID uint          `gorm:"index" json:"identity_id"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

func (Identity) TableName() string     { return "identities" }
func (IdentityLink) TableName() string { return "identity_links" }

// External returns the ids this identity owns in space, in link order.
func (i Identity) External(space IdentitySpace) []string {
	var ids []string
	for _, l := range i.Links {
		if l.Space == space {
			ids = append(ids, l.ExternalID)
		}
	}
	return ids
}

// ChatUserID returns the first chat id linked to the identity, or "".
func (i Identity) ChatUserID() string {
	if ids := i.External(SpaceChat); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// IdentityGap records an external id that could not be turned into a mention.
type IdentityGap struct {
	Space      IdentitySpace `json:"space"`
	ExternalID string        `json:"external_id"`
	ItemID     string        `json:"item_id,omitempty"`
	Reason     string        `json:"reason"`
}
