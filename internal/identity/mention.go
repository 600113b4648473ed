package identity

import (
	"context"
	"errors"

	"smart-progress/internal/model"
)

// Mention picks the chat user to notify about an item owned by (space, externalID).
// The chain is: the owner's chat link, then the configured lead, then nobody. Any
// step past the first records a gap. A store failure is returned as err and no
// mention is chosen.
func (r *Resolver) Mention(ctx context.Context, space model.IdentitySpace, externalID, itemID string) (chatUserID string, gap *model.IdentityGap, err error) {
	if externalID == "" {
		return r.fallback(space, externalID, itemID, "unassigned")
	}
	ident, err := r.Resolve(ctx, space, externalID)
	switch {
	case errors.Is(err, ErrNotFound):
		return r.fallback(space, externalID, itemID, "no identity")
	case err != nil:
		return "", nil, err
	}
	if id := ident.ChatUserID(); id != "" {
		return id, nil, nil
	}
	return r.fallback(space, externalID, itemID, "no chat link")
}

func (r *Resolver) fallback(space model.IdentitySpace, externalID, itemID, reason string) (string, *model.IdentityGap, error) {
	return r.leadID, &model.IdentityGap{Space: space, ExternalID: externalID, ItemID: itemID, Reason: reason}, nil
}
