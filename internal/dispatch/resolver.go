package dispatch

import (
	"context"

	"github.com/example/dispatch-service/internal/store"
)

type ContactSource interface {
	ListActiveContactsByIDs(ctx context.Context, ids []string) ([]store.Contact, error)
	ListActiveContactsInGroups(ctx context.Context, groupIDs []string) ([]store.Contact, error)
}

// RecipientResolver expands a request's explicit contact ids and group ids
// into the deduplicated set of active contacts that will become recipients.
type RecipientResolver struct {
	Contacts ContactSource
}

// Resolve returns each eligible contact exactly once, even when referenced
// both directly and through one or more groups. Inactive contacts are
// silently excluded. Both inputs empty yields an empty set; rejecting that as
// a user error is the caller's job.
func (r *RecipientResolver) Resolve(ctx context.Context, contactIDs, groupIDs []string) ([]store.Contact, error) {
	direct, err := r.Contacts.ListActiveContactsByIDs(ctx, contactIDs)
	if err != nil {
		return nil, err
	}
	grouped, err := r.Contacts.ListActiveContactsInGroups(ctx, groupIDs)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(direct)+len(grouped))
	out := make([]store.Contact, 0, len(direct)+len(grouped))
	for _, c := range append(direct, grouped...) {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}
