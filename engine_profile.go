package trustcore

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/metrics"
	"github.com/MrEthical07/trustcore/store"
)

const maxNameLength = 50

// requireSelfOrAdmin admits actorID when it is targetID or an active admin.
// Missing or inactive actors are denied before the target is looked at, so
// a denial never reveals whether the target exists.
func (e *Engine) requireSelfOrAdmin(ctx context.Context, actorID, targetID string) (*store.Identity, error) {
	actor, err := e.loadIdentity(ctx, actorID)
	if errors.Is(err, ErrIdentityNotFound) {
		return nil, classErr(ErrPermissionDenied, err)
	}
	if err != nil {
		return nil, err
	}
	if !actor.Active {
		return nil, ErrPermissionDenied
	}
	if actorID != targetID && actor.Role != store.RoleAdmin {
		return nil, ErrPermissionDenied
	}
	return actor, nil
}

// Identity returns the profile of targetID. Callers may read their own
// profile; admins may read any. Admin reads of another identity are
// audited as data_access.
func (e *Engine) Identity(ctx context.Context, actorID, targetID string) (p *Profile, err error) {
	ctx, done := e.startOp(ctx, "get_identity")
	defer func() { done(err) }()

	if _, err := e.requireSelfOrAdmin(ctx, actorID, targetID); err != nil {
		return nil, err
	}
	target, err := e.loadIdentity(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if actorID != targetID {
		e.record(ctx, audit.Event{
			IdentityID: actorID,
			Action:     audit.ActionDataAccess,
			Resource:   "user:" + targetID,
			Status:     audit.StatusSuccess,
			Details:    map[string]any{"action": "read"},
		})
	}
	return profileOf(target), nil
}

// UpdateProfile changes the names and email of targetID. The actor must be
// the target or an admin. Email is the login key: a change to an address
// another identity holds fails with ErrIdentityExists and leaves the record
// untouched.
func (e *Engine) UpdateProfile(ctx context.Context, actorID, targetID string, in ProfileUpdate) (p *Profile, err error) {
	ctx, done := e.startOp(ctx, "update_profile")
	defer func() { done(err) }()

	if in.FirstName == nil && in.LastName == nil && in.Email == nil {
		return nil, classErr(ErrInputRejected, ErrEmptyUpdate)
	}
	var first, last, email string
	if in.FirstName != nil {
		if first = strings.TrimSpace(*in.FirstName); utf8.RuneCountInString(first) > maxNameLength {
			return nil, classErr(ErrInputRejected, ErrNameTooLong)
		}
	}
	if in.LastName != nil {
		if last = strings.TrimSpace(*in.LastName); utf8.RuneCountInString(last) > maxNameLength {
			return nil, classErr(ErrInputRejected, ErrNameTooLong)
		}
	}
	if in.Email != nil {
		var ok bool
		if email, ok = normalizeEmail(*in.Email); !ok {
			return nil, classErr(ErrInputRejected, ErrInvalidEmail)
		}
	}

	if _, err := e.requireSelfOrAdmin(ctx, actorID, targetID); err != nil {
		return nil, err
	}

	var fields []string
	updated, err := e.mutateIdentity(ctx, targetID, func(i *store.Identity) error {
		fields = fields[:0]
		if in.FirstName != nil && i.FirstName != first {
			i.FirstName = first
			fields = append(fields, "first_name")
		}
		if in.LastName != nil && i.LastName != last {
			i.LastName = last
			fields = append(fields, "last_name")
		}
		if in.Email != nil && i.Email != email {
			i.Email = email
			fields = append(fields, "email")
		}
		if len(fields) == 0 {
			return errSkipWrite
		}
		return nil
	})
	if errors.Is(err, ErrIdentityExists) {
		e.record(ctx, audit.Event{
			IdentityID: actorID,
			Action:     audit.ActionDataAccess,
			Resource:   "user:" + targetID,
			Status:     audit.StatusFailure,
			Details:    map[string]any{"action": "update", "reason": "email-taken"},
		})
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if len(fields) > 0 {
		e.metrics.Inc(metrics.ProfileUpdated)
	}
	e.record(ctx, audit.Event{
		IdentityID: actorID,
		Action:     audit.ActionDataAccess,
		Resource:   "user:" + targetID,
		Status:     audit.StatusSuccess,
		Details:    map[string]any{"action": "update", "fields": fields},
	})
	return profileOf(updated), nil
}

// ListIdentities returns one page of identities, newest first. Admin only.
func (e *Engine) ListIdentities(ctx context.Context, actorID string, q store.IdentityQuery) (page *IdentityPage, err error) {
	ctx, done := e.startOp(ctx, "list_identities")
	defer func() { done(err) }()

	if _, err := e.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	if q.Role != "" && !q.Role.Valid() {
		return nil, classErr(ErrInputRejected, errors.New("unknown role"))
	}
	q = q.Normalized()

	identities, total, err := e.store.ListIdentities(ctx, q)
	if err != nil {
		return nil, internalErr("list identities", err)
	}
	page = &IdentityPage{
		Identities: make([]*Profile, 0, len(identities)),
		Total:      total,
		Limit:      q.Limit,
		Offset:     q.Offset,
	}
	for _, i := range identities {
		page.Identities = append(page.Identities, profileOf(i))
	}
	return page, nil
}
