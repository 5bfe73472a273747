package trustcore

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/lockout"
	"github.com/MrEthical07/trustcore/metrics"
	"github.com/MrEthical07/trustcore/session"
	"github.com/MrEthical07/trustcore/store"
	"github.com/google/uuid"
)

// Register creates an active identity with the default role and MFA off.
// A taken email or username fails with ErrIdentityExists.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (p *Profile, err error) {
	ctx, done := e.startOp(ctx, "register")
	defer func() { done(err) }()

	username := strings.TrimSpace(in.Username)
	if !e.validUsername(username) {
		return nil, classErr(ErrInputRejected, ErrInvalidUsername)
	}
	email, ok := normalizeEmail(in.Email)
	if !ok {
		return nil, classErr(ErrInputRejected, ErrInvalidEmail)
	}
	if err := e.policy.Check(in.Password); err != nil {
		return nil, classErr(ErrInputRejected, err)
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return nil, internalErr("hash password", err)
	}
	now := e.clock.Now()
	identity := &store.Identity{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         e.config.Identity.DefaultRole,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = e.store.CreateIdentity(ctx, identity)
	if errors.Is(err, store.ErrDuplicate) {
		e.metrics.Inc(metrics.RegisterDuplicate)
		e.record(ctx, audit.Event{
			Action:  audit.ActionRegister,
			Status:  audit.StatusFailure,
			Details: map[string]any{"reason": "identity-exists", "email": email, "username": username},
		})
		return nil, ErrIdentityExists
	}
	if err != nil {
		return nil, internalErr("create identity", err)
	}

	e.metrics.Inc(metrics.RegisterSuccess)
	e.record(ctx, audit.Event{
		IdentityID: identity.ID,
		Action:     audit.ActionRegister,
		Status:     audit.StatusSuccess,
	})
	return profileOf(identity), nil
}

func (e *Engine) validUsername(s string) bool {
	if len(s) < e.config.Identity.UsernameMinLength || len(s) > e.config.Identity.UsernameMaxLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// normalizeEmail accepts a bare addr-spec and rejects display-name forms.
func normalizeEmail(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 254 {
		return "", false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" {
		return "", false
	}
	at := strings.LastIndexByte(s, '@')
	if at < 1 || !strings.Contains(s[at+1:], ".") {
		return "", false
	}
	return s, true
}

// ChangePassword replaces the password after checking the current one. A
// wrong current password is logged but does not count toward the lockout.
// Every other session is revoked; keepRefreshToken names the caller's own
// session and may be empty.
func (e *Engine) ChangePassword(ctx context.Context, identityID, current, next, keepRefreshToken string) (err error) {
	ctx, done := e.startOp(ctx, "change_password")
	defer func() { done(err) }()

	identity, err := e.loadIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	ok, err := e.hasher.Verify(current, identity.PasswordHash)
	if err != nil {
		return internalErr("verify password", err)
	}
	if !ok {
		e.record(ctx, audit.Event{
			IdentityID: identityID,
			Action:     audit.ActionPasswordChange,
			Status:     audit.StatusFailure,
			Details:    map[string]any{"reason": "invalid-current-password"},
		})
		return classErr(ErrCredentialsInvalid, errWrongPassword)
	}
	if err := e.policy.Check(next); err != nil {
		return classErr(ErrInputRejected, err)
	}
	if same, _ := e.hasher.Verify(next, identity.PasswordHash); same {
		return classErr(ErrInputRejected, ErrPasswordReuse)
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return internalErr("hash password", err)
	}
	verified := identity.PasswordHash
	_, err = e.mutateIdentity(ctx, identityID, func(i *store.Identity) error {
		if i.PasswordHash != verified {
			return classErr(ErrCredentialsInvalid, errPasswordChanged)
		}
		i.PasswordHash = hash
		return nil
	})
	if err != nil {
		return err
	}

	revoked := 0
	if e.config.Session.RevokeOnPasswordChange {
		keep := ""
		if t := strings.TrimSpace(keepRefreshToken); t != "" {
			keep = session.HashToken(t)
		}
		revoked, err = e.sessions.RevokeAll(ctx, identityID, keep)
		if err != nil {
			return internalErr("revoke sessions", err)
		}
		e.metrics.Inc(metrics.SessionsRevoked)
	}

	e.metrics.Inc(metrics.PasswordChanged)
	e.record(ctx, audit.Event{
		IdentityID: identityID,
		Action:     audit.ActionPasswordChange,
		Status:     audit.StatusSuccess,
		Details:    map[string]any{"sessions_revoked": revoked},
	})
	return nil
}

var errPasswordChanged = errors.New("password changed concurrently")

// requireAdmin loads actorID and checks it is an active admin. Elevation
// grants do not count; admin operations need the base role.
func (e *Engine) requireAdmin(ctx context.Context, actorID string) (*store.Identity, error) {
	actor, err := e.loadIdentity(ctx, actorID)
	if errors.Is(err, ErrIdentityNotFound) {
		return nil, classErr(ErrPermissionDenied, err)
	}
	if err != nil {
		return nil, err
	}
	if !actor.Active || actor.Role != store.RoleAdmin {
		return nil, ErrPermissionDenied
	}
	return actor, nil
}

// DeactivateIdentity clears the active flag of targetID and revokes all of
// its sessions. The actor must be an admin other than the target.
func (e *Engine) DeactivateIdentity(ctx context.Context, actorID, targetID string) (err error) {
	ctx, done := e.startOp(ctx, "deactivate_identity")
	defer func() { done(err) }()

	if actorID == targetID {
		return classErr(ErrInputRejected, ErrSelfAction)
	}
	if _, err := e.requireAdmin(ctx, actorID); err != nil {
		return err
	}

	_, err = e.mutateIdentity(ctx, targetID, func(i *store.Identity) error {
		if !i.Active {
			return classErr(ErrAlreadyInState, ErrIdentityInactive)
		}
		i.Active = false
		return nil
	})
	if err != nil {
		return err
	}

	revoked, err := e.sessions.RevokeAll(ctx, targetID, "")
	if err != nil {
		return internalErr("revoke sessions", err)
	}
	e.metrics.Inc(metrics.SessionsRevoked)
	e.record(ctx, audit.Event{
		IdentityID: actorID,
		Action:     audit.ActionAccountLock,
		Resource:   "user:" + targetID,
		Status:     audit.StatusSuccess,
		Details:    map[string]any{"reason": "deactivated", "sessions_revoked": revoked},
	})
	return nil
}

// UnlockIdentity clears the failure counter and lock of targetID and
// reactivates it.
func (e *Engine) UnlockIdentity(ctx context.Context, actorID, targetID string) (err error) {
	ctx, done := e.startOp(ctx, "unlock_identity")
	defer func() { done(err) }()

	if _, err := e.requireAdmin(ctx, actorID); err != nil {
		return err
	}

	now := e.clock.Now()
	_, err = e.mutateIdentity(ctx, targetID, func(i *store.Identity) error {
		if i.Active && i.FailedLoginAttempts == 0 && !lockout.IsLocked(i.LockUntil, now) {
			return classErr(ErrAlreadyInState, errNotLocked)
		}
		reset := e.lockout.Reset()
		i.FailedLoginAttempts = reset.FailedAttempts
		i.LockUntil = reset.LockUntil
		i.Active = true
		return nil
	})
	if err != nil {
		return err
	}

	e.record(ctx, audit.Event{
		IdentityID: actorID,
		Action:     audit.ActionAccountUnlock,
		Resource:   "user:" + targetID,
		Status:     audit.StatusSuccess,
	})
	return nil
}

var errNotLocked = errors.New("identity is neither locked nor inactive")

// SecurityEvents returns audit events newest first. Admins may query any
// identity; everyone else only sees their own events.
func (e *Engine) SecurityEvents(ctx context.Context, requesterID string, q audit.Query) (events []audit.Event, err error) {
	ctx, done := e.startOp(ctx, "security_events")
	defer func() { done(err) }()

	requester, err := e.loadIdentity(ctx, requesterID)
	if errors.Is(err, ErrIdentityNotFound) {
		return nil, classErr(ErrPermissionDenied, err)
	}
	if err != nil {
		return nil, err
	}
	if requester.Role != store.RoleAdmin {
		if q.IdentityID != "" && q.IdentityID != requesterID {
			return nil, ErrPermissionDenied
		}
		q.IdentityID = requesterID
	}
	if q.Action != "" && !q.Action.Valid() {
		return nil, classErr(ErrInputRejected, errors.New("unknown audit action"))
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, classErr(ErrInputRejected, errors.New("unknown audit status"))
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && !q.Since.Before(q.Until) {
		return nil, classErr(ErrInputRejected, errors.New("since must be before until"))
	}

	events, err = e.store.QueryAuditEvents(ctx, q.Normalized())
	if err != nil {
		return nil, internalErr("query audit events", err)
	}
	return events, nil
}
