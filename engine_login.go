package trustcore

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/jwt"
	"github.com/MrEthical07/trustcore/lockout"
	"github.com/MrEthical07/trustcore/metrics"
	"github.com/MrEthical07/trustcore/store"
)

// Login checks email and password.
//
// The checks run in a fixed order: identity lookup, active lock, active
// flag, then the password. A locked identity is rejected before the
// password is compared. A wrong password increments the failure counter
// with a conditional update and may trip the lock; the tripping attempt
// itself still fails with ErrCredentialsInvalid. With MFA enabled a correct
// password yields a pending token and leaves the counter untouched;
// otherwise the counter and lock are cleared, tokens are issued and a
// session is created.
func (e *Engine) Login(ctx context.Context, email, pass string) (res *LoginResult, err error) {
	ctx, done := e.startOp(ctx, "login")
	defer func() { done(err) }()

	identity, err := e.store.FindByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, store.ErrNotFound) {
		e.metrics.Inc(metrics.LoginFailure)
		e.record(ctx, audit.Event{
			Action:  audit.ActionFailedLogin,
			Status:  audit.StatusFailure,
			Details: map[string]any{"reason": "not-found", "email": email},
		})
		return nil, classErr(ErrCredentialsInvalid, ErrIdentityNotFound)
	}
	if err != nil {
		return nil, internalErr("find identity", err)
	}

	now := e.clock.Now()
	if lockout.IsLocked(identity.LockUntil, now) {
		e.metrics.Inc(metrics.LoginLocked)
		e.record(ctx, audit.Event{
			IdentityID: identity.ID,
			Action:     audit.ActionFailedLogin,
			Status:     audit.StatusFailure,
			Details:    map[string]any{"reason": "account-locked", "locked_until": *identity.LockUntil},
		})
		return nil, &LockedError{Until: *identity.LockUntil}
	}
	if !identity.Active {
		e.metrics.Inc(metrics.LoginFailure)
		e.record(ctx, audit.Event{
			IdentityID: identity.ID,
			Action:     audit.ActionFailedLogin,
			Status:     audit.StatusFailure,
			Details:    map[string]any{"reason": "account-inactive"},
		})
		return nil, classErr(ErrCredentialsInvalid, ErrIdentityInactive)
	}

	ok, err := e.hasher.Verify(pass, identity.PasswordHash)
	if err != nil {
		return nil, internalErr("verify password", err)
	}
	if !ok {
		return nil, e.registerPasswordFailure(ctx, identity.ID)
	}

	upgraded := e.upgradedHash(identity, pass)

	if identity.MFAEnabled {
		if upgraded != "" {
			e.storeUpgradedHash(ctx, identity.ID, identity.PasswordHash, upgraded)
		}
		pending, err := e.tokens.Issue(subjectOf(identity), jwt.KindMFAPending)
		if err != nil {
			return nil, internalErr("issue pending token", err)
		}
		e.metrics.Inc(metrics.MFARequired)
		return &LoginResult{
			Status:           LoginRequiresMFA,
			PendingToken:     pending.Value,
			PendingExpiresAt: pending.ExpiresAt,
		}, nil
	}

	return e.completeLogin(ctx, identity, map[string]any{"mfa": false}, func(i *store.Identity) error {
		if upgraded != "" && i.PasswordHash == identity.PasswordHash {
			i.PasswordHash = upgraded
		}
		return nil
	})
}

// registerPasswordFailure counts one wrong password against id.
func (e *Engine) registerPasswordFailure(ctx context.Context, id string) error {
	now := e.clock.Now()
	var tripped bool
	updated, err := e.mutateIdentity(ctx, id, func(i *store.Identity) error {
		var next lockout.State
		next, tripped = e.lockout.RegisterFailure(lockout.State{
			FailedAttempts: i.FailedLoginAttempts,
			LockUntil:      i.LockUntil,
		}, now)
		i.FailedLoginAttempts = next.FailedAttempts
		i.LockUntil = next.LockUntil
		return nil
	})
	if err != nil {
		return err
	}

	e.metrics.Inc(metrics.LoginFailure)
	e.record(ctx, audit.Event{
		IdentityID: id,
		Action:     audit.ActionFailedLogin,
		Status:     audit.StatusFailure,
		Details:    map[string]any{"reason": "invalid-password", "attempts": updated.FailedLoginAttempts},
	})
	if tripped {
		e.metrics.Inc(metrics.LockoutTriggered)
		e.record(ctx, audit.Event{
			IdentityID: id,
			Action:     audit.ActionAccountLock,
			Resource:   "user:" + id,
			Status:     audit.StatusWarning,
			Details: map[string]any{
				"reason":       "failed-attempts",
				"attempts":     updated.FailedLoginAttempts,
				"locked_until": *updated.LockUntil,
			},
		})
		e.logger.Info("account locked",
			slog.String("identity_id", id),
			slog.Int("attempts", updated.FailedLoginAttempts),
		)
	}
	return classErr(ErrCredentialsInvalid, errWrongPassword)
}

var errWrongPassword = errors.New("password mismatch")

// upgradedHash returns a fresh hash of pass when the stored one was made
// with outdated parameters, or "" when no upgrade is due or possible.
func (e *Engine) upgradedHash(identity *store.Identity, pass string) string {
	if !e.config.Password.UpgradeOnLogin {
		return ""
	}
	need, err := e.hasher.NeedsUpgrade(identity.PasswordHash)
	if err != nil || !need {
		return ""
	}
	fresh, err := e.hasher.Hash(pass)
	if err != nil {
		e.logger.Warn("password rehash failed", slog.String("identity_id", identity.ID), slog.Any("error", err))
		return ""
	}
	return fresh
}

func (e *Engine) storeUpgradedHash(ctx context.Context, id, old, fresh string) {
	_, err := e.mutateIdentity(ctx, id, func(i *store.Identity) error {
		if i.PasswordHash != old {
			return errSkipWrite
		}
		i.PasswordHash = fresh
		return nil
	})
	if err != nil {
		e.logger.Warn("password rehash not stored", slog.String("identity_id", id), slog.Any("error", err))
		return
	}
	e.metrics.Inc(metrics.PasswordRehashed)
}

// VerifyMFALogin completes a login that returned LoginRequiresMFA. A wrong
// code is logged as a failed login but never counts toward the lockout.
func (e *Engine) VerifyMFALogin(ctx context.Context, pendingToken, code string) (res *LoginResult, err error) {
	ctx, done := e.startOp(ctx, "verify_mfa_login")
	defer func() { done(err) }()

	claims, err := e.tokens.VerifyKind(pendingToken, jwt.KindMFAPending)
	if err != nil {
		return nil, classErr(ErrTokenInvalid, errors.Join(ErrInvalidPendingToken, err))
	}
	code = strings.TrimSpace(code)
	if !e.codeWellFormed(code) {
		return nil, classErr(ErrInputRejected, ErrMalformedCode)
	}

	identity, err := e.store.FindByID(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, classErr(ErrTokenInvalid, ErrInvalidPendingToken)
	}
	if err != nil {
		return nil, internalErr("load identity", err)
	}
	if !identity.MFAEnabled || identity.MFASecret == "" {
		return nil, classErr(ErrTokenInvalid, ErrInvalidPendingToken)
	}

	step, ok, err := e.totp.Verify(identity.MFASecret, code)
	if err != nil {
		return nil, internalErr("verify totp", err)
	}
	if !ok {
		e.metrics.Inc(metrics.MFAFailure)
		e.record(ctx, audit.Event{
			IdentityID: identity.ID,
			Action:     audit.ActionFailedLogin,
			Status:     audit.StatusFailure,
			Details:    map[string]any{"reason": "invalid-mfa"},
		})
		return nil, classErr(ErrMFAInvalid, ErrInvalidCode)
	}

	secret := identity.MFASecret
	res, err = e.completeLogin(ctx, identity, map[string]any{"mfa": true}, func(i *store.Identity) error {
		if !i.MFAEnabled || i.MFASecret != secret {
			return classErr(ErrTokenInvalid, ErrInvalidPendingToken)
		}
		if step <= i.MFALastStep {
			return errMFAReplayed
		}
		i.MFALastStep = step
		return nil
	})
	if errors.Is(err, errMFAReplayed) {
		e.metrics.Inc(metrics.MFAReplay)
		e.record(ctx, audit.Event{
			IdentityID: identity.ID,
			Action:     audit.ActionFailedLogin,
			Status:     audit.StatusFailure,
			Details:    map[string]any{"reason": "mfa-replay"},
		})
		return nil, classErr(ErrMFAInvalid, ErrMFAReplay)
	}
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(metrics.MFASuccess)
	return res, nil
}

var errMFAReplayed = errors.New("totp step already accepted")

// completeLogin is the success path shared by Login and VerifyMFALogin.
// Risk is scored from snapshot, the identity as it was before this login.
func (e *Engine) completeLogin(ctx context.Context, snapshot *store.Identity, details map[string]any, extra func(*store.Identity) error) (*LoginResult, error) {
	assessment := e.score(ctx, snapshot, audit.ActionLogin)

	now := e.clock.Now()
	identity, err := e.mutateIdentity(ctx, snapshot.ID, func(i *store.Identity) error {
		if lockout.IsLocked(i.LockUntil, now) {
			return &LockedError{Until: *i.LockUntil}
		}
		if !i.Active {
			return classErr(ErrCredentialsInvalid, ErrIdentityInactive)
		}
		if extra != nil {
			if err := extra(i); err != nil {
				return err
			}
		}
		reset := e.lockout.Reset()
		i.FailedLoginAttempts = reset.FailedAttempts
		i.LockUntil = reset.LockUntil
		i.LastLogin = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	sub := subjectOf(identity)
	access, err := e.tokens.Issue(sub, jwt.KindAccess)
	if err != nil {
		return nil, internalErr("issue access token", err)
	}
	refresh, err := e.tokens.Issue(sub, jwt.KindRefresh)
	if err != nil {
		return nil, internalErr("issue refresh token", err)
	}
	sess, err := e.sessions.Create(ctx, identity.ID, refresh.Value, originFromContext(ctx), e.tokens.TTL(jwt.KindRefresh))
	if err != nil {
		return nil, internalErr("create session", err)
	}
	e.metrics.Inc(metrics.SessionCreated)
	e.metrics.Inc(metrics.LoginSuccess)

	details["session_id"] = sess.ID
	details["risk_level"] = string(assessment.Level)
	if sess.Origin.UserAgent != "" {
		details["client"] = audit.DescribeOrigin(sess.Origin)
	}
	e.record(ctx, audit.Event{
		IdentityID: identity.ID,
		Action:     audit.ActionLogin,
		Status:     audit.StatusSuccess,
		Details:    details,
	}.WithRisk(assessment.Score))

	return &LoginResult{
		Status:           LoginAuthenticated,
		AccessToken:      access.Value,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Value,
		RefreshExpiresAt: refresh.ExpiresAt,
		SessionID:        sess.ID,
		Risk:             assessment,
		Profile:          profileOf(identity),
	}, nil
}

func (e *Engine) codeWellFormed(code string) bool {
	if len(code) != e.config.TOTP.Digits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
