package trustcore

import (
	"context"
	"strings"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/store"
	"github.com/MrEthical07/trustcore/totp"
)

// EnrollMFA generates a fresh secret and stores it as pending. Calling it
// again before verification replaces the pending secret.
func (e *Engine) EnrollMFA(ctx context.Context, identityID string) (out *MFAEnrollment, err error) {
	ctx, done := e.startOp(ctx, "enroll_mfa")
	defer func() { done(err) }()

	var enrollment totp.Enrollment
	_, err = e.mutateIdentity(ctx, identityID, func(i *store.Identity) error {
		if i.MFAEnabled {
			return classErr(ErrAlreadyInState, ErrMFAAlreadyEnabled)
		}
		var genErr error
		enrollment, genErr = e.totp.Generate(i.Email)
		if genErr != nil {
			return internalErr("generate totp secret", genErr)
		}
		i.MFASecret = enrollment.Secret
		i.MFALastStep = 0
		i.MFAEnrollStep = 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &MFAEnrollment{
		Secret: enrollment.Secret,
		URI:    enrollment.URI,
		QRCode: enrollment.QRCode,
	}, nil
}

// VerifyMFAEnrollment enables MFA once a code from the pending secret
// checks out. A failed code leaves the secret pending. On an identity that
// already has MFA on, a valid code succeeds without changing anything else.
//
// Enrollment codes are replay-checked against MFAEnrollStep only, so the
// login that usually follows can present a code from the same step.
func (e *Engine) VerifyMFAEnrollment(ctx context.Context, identityID, code string) (err error) {
	ctx, done := e.startOp(ctx, "verify_mfa_enrollment")
	defer func() { done(err) }()

	code = strings.TrimSpace(code)
	if !e.codeWellFormed(code) {
		return classErr(ErrInputRejected, ErrMalformedCode)
	}
	identity, err := e.loadIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if identity.MFASecret == "" {
		return classErr(ErrInputRejected, ErrMFANotEnrolled)
	}

	step, ok, err := e.totp.Verify(identity.MFASecret, code)
	if err != nil {
		return internalErr("verify totp", err)
	}
	if !ok {
		e.record(ctx, audit.Event{
			IdentityID: identityID,
			Action:     audit.ActionMFAEnable,
			Status:     audit.StatusFailure,
			Details:    map[string]any{"reason": "invalid-code"},
		})
		return classErr(ErrMFAInvalid, ErrInvalidCode)
	}

	secret := identity.MFASecret
	var wasEnabled bool
	_, err = e.mutateIdentity(ctx, identityID, func(i *store.Identity) error {
		if i.MFASecret != secret {
			return classErr(ErrMFAInvalid, ErrInvalidCode)
		}
		if step <= i.MFAEnrollStep {
			return classErr(ErrMFAInvalid, ErrMFAReplay)
		}
		wasEnabled = i.MFAEnabled
		i.MFAEnabled = true
		i.MFAEnrollStep = step
		return nil
	})
	if err != nil {
		return err
	}

	if !wasEnabled {
		e.record(ctx, audit.Event{
			IdentityID: identityID,
			Action:     audit.ActionMFAEnable,
			Status:     audit.StatusSuccess,
		})
	}
	return nil
}
