package password

import (
	"errors"
	"fmt"
	"unicode"
)

// ErrPolicy is wrapped by every policy violation.
var ErrPolicy = errors.New("password policy violation")

// Policy describes the minimum strength of a new password.
type Policy struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// DefaultPolicy requires 8 characters drawn from all four classes.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      8,
		MaxLength:      256,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

// Check returns an error wrapping ErrPolicy naming the first unmet rule.
func (p Policy) Check(password string) error {
	n := len([]rune(password))
	if n < p.MinLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrPolicy, p.MinLength)
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return fmt.Errorf("%w: must be at most %d characters", ErrPolicy, p.MaxLength)
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}

	switch {
	case p.RequireUpper && !upper:
		return fmt.Errorf("%w: needs an uppercase letter", ErrPolicy)
	case p.RequireLower && !lower:
		return fmt.Errorf("%w: needs a lowercase letter", ErrPolicy)
	case p.RequireDigit && !digit:
		return fmt.Errorf("%w: needs a digit", ErrPolicy)
	case p.RequireSpecial && !special:
		return fmt.Errorf("%w: needs a special character", ErrPolicy)
	}
	return nil
}
