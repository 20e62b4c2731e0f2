package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned when an access token fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSigningDisabled is returned by Issue when only a public key is configured.
	ErrSigningDisabled = errors.New("token signing disabled: no secret key configured")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// ClaimError reports a token whose signature is valid but whose claims are unusable.
type ClaimError struct {
	Claim string
}

func (e ClaimError) Error() string {
	return fmt.Sprintf("%s: claim %q", ErrInvalidToken.Error(), e.Claim)
}

func (e ClaimError) Unwrap() error { return ErrInvalidToken }
