package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/FrederickSamanga/sirkupPOS-sub001/cmd/internal/auth/session"
	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"
)

// HandshakeParams are the identity parameters a terminal supplies at connect time.
type HandshakeParams struct {
	Token        string
	UserID       string
	UserName     string
	UserRole     string
	RestaurantID string
}

// HandshakeParamsFromRequest reads handshake parameters from the query string.
// The token may instead be sent as "Authorization: Bearer <token>".
func HandshakeParamsFromRequest(r *http.Request) HandshakeParams {
	q := r.URL.Query()
	p := HandshakeParams{
		Token:        strings.TrimSpace(q.Get("token")),
		UserID:       strings.TrimSpace(q.Get("userId")),
		UserName:     strings.TrimSpace(q.Get("userName")),
		UserRole:     strings.TrimSpace(q.Get("userRole")),
		RestaurantID: strings.TrimSpace(q.Get("restaurantId")),
	}
	if p.Token == "" {
		if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			p.Token = strings.TrimSpace(h[7:])
		}
	}
	return p
}

// Authenticator turns handshake parameters into a Principal or rejects the connection.
// Errors should be *HandshakeError so the gateway can pick the HTTP status.
type Authenticator interface {
	Authenticate(ctx context.Context, p HandshakeParams) (Principal, error)
}

// ErrUnauthenticated is wrapped by handshake rejections caused by credentials.
var ErrUnauthenticated = errors.New("unauthenticated")

// HandshakeError rejects a connection before upgrade.
type HandshakeError struct {
	Status int
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("handshake rejected (%d): %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("handshake rejected (%d): %s: %v", e.Status, e.Reason, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

func unauthorized(reason string, err error) *HandshakeError {
	if err == nil {
		err = ErrUnauthenticated
	} else {
		err = fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return &HandshakeError{Status: http.StatusUnauthorized, Reason: reason, Err: err}
}

func badHandshake(reason string) *HandshakeError {
	return &HandshakeError{Status: http.StatusBadRequest, Reason: reason}
}

// TokenVerifier is the part of the identity collaborator the gateway needs.
type TokenVerifier interface {
	Verify(token string, now time.Time) (session.StaffClaims, error)
}

// TokenAuthenticator admits connections carrying a valid staff access token.
// Identity comes from the token claims. Asserted query fields must agree with them.
type TokenAuthenticator struct {
	Verifier TokenVerifier
	Now      func() time.Time
}

// Authenticate implements Authenticator.
func (a TokenAuthenticator) Authenticate(_ context.Context, p HandshakeParams) (Principal, error) {
	if a.Verifier == nil {
		return Principal{}, unauthorized("token verification unavailable", nil)
	}
	if p.Token == "" {
		return Principal{}, unauthorized("missing token", nil)
	}
	now := time.Now().UTC()
	if a.Now != nil {
		now = a.Now()
	}

	claims, err := a.Verifier.Verify(p.Token, now)
	if err != nil {
		return Principal{}, unauthorized("invalid token", err)
	}

	role, ok := v1.ParseRole(claims.Role)
	if !ok {
		return Principal{}, badHandshake("token carries unknown role")
	}

	for _, c := range []struct{ name, asserted, claimed string }{
		{"userId", p.UserID, claims.UserID},
		{"restaurantId", p.RestaurantID, claims.RestaurantID},
	} {
		if c.asserted != "" && c.asserted != c.claimed {
			return Principal{}, unauthorized(c.name+" does not match token", nil)
		}
	}
	if p.UserRole != "" {
		if r, _ := v1.ParseRole(p.UserRole); r != role {
			return Principal{}, unauthorized("userRole does not match token", nil)
		}
	}

	name := claims.Name
	if name == "" {
		name = p.UserName
	}
	return Principal{
		UserID:   claims.UserID,
		Name:     name,
		Role:     role,
		TenantID: claims.RestaurantID,
	}, nil
}

// AssertedAuthenticator trusts the identity asserted in the handshake parameters.
// Development only: anyone can claim any identity.
type AssertedAuthenticator struct{}

// Authenticate implements Authenticator.
func (AssertedAuthenticator) Authenticate(_ context.Context, p HandshakeParams) (Principal, error) {
	if p.UserID == "" {
		return Principal{}, unauthorized("missing userId", nil)
	}
	if p.RestaurantID == "" {
		return Principal{}, badHandshake("missing restaurantId")
	}
	role, ok := v1.ParseRole(p.UserRole)
	if !ok {
		return Principal{}, badHandshake("missing or unknown userRole")
	}
	name := p.UserName
	if name == "" {
		name = p.UserID
	}
	return Principal{
		UserID:   p.UserID,
		Name:     name,
		Role:     role,
		TenantID: p.RestaurantID,
	}, nil
}

// handshakeStatus maps an authentication error to the HTTP status sent before upgrade.
func handshakeStatus(err error) (int, string) {
	var he *HandshakeError
	if errors.As(err, &he) {
		return he.Status, he.Reason
	}
	return http.StatusUnauthorized, "unauthorized"
}
