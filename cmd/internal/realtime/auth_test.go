package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FrederickSamanga/sirkupPOS-sub001/cmd/internal/auth/session"
	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"
)

type stubVerifier struct {
	claims session.StaffClaims
	err    error
}

func (s stubVerifier) Verify(string, time.Time) (session.StaffClaims, error) {
	return s.claims, s.err
}

func TestHandshakeParamsFromRequest_BearerFallback(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/rt/ws?userId=u1&userRole=waiter&restaurantId=r1", nil)
	r.Header.Set("Authorization", "Bearer tok-123")

	p := HandshakeParamsFromRequest(r)
	if p.Token != "tok-123" || p.UserID != "u1" || p.UserRole != "waiter" || p.RestaurantID != "r1" {
		t.Fatalf("unexpected params: %+v", p)
	}
}

func TestTokenAuthenticator(t *testing.T) {
	claims := session.StaffClaims{UserID: "u1", Name: "Ana", Role: "WAITER", RestaurantID: "r1"}

	tests := []struct {
		name       string
		verifier   stubVerifier
		params     HandshakeParams
		wantStatus int
	}{
		{"ok", stubVerifier{claims: claims}, HandshakeParams{Token: "t"}, 0},
		{"ok matching assertions", stubVerifier{claims: claims}, HandshakeParams{Token: "t", UserID: "u1", RestaurantID: "r1", UserRole: "waiter"}, 0},
		{"missing token", stubVerifier{claims: claims}, HandshakeParams{}, http.StatusUnauthorized},
		{"invalid token", stubVerifier{err: session.ErrInvalidToken}, HandshakeParams{Token: "t"}, http.StatusUnauthorized},
		{"user mismatch", stubVerifier{claims: claims}, HandshakeParams{Token: "t", UserID: "u2"}, http.StatusUnauthorized},
		{"tenant mismatch", stubVerifier{claims: claims}, HandshakeParams{Token: "t", RestaurantID: "r2"}, http.StatusUnauthorized},
		{"role mismatch", stubVerifier{claims: claims}, HandshakeParams{Token: "t", UserRole: "KITCHEN"}, http.StatusUnauthorized},
		{"bad role claim", stubVerifier{claims: session.StaffClaims{UserID: "u1", Role: "CHEF", RestaurantID: "r1"}}, HandshakeParams{Token: "t"}, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := TokenAuthenticator{Verifier: tc.verifier}
			p, err := a.Authenticate(context.Background(), tc.params)
			if tc.wantStatus == 0 {
				if err != nil {
					t.Fatalf("Authenticate: %v", err)
				}
				if p.UserID != "u1" || p.TenantID != "r1" || p.Role != v1.RoleWaiter || p.Name != "Ana" {
					t.Fatalf("unexpected principal: %+v", p)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected rejection")
			}
			if status, _ := handshakeStatus(err); status != tc.wantStatus {
				t.Fatalf("status=%d want %d (%v)", status, tc.wantStatus, err)
			}
			if tc.wantStatus == http.StatusUnauthorized && !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("expected ErrUnauthenticated in chain, got %v", err)
			}
		})
	}
}

func TestAssertedAuthenticator(t *testing.T) {
	a := AssertedAuthenticator{}

	p, err := a.Authenticate(context.Background(), HandshakeParams{UserID: "u1", UserRole: "kitchen", RestaurantID: "r1"})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Role != v1.RoleKitchen || p.Name != "u1" {
		t.Fatalf("unexpected principal: %+v", p)
	}

	if _, err := a.Authenticate(context.Background(), HandshakeParams{UserID: "u1", UserRole: "KITCHEN"}); err == nil {
		t.Fatalf("expected missing restaurantId to fail")
	} else if status, _ := handshakeStatus(err); status != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", status)
	}
}
