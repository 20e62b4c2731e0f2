package session

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// StaffClaims is the identity envelope carried by a staff access token.
type StaffClaims struct {
	UserID       string
	Name         string
	Role         string
	RestaurantID string
	ExpiresAt    time.Time
	IssuedAt     time.Time
	Issuer       string
}

// AccessTokenManager issues and verifies staff access tokens.
type AccessTokenManager interface {
	Issue(claims StaffClaims, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (StaffClaims, error)
	PublicKeyHex() string
}

type pasetoV4PublicManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret  paseto.V4AsymmetricSecretKey
	canSign bool
	public  paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicManager builds an AccessTokenManager based on PASETO v4.public.
//
// The secret key enables Issue; the public key alone is enough for Verify.
// When both are set they must belong to the same keypair.
func NewPasetoV4PublicManager(cfg Config) (AccessTokenManager, error) {
	m := &pasetoV4PublicManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
	}
	if m.ttl <= 0 {
		m.ttl = DefaultConfig().AccessTokenTTL
	}

	if cfg.PasetoV4SecretKeyHex != "" {
		secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
		m.secret = secret
		m.canSign = true
		m.public = secret.Public()
	}

	if cfg.PasetoV4PublicKeyHex != "" {
		public, err := paseto.NewV4AsymmetricPublicKeyFromHex(cfg.PasetoV4PublicKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
		if m.canSign && public.ExportHex() != m.public.ExportHex() {
			return nil, ErrConfig
		}
		m.public = public
	} else if !m.canSign {
		return nil, ErrConfig
	}

	return m, nil
}

func (m *pasetoV4PublicManager) PublicKeyHex() string {
	return m.public.ExportHex()
}

func (m *pasetoV4PublicManager) Issue(c StaffClaims, now time.Time) (string, time.Time, error) {
	if !m.canSign {
		return "", time.Time{}, ErrSigningDisabled
	}
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetSubject(c.UserID)

	_ = tok.Set("uid", c.UserID)
	_ = tok.Set("name", c.Name)
	_ = tok.Set("role", c.Role)
	_ = tok.Set("rid", c.RestaurantID)

	return tok.V4Sign(m.secret, nil), exp, nil
}

func (m *pasetoV4PublicManager) Verify(token string, now time.Time) (StaffClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return StaffClaims{}, ErrInvalidToken
	}

	// Validate slightly in the future so "nbf" tolerates clock differences between issuer and server.
	validNow := now.Add(m.clockSkew)

	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return StaffClaims{}, ErrInvalidToken
	}

	iss, _ := parsed.GetIssuer()
	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()

	out := StaffClaims{ExpiresAt: exp, IssuedAt: iat, Issuer: iss}
	for _, f := range []struct {
		claim string
		dst   *string
	}{
		{"uid", &out.UserID},
		{"role", &out.Role},
		{"rid", &out.RestaurantID},
	} {
		v, err := parsed.GetString(f.claim)
		if err != nil || strings.TrimSpace(v) == "" {
			return StaffClaims{}, ClaimError{Claim: f.claim}
		}
		*f.dst = v
	}
	out.Name, _ = parsed.GetString("name")

	return out, nil
}
