package token

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"bookshelf/cmd/internal/auth/autherr"
)

type pasetoV4Issuer struct {
	cfg IssuerConfig

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4Issuer builds an AccessIssuer based on PASETO v4.public (Ed25519).
// secretHex is the hex-encoded 64-byte Ed25519 secret key.
func NewPasetoV4Issuer(cfg IssuerConfig, secretHex string) (AccessIssuer, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(secretHex)
	if err != nil {
		return nil, autherr.Wrap(autherr.Signing, "token.NewPasetoV4Issuer", "paseto secret key unusable", ErrInvalidKey)
	}
	return &pasetoV4Issuer{
		cfg:    cfg.withDefaults(),
		secret: secret,
		public: secret.Public(),
	}, nil
}

// NewEphemeralPasetoV4Issuer generates a throwaway keypair. Tokens it issues do not
// survive a restart; meant for in-memory dev mode and tests.
func NewEphemeralPasetoV4Issuer(cfg IssuerConfig) AccessIssuer {
	secret := paseto.NewV4AsymmetricSecretKey()
	return &pasetoV4Issuer{
		cfg:    cfg.withDefaults(),
		secret: secret,
		public: secret.Public(),
	}
}

// GeneratePasetoV4SecretHex returns a fresh hex-encoded v4 secret key.
func GeneratePasetoV4SecretHex() string {
	return paseto.NewV4AsymmetricSecretKey().ExportHex()
}

func (m *pasetoV4Issuer) Format() string { return FormatPaseto }

// PasetoV4PublicKeyHex derives the hex verification key for a hex secret key.
func PasetoV4PublicKeyHex(secretHex string) (string, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(secretHex)
	if err != nil {
		return "", ErrInvalidKey
	}
	return secret.Public().ExportHex(), nil
}

func (m *pasetoV4Issuer) Issue(sub Subject, now time.Time) (string, time.Time, error) {
	if !validSubject(sub) {
		return "", time.Time{}, autherr.New(autherr.Signing, "token.paseto.Issue", "missing subject")
	}
	exp := now.Add(m.cfg.TTL)

	tok := paseto.NewToken()
	tok.SetIssuer(m.cfg.Issuer)
	if m.cfg.Audience != "" {
		tok.SetAudience(m.cfg.Audience)
	}
	tok.SetSubject(sub.UserID)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	if err := tok.Set("sid", sub.SessionID); err != nil {
		return "", time.Time{}, autherr.Wrap(autherr.Signing, "token.paseto.Issue", "claims", err)
	}
	if roles := copyRoles(sub.Roles); len(roles) > 0 {
		if err := tok.Set("roles", roles); err != nil {
			return "", time.Time{}, autherr.Wrap(autherr.Signing, "token.paseto.Issue", "claims", err)
		}
	}

	return tok.V4Sign(m.secret, nil), exp, nil
}

func (m *pasetoV4Issuer) Verify(raw string, now time.Time) (AccessClaims, error) {
	const op = "token.paseto.Verify"

	// Time rules are checked against the injected clock below, not time.Now.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.cfg.Issuer))
	if m.cfg.Audience != "" {
		p.AddRule(paseto.ForAudience(m.cfg.Audience))
	}

	parsed, err := p.ParseV4Public(m.public, raw, nil)
	if err != nil {
		return AccessClaims{}, invalidToken(op)
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		return AccessClaims{}, invalidToken(op)
	}
	iat, _ := parsed.GetIssuedAt()
	nbf, _ := parsed.GetNotBefore()
	if !checkTimes(iat, nbf, exp, now, m.cfg.ClockSkew) {
		return AccessClaims{}, invalidToken(op)
	}

	uid, err := parsed.GetSubject()
	if err != nil || uid == "" {
		return AccessClaims{}, invalidToken(op)
	}
	sid, err := parsed.GetString("sid")
	if err != nil || sid == "" {
		return AccessClaims{}, invalidToken(op)
	}
	var roles []string
	if err := parsed.Get("roles", &roles); err != nil {
		roles = nil
	}
	iss, _ := parsed.GetIssuer()

	return AccessClaims{
		UserID:    uid,
		SessionID: sid,
		Roles:     roles,
		IssuedAt:  iat,
		ExpiresAt: exp,
		Issuer:    iss,
	}, nil
}
