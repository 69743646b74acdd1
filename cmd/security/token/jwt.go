package token

import (
	"crypto"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"bookshelf/cmd/internal/auth/autherr"
)

type jwtAccessClaims struct {
	jwt.RegisteredClaims
	SessionID string   `json:"sid"`
	Roles     []string `json:"roles,omitempty"`
}

type jwtIssuer struct {
	cfg IssuerConfig

	method     jwt.SigningMethod
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
}

// NewJWTIssuer builds an AccessIssuer signing JWTs with privateKey.
// The algorithm follows the key type: RS256, ES256/ES384 or EdDSA.
// publicKey may be nil, in which case privateKey.Public() is used.
func NewJWTIssuer(cfg IssuerConfig, privateKey crypto.Signer, publicKey crypto.PublicKey) (AccessIssuer, error) {
	const op = "token.NewJWTIssuer"
	if privateKey == nil {
		return nil, autherr.Wrap(autherr.Signing, op, "jwt private key missing", ErrInvalidKey)
	}
	if publicKey == nil {
		publicKey = privateKey.Public()
	}
	alg := KeyAlg(privateKey.Public())
	if alg == "" || alg != KeyAlg(publicKey) {
		return nil, autherr.Wrap(autherr.Signing, op, "jwt key type unsupported or mismatched", ErrInvalidKey)
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, autherr.Wrap(autherr.Signing, op, "jwt algorithm unavailable", ErrInvalidKey)
	}
	return &jwtIssuer{
		cfg:        cfg.withDefaults(),
		method:     method,
		privateKey: privateKey,
		publicKey:  publicKey,
	}, nil
}

// NewJWTIssuerFromPEM loads keys with ParsePrivateKey/ParsePublicKey.
// publicPEM may be empty.
func NewJWTIssuerFromPEM(cfg IssuerConfig, privatePEM, publicPEM string) (AccessIssuer, error) {
	priv, err := ParsePrivateKey(privatePEM)
	if err != nil {
		return nil, autherr.Wrap(autherr.Signing, "token.NewJWTIssuerFromPEM", "jwt private key unusable", err)
	}
	var pub crypto.PublicKey
	if publicPEM != "" {
		pub, err = ParsePublicKey(publicPEM)
		if err != nil {
			return nil, autherr.Wrap(autherr.Signing, "token.NewJWTIssuerFromPEM", "jwt public key unusable", err)
		}
	}
	return NewJWTIssuer(cfg, priv, pub)
}

func (p *jwtIssuer) Format() string { return FormatJWT }

func (p *jwtIssuer) Issue(sub Subject, now time.Time) (string, time.Time, error) {
	const op = "token.jwt.Issue"
	if !validSubject(sub) {
		return "", time.Time{}, autherr.New(autherr.Signing, op, "missing subject")
	}
	exp := now.Add(p.cfg.TTL)

	claims := jwtAccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.UserID,
			Issuer:    p.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		SessionID: sub.SessionID,
		Roles:     copyRoles(sub.Roles),
	}
	if p.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{p.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(p.method, claims).SignedString(p.privateKey)
	if err != nil {
		return "", time.Time{}, autherr.Wrap(autherr.Signing, op, "sign access token", err)
	}
	return signed, exp, nil
}

func (p *jwtIssuer) Verify(raw string, now time.Time) (AccessClaims, error) {
	const op = "token.jwt.Verify"

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{p.method.Alg()}),
		jwt.WithIssuer(p.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if p.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(p.cfg.Audience))
	}

	var claims jwtAccessClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return p.publicKey, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return AccessClaims{}, invalidToken(op)
	}

	// nbf is left to the parser; tokens minted here never carry one.
	var iat, exp time.Time
	if claims.IssuedAt != nil {
		iat = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	if !checkTimes(iat, time.Time{}, exp, now, p.cfg.ClockSkew) {
		return AccessClaims{}, invalidToken(op)
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return AccessClaims{}, invalidToken(op)
	}

	return AccessClaims{
		UserID:    claims.Subject,
		SessionID: claims.SessionID,
		Roles:     claims.Roles,
		IssuedAt:  iat,
		ExpiresAt: exp,
		Issuer:    claims.Issuer,
	}, nil
}
