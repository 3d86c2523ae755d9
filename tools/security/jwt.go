package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options controls signing and TTL parameters.
type Options struct {
	Secret []byte        // HMAC secret (from ENV/KMS in production)
	Alg    string        // HS256/HS384/HS512 (default HS256)
	TTL    time.Duration // token validity (default 2h)
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Claims is the verified claim set of an access token.
type Claims struct {
	jwtlib.MapClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	if sub, ok := c.MapClaims["sub"].(string); ok {
		return sub
	}
	return ""
}

// Username returns the optional name claim, falling back to the subject.
func (c *Claims) Username() string {
	if name, ok := c.MapClaims["name"].(string); ok && name != "" {
		return name
	}
	return c.UserID()
}

// DisplayName returns the optional display_name claim, falling back to the
// username.
func (c *Claims) DisplayName() string {
	if dn, ok := c.MapClaims["display_name"].(string); ok && dn != "" {
		return dn
	}
	return c.Username()
}

// Generate signs a token for userID. Used by tests and ops tooling; the
// gateway itself only verifies.
func Generate(opts Options, userID, username string) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	if username != "" {
		claims["name"] = username
	}

	tok := jwtlib.NewWithClaims(method, claims)
	signed, err := tok.SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses and validates a token, allowing only the HMAC family.
func Verify(opts Options, token string) (*Claims, error) {
	if _, err := signingMethod(opts.Alg); err != nil {
		return nil, err
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.New("claims type mismatch")
	}
	out := &Claims{claims}
	if out.UserID() == "" {
		return nil, errors.New("token missing sub claim")
	}
	return out, nil
}

// TokenAuthenticator adapts Verify to the gateway's Authenticator contract.
type TokenAuthenticator struct {
	Opts Options
}

func (a *TokenAuthenticator) Verify(token string) (userID, username, displayName string, err error) {
	if strings.TrimSpace(token) == "" {
		return "", "", "", errors.New("missing token")
	}
	claims, err := Verify(a.Opts, token)
	if err != nil {
		return "", "", "", err
	}
	return claims.UserID(), claims.Username(), claims.DisplayName(), nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
