package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DukeRupert/tally/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrTokenMissing is returned for an empty token.
	ErrTokenMissing = errors.New("token is required")

	// ErrSubjectMissing is returned for a valid token without a subject.
	ErrSubjectMissing = errors.New("token has no subject")
)

// Claims are the JWT claims issued by the account service.
type Claims struct {
	// Region is the store the account service created the user in.
	Region string `json:"region,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 bearer tokens.
type Verifier struct {
	secret []byte
	clock  clockwork.Clock
}

// NewVerifier creates a Verifier for tokens signed with secret.
func NewVerifier(secret string, clock clockwork.Clock) *Verifier {
	return &Verifier{secret: []byte(secret), clock: clock}
}

// Verify parses and validates token. An unrecognized region claim is
// treated as absent rather than rejected so that older tokens keep working.
func (v *Verifier) Verify(token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMissing
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (any, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
			}
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("token is invalid")
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, ErrSubjectMissing
	}

	r, _ := domain.ParseRegion(claims.Region)
	return &Identity{UserID: subject, Region: r}, nil
}

// Issue signs a token for userID. The account service owns issuance in
// production; this exists for tooling and tests.
func (v *Verifier) Issue(userID string, region domain.Region, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	claims := Claims{
		Region: string(region),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
