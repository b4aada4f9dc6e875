package disclosure

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/attestry/attestry/pkg/contracts"
)

// TokenIssuerName is the iss claim on proof tokens.
const TokenIssuerName = "attestry"

// ProofClaims embeds a content-free proof pack in standard JWT claims.
// The subject is the receipt id the pack attests to.
type ProofClaims struct {
	jwt.RegisteredClaims
	Pack contracts.ProofPack `json:"pack"`
}

// TokenIssuer mints portable proof tokens signed with the checkpoint key,
// so a pack can be handed to a third party and verified offline.
type TokenIssuer struct {
	key   ed25519.PrivateKey
	keyID string
	ttl   time.Duration
	now   func() time.Time
}

// NewTokenIssuer returns an issuer signing with the given Ed25519 key.
// ttl bounds token lifetime; zero or negative falls back to 24h.
func NewTokenIssuer(key ed25519.PrivateKey, keyID string, ttl time.Duration) (*TokenIssuer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("proof token key must be ed25519, got %d bytes", len(key))
	}
	if keyID == "" {
		return nil, fmt.Errorf("proof token key id is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{key: key, keyID: keyID, ttl: ttl, now: time.Now}, nil
}

// WithClock overrides the clock for testing.
func (ti *TokenIssuer) WithClock(clock func() time.Time) *TokenIssuer {
	ti.now = clock
	return ti
}

// Issue signs the proof pack as an EdDSA JWT.
func (ti *TokenIssuer) Issue(pack contracts.ProofPack) (string, error) {
	now := ti.now().UTC()
	claims := ProofClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   pack.ReceiptID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
			Issuer:    TokenIssuerName,
		},
		Pack: pack,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = ti.keyID
	return token.SignedString(ti.key)
}

// VerifyToken parses a proof token against the expected public key and
// returns the embedded claims. Any signature, expiry, or issuer problem is
// an error; a returned claims value is always valid.
func VerifyToken(tokenString string, pub ed25519.PublicKey, opts ...jwt.ParserOption) (*ProofClaims, error) {
	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(TokenIssuerName),
		jwt.WithExpirationRequired(),
	)
	token, err := jwt.ParseWithClaims(tokenString, &ProofClaims{}, func(t *jwt.Token) (interface{}, error) {
		return pub, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*ProofClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenSignatureInvalid
}
