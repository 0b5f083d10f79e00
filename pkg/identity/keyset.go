package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// KeySet signs and validates identity tokens. Administrative RPC callers
// (§6) and inter-service agent tokens both flow through a KeySet; the
// concrete key material (RSA keypair, JWKS fetch, HSM-backed signer) is
// swappable behind this port.
type KeySet interface {
	// Sign produces a compact JWT for claims using the set's signing key.
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	// KeyFunc resolves the verification key for an incoming token, keyed
	// by its "kid" header where the implementation supports rotation.
	KeyFunc() jwt.Keyfunc
}

// InMemoryKeySet is a single RSA keypair held in process memory. Intended
// for single-node deployments, tests, and local development; multi-node
// deployments should back KeySet with a shared JWKS instead.
type InMemoryKeySet struct {
	kid        string
	privateKey *rsa.PrivateKey
}

// NewInMemoryKeySet generates a fresh 2048-bit RSA keypair.
func NewInMemoryKeySet() (*InMemoryKeySet, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("identity: generating keyset: %w", err)
	}
	return &InMemoryKeySet{kid: "local-1", privateKey: key}, nil
}

func (ks *InMemoryKeySet) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = ks.kid
	return token.SignedString(ks.privateKey)
}

func (ks *InMemoryKeySet) KeyFunc() jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %v", t.Header["alg"])
		}
		return &ks.privateKey.PublicKey, nil
	}
}

var _ KeySet = (*InMemoryKeySet)(nil)
