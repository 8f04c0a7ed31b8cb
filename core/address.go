package core

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

// Curve is the named elliptic curve used for every address and signature in
// this chain. Spec.md pins NIST P-192; crypto/elliptic does not implement
// P-192, so P-224 is used instead as the nearest available NIST curve. This
// substitution is deliberate and pinned here rather than left to guesswork
// (see DESIGN.md Open Question decisions).
func Curve() elliptic.Curve {
	return elliptic.P224()
}

// KeyPair is an ECDSA signing key together with its hex-encoded address.
// The address is the uncompressed public key bytes, hex-encoded — its
// length is determined by the curve (addr_len in spec.md §3).
type KeyPair struct {
	Private *ecdsa.PrivateKey
	Address string
}

// NewKeyPair generates a fresh keypair on Curve().
func NewKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(Curve(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("address: generate key: %w", err)
	}
	return keyPairFromPrivate(priv), nil
}

// DeriveFromSeed deterministically derives a keypair from an arbitrary seed
// string. This mirrors the original prototype's convenience of bootstrapping
// demo addresses from short seeds like "0", "1", "2" (see scenario S2 in
// spec.md §8): the seed is hashed to fill the curve's private scalar via
// rejection-free reduction, which is adequate for a demo/test keypair but is
// not meant to be a general-purpose key-derivation function.
func DeriveFromSeed(seed string) (*KeyPair, error) {
	curve := Curve()
	order := curve.Params().N

	h := sha256.Sum256([]byte(seed))
	d := new(big.Int).SetBytes(h[:])
	d.Mod(d, new(big.Int).Sub(order, big.NewInt(1)))
	d.Add(d, big.NewInt(1)) // land in [1, N-1]

	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = curve
	priv.D = d
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(d.Bytes())
	return keyPairFromPrivate(priv), nil
}

func keyPairFromPrivate(priv *ecdsa.PrivateKey) *KeyPair {
	addr := AddressFromPublicKey(&priv.PublicKey)
	return &KeyPair{Private: priv, Address: addr}
}

// AddressFromPublicKey hex-encodes the uncompressed public key bytes.
func AddressFromPublicKey(pub *ecdsa.PublicKey) string {
	return hex.EncodeToString(elliptic.Marshal(pub.Curve, pub.X, pub.Y))
}

// PublicKeyFromAddress reverses AddressFromPublicKey, returning an error for
// any malformed input. It never panics.
func PublicKeyFromAddress(addr string) (*ecdsa.PublicKey, error) {
	raw, err := hex.DecodeString(addr)
	if err != nil {
		return nil, fmt.Errorf("address: malformed hex: %w", err)
	}
	curve := Curve()
	x, y := elliptic.Unmarshal(curve, raw)
	if x == nil {
		return nil, errors.New("address: malformed point")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// Sign produces a hex-encoded ECDSA signature over msg.
func Sign(priv *ecdsa.PrivateKey, msg string) (string, error) {
	digest := sha256.Sum256([]byte(msg))
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return "", fmt.Errorf("address: sign: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// Verify returns false for any malformed input; it never panics or returns
// an error to its caller, per spec.md §4.A.
func Verify(addr, msg, sigHex string) bool {
	pub, err := PublicKeyFromAddress(addr)
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	digest := sha256.Sum256([]byte(msg))
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}
