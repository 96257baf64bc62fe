package auth

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/golang-jwt/jwt/v4"
)

// SigningMethodES256K verifies JWS compact tokens signed with ECDSA over
// secp256k1 and SHA-256 (spec.md §9: "ES256K over JWT-like tokens with
// base64url payloads is the wire contract"). It is registered with the
// golang-jwt registry the way the teacher's authn package registers/uses
// HMAC-backed tokens in authn/utils.go — same library, different algorithm,
// because the teacher never needed asymmetric verification. Only
// verification is implemented: spec.md §1 places token *signing* with the
// client, out of scope here.
type es256kSigningMethod struct{}

// SigningMethodES256K is the package-level instance registered under "ES256K".
var SigningMethodES256K = &es256kSigningMethod{}

func init() {
	jwt.RegisterSigningMethod("ES256K", func() jwt.SigningMethod { return SigningMethodES256K })
}

func (m *es256kSigningMethod) Alg() string { return "ES256K" }

// Sign is intentionally unimplemented: this gateway only verifies tokens.
func (m *es256kSigningMethod) Sign(string, interface{}) (string, error) {
	return "", errors.New("es256k: signing not supported, verification only")
}

// Verify checks sig (the raw, unpadded-base64url-decoded r||s signature
// bytes, JWT convention — not ASN.1 DER) against signingString using the
// secp256k1 public key supplied in key.
func (m *es256kSigningMethod) Verify(signingString, sig string, key interface{}) error {
	var pub *ecdsa.PublicKey
	switch k := key.(type) {
	case *ecdsa.PublicKey:
		pub = k
	case string:
		parsed, err := PubKeyFromHex(k)
		if err != nil {
			return err
		}
		pub = parsed
	default:
		return errors.New("es256k: unsupported key type for Verify")
	}

	sigBytes, err := jwt.DecodeSegment(sig)
	if err != nil {
		return err
	}
	if len(sigBytes) != 64 {
		return errors.New("es256k: signature must be 64 raw bytes (r||s)")
	}
	r := new(big.Int).SetBytes(sigBytes[:32])
	s := new(big.Int).SetBytes(sigBytes[32:])

	hash := sha256.Sum256([]byte(signingString))
	if !ecdsa.Verify(pub, hash[:], r, s) {
		return errors.New("es256k: signature verification failed")
	}
	return nil
}

// PubKeyFromHex parses a compressed or uncompressed hex-encoded secp256k1
// public key into a stdlib-compatible *ecdsa.PublicKey.
func PubKeyFromHex(pubKeyHex string) (*ecdsa.PublicKey, error) {
	raw, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return nil, err
	}
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, err
	}
	return pub.ToECDSA(), nil
}
