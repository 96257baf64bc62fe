package auth

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // intentional: bitcoin-style hash160 needs ripemd160
)

// versionByte is the base58check version byte used for the 20-byte
// hash160-derived principal address (spec.md §3 "Principal address").
const versionByte = 0x00

// AddressFromPubKeyHex derives the base58-check principal address from a
// hex-encoded, compressed secp256k1 public key, the same hash160 +
// base58check scheme Bitcoin-family addresses use: ripemd160(sha256(pubkey)),
// prefixed with versionByte, suffixed with a 4-byte double-sha256 checksum.
func AddressFromPubKeyHex(pubKeyHex string) (string, error) {
	pub, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return "", err
	}
	return AddressFromPubKeyBytes(pub), nil
}

// AddressFromPubKeyBytes is the same derivation over raw public-key bytes.
func AddressFromPubKeyBytes(pub []byte) string {
	h160 := hash160(pub)
	payload := make([]byte, 0, 1+len(h160))
	payload = append(payload, versionByte)
	payload = append(payload, h160...)
	checksum := doubleSHA256(payload)[:4]
	payload = append(payload, checksum...)
	return base58.Encode(payload)
}

func hash160(b []byte) []byte {
	sum := sha256.Sum256(b)
	hasher := ripemd160.New()
	hasher.Write(sum[:])
	return hasher.Sum(nil)
}

func doubleSHA256(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}
