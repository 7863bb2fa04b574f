package envelope

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the canonical signing bytes for e, HMACs them with key
// under keyID, and mutates e.Auth to carry the resulting hex MAC. The
// envelope passed in is modified in place and returned for chaining.
func Sign(e *Envelope, key []byte, keyID string) (*Envelope, error) {
	msg, err := signingBytes(e)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	sum := mac.Sum(nil)

	e.Auth = &Auth{
		Algorithm: AlgorithmHMACSHA256,
		KeyID:     keyID,
		MAC:       hex.EncodeToString(sum),
	}
	return e, nil
}

// Verify reports whether e carries a MAC matching key. It returns false
// (never an error) on a missing auth block, an unrecognized algorithm,
// a malformed hex MAC, or a mismatch — the caller treats all of these
// identically as "not authentic". Comparison is constant-time.
func Verify(e *Envelope, key []byte) bool {
	if e.Auth == nil || e.Auth.MAC == "" {
		return false
	}
	if e.Auth.Algorithm != AlgorithmHMACSHA256 {
		return false
	}

	provided, err := hex.DecodeString(e.Auth.MAC)
	if err != nil {
		return false
	}

	msg, err := signingBytes(e)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	expected := mac.Sum(nil)

	return hmac.Equal(provided, expected)
}
