package signature

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// Digest is the hash function used by the transaction-hash scheme,
// where a provider hashes "{trans_id}-{secret}".
type Digest string

const (
	DigestMD5    Digest = "MD5"
	DigestSHA256 Digest = "SHA256"
)

// NormalizeDigest validates a configured digest name.
func NormalizeDigest(raw string) (Digest, error) {
	d := Digest(strings.ToUpper(strings.TrimSpace(raw)))
	switch d {
	case DigestMD5, DigestSHA256:
		return d, nil
	default:
		return "", fmt.Errorf("unsupported digest: %s", raw)
	}
}

// SignHMAC computes the hex HMAC-SHA256 of body under secret.
func SignHMAC(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks a supplied hex signature against the HMAC-SHA256 of the
// raw request body. Empty secret or signature never verifies.
func VerifyHMAC(body []byte, supplied, secret string) bool {
	if secret == "" || supplied == "" {
		return false
	}
	return Equal(SignHMAC(body, secret), supplied)
}

// TransactionHash computes the hex digest of "{transactionID}-{secret}".
func TransactionHash(transactionID, secret string, digest Digest) (string, error) {
	base := transactionID + "-" + secret
	switch digest {
	case DigestMD5:
		h := md5.Sum([]byte(base))
		return hex.EncodeToString(h[:]), nil
	case DigestSHA256:
		h := sha256.Sum256([]byte(base))
		return hex.EncodeToString(h[:]), nil
	default:
		return "", fmt.Errorf("unsupported digest: %s", digest)
	}
}

// VerifyTransactionHash checks a supplied hash against the digest of
// "{transactionID}-{secret}". Empty secret or hash never verifies.
func VerifyTransactionHash(transactionID, supplied, secret string, digest Digest) bool {
	if secret == "" || supplied == "" {
		return false
	}
	expected, err := TransactionHash(transactionID, secret, digest)
	if err != nil {
		return false
	}
	return Equal(expected, supplied)
}

// Equal compares two hex digests constant-time and case-insensitively.
func Equal(expectedHex, receivedHex string) bool {
	expected := strings.ToLower(strings.TrimSpace(expectedHex))
	received := strings.ToLower(strings.TrimSpace(receivedHex))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(received)) == 1
}
