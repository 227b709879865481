package payments

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// udfSlots is the number of user-defined fields the gateway reserves in every digest. They are always empty.
const udfSlots = 10

// RequestDigest signs an initiation request:
// sha512(key|txnid|amount|productinfo|firstname|email|udf1..udf10|salt).
func RequestDigest(key, txnID, amount, productInfo, firstName, email, salt string) string {
	parts := make([]string, 0, 7+udfSlots)
	parts = append(parts, key, txnID, amount, productInfo, firstName, email)
	for i := 0; i < udfSlots; i++ {
		parts = append(parts, "")
	}
	parts = append(parts, salt)
	return sha512Hex(strings.Join(parts, "|"))
}

// ResponseDigest recomputes the callback signature. The field order is reversed and salted first:
// sha512(salt|status|udf10..udf1||email|firstname|productinfo|amount|txnid|key).
func ResponseDigest(salt, status, email, firstName, productInfo, amount, txnID, key string) string {
	return sha512Hex(salt + "|" + status + "|||||||||||" + email + "|" + firstName + "|" + productInfo + "|" + amount + "|" + txnID + "|" + key)
}

// DigestEqual compares two hex digests in constant time, ignoring case.
func DigestEqual(expected, actual string) bool {
	a := strings.ToLower(strings.TrimSpace(expected))
	b := strings.ToLower(strings.TrimSpace(actual))
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func sha512Hex(input string) string {
	sum := sha512.Sum512([]byte(input))
	return hex.EncodeToString(sum[:])
}
