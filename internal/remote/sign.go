package remote

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
)

// Sign computes the request signature the provider verifies: parameters
// sorted by key, joined as key=value with '&', the secret appended with no
// separator, SHA-1, lowercase hex.
func Sign(params map[string]string, secret string) string {
	return SignString(CanonicalString(params, secret))
}

// CanonicalString builds the exact string that Sign hashes.
func CanonicalString(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	b.WriteString(secret)
	return b.String()
}

// SignString hashes an already canonicalized string.
func SignString(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
