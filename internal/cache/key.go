package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
)

// Key computes the fingerprint for a logical request: a SHA-256 digest
// over the client identity, the payload schema version, the request path,
// and the query parameters in sorted key order.
//
// Sorting makes the digest independent of map iteration order; changing
// any parameter, the path, or the schema version changes the key. The
// schema version exists so a client whose decode/transform shape changes
// can invalidate old-shape entries by bumping it instead of waiting out
// the TTL.
func Key(clientID, schemaVersion, path string, query map[string]string) string {
	h := sha256.New()
	_, _ = io.WriteString(h, clientID)
	_, _ = io.WriteString(h, "\x00")
	_, _ = io.WriteString(h, schemaVersion)
	_, _ = io.WriteString(h, "\x00")
	_, _ = io.WriteString(h, path)

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		_, _ = io.WriteString(h, "\x00")
		_, _ = io.WriteString(h, k)
		_, _ = io.WriteString(h, "=")
		_, _ = io.WriteString(h, query[k])
	}

	return hex.EncodeToString(h.Sum(nil))
}
