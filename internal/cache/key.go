// Package cache provides a content-addressed response cache with TTL,
// backed by either process memory or Redis.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Key is a deterministic fingerprint of a request's identifying parts.
type Key string

// headerSeparator joins header pairs inside the fingerprint preimage.
const headerSeparator = "\n"

// ComputeKey builds a cache key from method, path, body, and a subset of
// headers. The body is canonicalized before hashing so that JSON objects
// with identical content but different field order produce the same key.
func ComputeKey(method, path string, body []byte, headers map[string]string) Key {
	hasher := sha256.New()

	hasher.Write([]byte(strings.ToUpper(method)))
	hasher.Write([]byte(headerSeparator))
	hasher.Write([]byte(path))
	hasher.Write([]byte(headerSeparator))
	hasher.Write(canonicalizeBody(body))

	if len(headers) > 0 {
		names := make([]string, 0, len(headers))
		for name := range headers {
			names = append(names, name)
		}

		sort.Strings(names)

		for _, name := range names {
			hasher.Write([]byte(headerSeparator))
			hasher.Write([]byte(strings.ToLower(name)))
			hasher.Write([]byte(":"))
			hasher.Write([]byte(headers[name]))
		}
	}

	return Key(hex.EncodeToString(hasher.Sum(nil)))
}

// canonicalizeBody re-marshals JSON bodies through a generic tree.
// encoding/json sorts map keys on output, which gives a stable byte
// representation regardless of the producer's field order. Non-JSON
// bodies are fingerprinted as-is.
func canonicalizeBody(body []byte) []byte {
	if len(body) == 0 {
		return nil
	}

	var tree interface{}
	if err := json.Unmarshal(body, &tree); err != nil {
		return body
	}

	canonical, err := json.Marshal(tree)
	if err != nil {
		return body
	}

	return canonical
}
