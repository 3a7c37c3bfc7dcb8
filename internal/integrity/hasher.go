// Package integrity computes and verifies the canonical content hash that
// freezes a contract's terms at creation time.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Stamp serializes terms into a canonical form (recursively sorted object
// keys, compact whitespace, default JSON number formatting) and returns the
// SHA-256 hex digest over the canonical bytes together with the canonical
// content itself. It is called exactly once per contract, at creation.
func Stamp(terms interface{}) (hash string, canonical string, err error) {
	raw, err := json.Marshal(terms)
	if err != nil {
		return "", "", fmt.Errorf("failed to serialize terms: %w", err)
	}

	canonicalBytes, err := canonicalize(raw)
	if err != nil {
		return "", "", fmt.Errorf("failed to canonicalize terms: %w", err)
	}

	sum := sha256.Sum256(canonicalBytes)
	return hex.EncodeToString(sum[:]), string(canonicalBytes), nil
}

// Verify recomputes the digest of storedContent and compares it against
// storedHash. A false result is an alarm condition for the caller; it is
// never auto-repaired here.
func Verify(storedHash string, storedContent string) bool {
	sum := sha256.Sum256([]byte(storedContent))
	return hex.EncodeToString(sum[:]) == storedHash
}

// canonicalize re-encodes a JSON document with object keys sorted at every
// nesting level and no insignificant whitespace. json.Number keeps the
// original number formatting stable across decode/encode round trips.
func canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	return encodeCanonical(value)
}

func encodeCanonical(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, keyJSON...)
			buf = append(buf, ':')
			valJSON, err := encodeCanonical(v[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, valJSON...)
		}
		return append(buf, '}'), nil

	case []interface{}:
		buf := []byte{'['}
		for i, item := range v {
			if i > 0 {
				buf = append(buf, ',')
			}
			itemJSON, err := encodeCanonical(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, itemJSON...)
		}
		return append(buf, ']'), nil

	default:
		return json.Marshal(v)
	}
}
