// Package keycodec implements the canonical key encoding: the chain
// emits composite storage keys as base64 of raw bytes, and the store
// keeps a comma-separated decimal byte list so keys sort and
// prefix-match byte-for-byte without re-decoding base64 on every
// comparison.
package keycodec

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Base64ToEventKey decodes base64-encoded key bytes into the stored
// canonical comma-separated decimal form.
func Base64ToEventKey(b64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode base64 key: %w", err)
	}
	return BytesToEventKey(raw), nil
}

// EventKeyToBase64 is the inverse of Base64ToEventKey: it parses the
// canonical decimal-byte form back to raw bytes and re-encodes as base64.
// Base64ToEventKey(EventKeyToBase64(k)) == k for every canonical k.
func EventKeyToBase64(key string) (string, error) {
	raw, err := EventKeyToBytes(key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// BytesToEventKey renders raw bytes as the canonical decimal-byte form.
func BytesToEventKey(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	parts := make([]string, len(raw))
	for i, b := range raw {
		parts[i] = strconv.Itoa(int(b))
	}
	return strings.Join(parts, ",")
}

// EventKeyToBytes parses the canonical decimal-byte form back to raw bytes.
func EventKeyToBytes(key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	segs := strings.Split(key, ",")
	out := make([]byte, len(segs))
	for i, s := range segs {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || n > 255 {
			return nil, fmt.Errorf("invalid byte segment %q in key", s)
		}
		out[i] = byte(n)
	}
	return out, nil
}

// HasPrefix reports whether the canonical key k starts with the canonical
// prefix p, byte-wise (not string-wise: "1,23" must not match prefix "1,2").
func HasPrefix(key, prefix string) bool {
	if prefix == "" {
		return true
	}
	if key == prefix {
		return true
	}
	return strings.HasPrefix(key, prefix+",")
}
