package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests.
// Version suffix enables future algorithm migration.
const (
	DomainDocument = "docsession/document/v1"
	DomainQuery    = "docsession/query/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SnapshotDigest returns a stable digest of a document body's canonical form.
// Equal bodies always produce equal digests, regardless of key order.
func SnapshotDigest(body IRObject) (string, error) {
	canonical, err := MarshalCanonical(body)
	if err != nil {
		return "", fmt.Errorf("SnapshotDigest: %w", err)
	}
	return hashWithDomain(DomainDocument, canonical), nil
}

// QueryDigest returns a stable digest of a compiled query: its text, its
// ordering keys and its parameters.
func QueryDigest(q CompiledQuery) (string, error) {
	ordering := make(IRArray, len(q.Ordering))
	for i, k := range q.Ordering {
		ordering[i] = IRObject{"field": IRString(k.Field), "descending": IRBool(k.Descending)}
	}
	params := make(IRObject, len(q.Parameters))
	for name, v := range q.Parameters {
		irVal, err := FromGo(v)
		if err != nil {
			return "", fmt.Errorf("QueryDigest: parameter %q: %w", name, err)
		}
		params[name] = irVal
	}

	canonical, err := MarshalCanonical(IRObject{
		"text":       IRString(q.Text),
		"ordering":   ordering,
		"parameters": params,
	})
	if err != nil {
		return "", fmt.Errorf("QueryDigest: %w", err)
	}
	return hashWithDomain(DomainQuery, canonical), nil
}

// MustSnapshotDigest is like SnapshotDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustSnapshotDigest(body IRObject) string {
	d, err := SnapshotDigest(body)
	if err != nil {
		panic(err)
	}
	return d
}
