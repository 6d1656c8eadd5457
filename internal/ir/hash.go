package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainEntity     = "entmap/entity/v1"
	DomainGeneration = "entmap/generation/v1"
	DomainRecord     = "entmap/record/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EntityID computes the content-addressed ID for an entity reference.
// The ID depends only on entity type and natural key, never on attributes
// or on which record produced the entity.
func EntityID(ref EntityRef) string {
	return hashWithDomain(DomainEntity, []byte(ref.String()))
}

// ConfigDigest computes the digest of a compiled configuration's canonical
// form. Two loads of identical declarations share a digest.
func ConfigDigest(canonical []byte) string {
	return hashWithDomain(DomainGeneration, canonical)
}

// RecordDigest computes the digest of the named fields of rec. Absent and
// null fields hash alike. Two records agreeing on every named field share
// a digest regardless of their other fields.
func RecordDigest(rec Record, fields []string) (string, error) {
	obj := make(IRObject, len(fields))
	for _, f := range fields {
		obj[f] = rec.Get(f)
	}
	data, err := MarshalCanonical(obj)
	if err != nil {
		return "", err
	}
	return hashWithDomain(DomainRecord, data), nil
}
