package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefix for content-addressed record identity.
// Version suffix enables future algorithm migration.
const DomainRecord = "diagrun/record/v1"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RecordID computes the content-addressed ID of a record.
// The ID covers run, scope, sequence, kind and payload, so re-emitting the
// same record (for example when replaying a stream into a store) is a no-op.
func RecordID(r Record) (string, error) {
	canonical, err := CanonicalRecord(r)
	if err != nil {
		return "", fmt.Errorf("RecordID: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}
