package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content fingerprints.
// Version suffix enables future algorithm migration.
const (
	DomainCheckpoint = "flowstate/checkpoint/v1"
	DomainFlowState  = "flowstate/flow-state/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint computes the content hash of a whole checkpoint record.
// Two records with the same fingerprint serialize to identical blobs.
func Fingerprint(c *Checkpoint) (string, error) {
	canonical, err := MarshalCanonical(c)
	if err != nil {
		return "", fmt.Errorf("Fingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCheckpoint, canonical), nil
}

// FlowStateFingerprint hashes only the rollback-able flow state. The
// pipeline driver compares it before and after a rollback.
func FlowStateFingerprint(s *FlowState) (string, error) {
	canonical, err := MarshalCanonical(s)
	if err != nil {
		return "", fmt.Errorf("FlowStateFingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainFlowState, canonical), nil
}

// MustFingerprint is like Fingerprint but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFingerprint(c *Checkpoint) string {
	fp, err := Fingerprint(c)
	if err != nil {
		panic(err)
	}
	return fp
}
