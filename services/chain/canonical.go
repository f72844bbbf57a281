// Package chain implements the hash-chain append algorithm and the
// integrity verifier for the security log. Each entry embeds a digest of
// its predecessor; the writer serializes appends through the store's tail
// lock, and the verifier re-walks the chain to detect splicing, truncation
// and malformed digests.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bluelight-hub/app-sub009/models"
)

const (
	// HashAlgorithmSHA256 is the only digest currently produced.
	// The per-entry hash_algorithm column allows rotation later without
	// breaking verification of older entries.
	HashAlgorithmSHA256 = "sha256"

	sha256HexLength = 64
)

// fieldAbsent encodes a nil optional field in the canonical form, so that
// "absent" and "empty string" hash differently.
const fieldAbsent = "\x00"

// canonicalBytes builds the deterministic serialization an entry's digest is
// computed over: every persisted field except current_hash, in fixed order,
// terminated by previous_hash. All hash inputs are persisted columns, so a
// verifier can re-derive the digest from storage alone.
func canonicalBytes(e *models.SecurityLogEntry) ([]byte, error) {
	meta, err := canonicalMetadata(e.Metadata)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	writeField := func(name, value string) {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(value)
		b.WriteByte('\x1f')
	}

	writeField("sequence_number", strconv.FormatInt(e.SequenceNumber, 10))
	writeField("event_type", string(e.EventType))
	writeField("severity", string(e.Severity))
	writeField("user_id", e.UserID)
	writeField("ip_address", e.IPAddress)
	writeField("user_agent", e.UserAgent)
	writeField("session_id", optionalString(e.SessionID))
	writeField("metadata", meta)
	writeField("message", optionalString(e.Message))
	writeField("created_at", e.CreatedAt.UTC().Format(time.RFC3339Nano))
	writeField("hash_algorithm", e.HashAlgorithm)
	writeField("previous_hash", e.PreviousHash)

	return []byte(b.String()), nil
}

// canonicalMetadata normalizes the metadata document to a stable form:
// sorted keys, compact encoding. The stored JSONB value may come back with
// different key order, so verification re-normalizes instead of trusting
// the raw bytes.
func canonicalMetadata(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return fieldAbsent, nil
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", fmt.Errorf("metadata is not a JSON object: %w", err)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		vb, err := json.Marshal(m[k])
		if err != nil {
			return "", fmt.Errorf("metadata value for %q is not encodable: %w", k, err)
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.String(), nil
}

func optionalString(s *string) string {
	if s == nil {
		return fieldAbsent
	}
	return *s
}

// ComputeHash returns the hex digest of the entry's canonical serialization.
func ComputeHash(e *models.SecurityLogEntry) (string, error) {
	if e.HashAlgorithm != HashAlgorithmSHA256 {
		return "", fmt.Errorf("unsupported hash algorithm: %s", e.HashAlgorithm)
	}

	data, err := canonicalBytes(e)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize entry %d: %w", e.SequenceNumber, err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ValidHashFormat reports whether hash has the length and alphabet mandated
// by the algorithm. A malformed digest is treated as a chain break even when
// linkage otherwise matches, to catch truncation and corruption.
func ValidHashFormat(hash, algorithm string) bool {
	if algorithm != HashAlgorithmSHA256 {
		return false
	}
	if len(hash) != sha256HexLength {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}
