package peripheral

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// sigBaseSuffix is the Bluetooth SIG base UUID without its 32-bit prefix
// (xxxxxxxx-0000-1000-8000-00805f9b34fb).
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the compact form: lowercase, no dashes,
// no 0x prefix. UUIDs in Bluetooth SIG base format collapse to their 16-bit alias
// ("0000180d-0000-1000-8000-00805f9b34fb" -> "180d").
// Returns "" if the input is not a 16, 32 or 128-bit hex UUID.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	switch len(s) {
	case 4, 8, 32:
	default:
		return ""
	}
	if _, err := hex.DecodeString(s); err != nil {
		return ""
	}

	if len(s) == 32 && strings.HasSuffix(s, sigBaseSuffix) {
		short := s[:8]
		if strings.HasPrefix(short, "0000") {
			return short[4:]
		}
		return short
	}
	return s
}

// CanonicalUUID expands a UUID to the dashed 128-bit textual form understood by
// every stack ("2a37" -> "00002a37-0000-1000-8000-00805f9b34fb").
func CanonicalUUID(uuid string) (string, error) {
	n := NormalizeUUID(uuid)
	switch len(n) {
	case 4:
		n = "0000" + n + sigBaseSuffix
	case 8:
		n = n + sigBaseSuffix
	case 32:
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidUUID, uuid)
	}
	return n[0:8] + "-" + n[8:12] + "-" + n[12:16] + "-" + n[16:20] + "-" + n[20:32], nil
}

// ValidateUUID validates that UUID strings are non-empty and well-formed.
// Returns the canonical 128-bit forms, in order.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, uuid := range uuids {
		if uuid == "" {
			return nil, fmt.Errorf("%w: UUID at index %d cannot be empty", ErrInvalidUUID, i)
		}
		canonical, err := CanonicalUUID(uuid)
		if err != nil {
			return nil, fmt.Errorf("UUID at index %d: %w", i, err)
		}
		result = append(result, canonical)
	}
	return result, nil
}
