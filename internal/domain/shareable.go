/**
 * @description
 * Shareable id codec. A shareable id is a reversibly obfuscated encoding of an
 * aggregator account id, safe to pass through client-facing forms instead of
 * the raw account identifier. Encoding is plain base64: the goal is opacity in
 * transit, not secrecy.
 */

package domain

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidShareableID is returned when a shareable id cannot be decoded.
var ErrInvalidShareableID = errors.New("invalid shareable id")

// EncodeShareableID obfuscates an aggregator account id for client-facing use.
func EncodeShareableID(accountID string) string {
	return base64.StdEncoding.EncodeToString([]byte(accountID))
}

// DecodeShareableID recovers the aggregator account id from a shareable id.
func DecodeShareableID(shareableID string) (string, error) {
	trimmed := strings.TrimSpace(shareableID)
	if trimmed == "" {
		return "", ErrInvalidShareableID
	}
	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil || len(decoded) == 0 {
		return "", ErrInvalidShareableID
	}
	return string(decoded), nil
}
