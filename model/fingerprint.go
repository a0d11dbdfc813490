package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText applies Unicode NFC and collapses every whitespace run to a
// single space, so layout-only differences in extracted text do not change
// the fingerprint.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(norm.NFC.String(text)), " ")
}

// Fingerprint is the hex SHA-256 of the normalized text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}
