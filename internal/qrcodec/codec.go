// Package qrcodec mints admission tokens and converts them to and from
// scannable QR payloads.
package qrcodec

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	payloadPrefix = "TKT1"
	tokenBytes    = 32
	// DefaultSize is the PNG edge length in pixels
	DefaultSize = 256
)

var (
	tokenEncoding = base64.RawURLEncoding
	tokenLength   = tokenEncoding.EncodedLen(tokenBytes)
)

// NewToken returns 256 bits of randomness, base64url encoded without padding
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return tokenEncoding.EncodeToString(b), nil
}

func checksum(token string) string {
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE([]byte(token)))
}

// Payload returns the text carried by the QR code
func Payload(token string) string {
	return payloadPrefix + ":" + token + ":" + checksum(token)
}

// Encode renders token as a PNG QR code
func Encode(token string) ([]byte, error) {
	return EncodeSize(token, DefaultSize)
}

// EncodeSize renders token as a PNG QR code of the given edge length
func EncodeSize(token string, size int) ([]byte, error) {
	if !validToken(token) {
		return nil, domain.ErrInvalidToken
	}
	png, err := qrcode.Encode(Payload(token), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render qr code: %w", err)
	}
	return png, nil
}

// Decode extracts the token from a scanned payload
func Decode(scanned string) (string, error) {
	parts := strings.Split(strings.TrimSpace(scanned), ":")
	if len(parts) != 3 || parts[0] != payloadPrefix {
		return "", domain.ErrInvalidToken
	}
	token, sum := parts[1], parts[2]
	if !validToken(token) || checksum(token) != strings.ToLower(sum) {
		return "", domain.ErrInvalidToken
	}
	return token, nil
}

func validToken(token string) bool {
	if len(token) != tokenLength {
		return false
	}
	b, err := tokenEncoding.DecodeString(token)
	return err == nil && len(b) == tokenBytes
}
