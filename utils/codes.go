// utils/codes.go
package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// ReferralCodeLength is the length of generated referral codes.
const ReferralCodeLength = 8

// MaxReferralCodeLength bounds codes accepted from the outside world.
const MaxReferralCodeLength = 16

// no 0/O/1/I/L
const referralAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewReferralCode returns a random code from an unambiguous alphabet.
func NewReferralCode() (string, error) {
	var sb strings.Builder
	sb.Grow(ReferralCodeLength)
	max := big.NewInt(int64(len(referralAlphabet)))
	for i := 0; i < ReferralCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate referral code: %w", err)
		}
		sb.WriteByte(referralAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// NormalizeReferralCode trims and upper-cases an inbound code. It returns ""
// for values that can never match a generated code.
func NormalizeReferralCode(raw string) string {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" || len(code) > MaxReferralCodeLength {
		return ""
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '-' && r != '_' {
			return ""
		}
	}
	return code
}
