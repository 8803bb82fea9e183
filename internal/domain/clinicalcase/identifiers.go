package clinicalcase

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// NewPatientID returns PAT- followed by 8 uppercase hex digits.
func NewPatientID() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate patient id: %w", err)
	}
	return "PAT-" + strings.ToUpper(hex.EncodeToString(b[:])), nil
}

// NewHospitalID returns prefix-NNNN, where prefix is three uppercase
// letters and NNNN is zero padded.
func NewHospitalID(prefix string) (string, error) {
	prefix = strings.ToUpper(prefix)
	if !validHospitalPrefix(prefix) {
		return "", fmt.Errorf("hospital id prefix must be three letters, got %q", prefix)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("generate hospital id: %w", err)
	}
	return fmt.Sprintf("%s-%04d", prefix, n.Int64()), nil
}

func validHospitalPrefix(p string) bool {
	if len(p) != 3 {
		return false
	}
	for _, r := range p {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
