package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// pnrAlphabet leaves out characters that are easy to misread over the phone.
const pnrAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GeneratePNR returns a random six character booking reference.
func GeneratePNR() string {
	b := make([]byte, 6)
	max := big.NewInt(int64(len(pnrAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// Fall back to a timestamp derived reference if random generation fails
			return GenerateID()
		}
		b[i] = pnrAlphabet[n.Int64()]
	}
	return string(b)
}

// GenerateID is a sortable fallback identifier.
func GenerateID() string {
	timestamp := time.Now().Unix()
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(999999))
	return fmt.Sprintf("PNR%d%06d", timestamp, randomNum.Int64())
}
