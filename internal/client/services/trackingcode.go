package services

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"

	"github.com/dmitrijs2005/declaro/internal/common"
)

// TrackingAlphabet leaves out 0, O, I, L and 1, which are easy to misread.
const TrackingAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	trackingGroups    = 3
	trackingGroupSize = 4
	// MaxTrackingAttempts bounds the collision retries of NewTrackingCode.
	MaxTrackingAttempts = 10
)

var trackingCodeRe = regexp.MustCompile(`^[` + TrackingAlphabet + `]{4}-[` + TrackingAlphabet + `]{4}-[` + TrackingAlphabet + `]{4}$`)

// ValidTrackingCode reports whether code has the XXXX-XXXX-XXXX shape.
func ValidTrackingCode(code string) bool {
	return trackingCodeRe.MatchString(code)
}

func randomTrackingCode() (string, error) {
	max := big.NewInt(int64(len(TrackingAlphabet)))
	buf := make([]byte, 0, trackingGroups*(trackingGroupSize+1))
	for g := 0; g < trackingGroups; g++ {
		if g > 0 {
			buf = append(buf, '-')
		}
		for i := 0; i < trackingGroupSize; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("tracking code: %w", err)
			}
			buf = append(buf, TrackingAlphabet[n.Int64()])
		}
	}
	return string(buf), nil
}

// NewTrackingCode returns a code not reported as taken by exists.
func NewTrackingCode(exists func(code string) bool) (string, error) {
	return newTrackingCode(randomTrackingCode, exists)
}

func newTrackingCode(gen func() (string, error), exists func(string) bool) (string, error) {
	for i := 0; i < MaxTrackingAttempts; i++ {
		code, err := gen()
		if err != nil {
			return "", err
		}
		if !exists(code) {
			return code, nil
		}
	}
	return "", common.ErrTrackingCodeExhausted
}
