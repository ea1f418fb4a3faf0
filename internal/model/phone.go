package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ttacon/libphonenumber"
)

// DefaultRegion is used to interpret numbers written without a country code.
const DefaultRegion = "US"

// ErrInvalidPhone is returned for input that is not a dialable number.
var ErrInvalidPhone = errors.New("invalid phone number")

// NormalizePhone returns the E.164 form of raw, which is the conversation key
// everywhere in the system.
func NormalizePhone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidPhone
	}
	if region == "" {
		region = DefaultRegion
	}
	num, err := libphonenumber.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidPhone, raw, err)
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}

// PhoneDigits strips everything but digits, for use in topic names.
func PhoneDigits(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
