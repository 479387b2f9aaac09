package validation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// ErrInvalidCoordinates is returned for latitudes outside [-90,90], longitudes
// outside [-180,180], or non-finite values.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// ErrRegionEmpty is returned when a region name is empty or whitespace-only after trim.
var ErrRegionEmpty = errors.New("region is required")

// ErrRegionTooLong is returned when a region name exceeds the maximum length.
var ErrRegionTooLong = errors.New("region too long")

// ErrRegionInvalidChars is returned when a region name contains disallowed characters.
var ErrRegionInvalidChars = errors.New("region contains invalid characters")

// ErrDaysOutOfRange is returned for a non-positive forecast horizon.
var ErrDaysOutOfRange = errors.New("days must be at least 1")

// ValidateCoordinates checks that lat/lon lie on the globe.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return fmt.Errorf("%w: non-finite value", ErrInvalidCoordinates)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinates, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinates, lon)
	}
	return nil
}

// ValidateRegion trims the input, enforces maxLen (in runes; 0 disables), and
// restricts to letters (Unicode), digits, space, comma, hyphen, period and apostrophe
// ("St. Mary's", "Dún Laoghaire-Rathdown").
func ValidateRegion(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrRegionEmpty
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrRegionTooLong
	}
	for _, c := range r {
		if !isAllowedRegionRune(c) {
			return "", ErrRegionInvalidChars
		}
	}
	return s, nil
}

func isAllowedRegionRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

// NormalizeDays applies the request default (def when days is 0) and caps the
// horizon at max. Negative days are rejected.
func NormalizeDays(days, def, max int) (int, error) {
	if days == 0 {
		days = def
	}
	if days < 1 {
		return 0, ErrDaysOutOfRange
	}
	if max > 0 && days > max {
		days = max
	}
	return days, nil
}
