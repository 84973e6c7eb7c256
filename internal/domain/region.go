package domain

import "strings"

// Region identifies which backing store owns a user's data.
type Region string

const (
	RegionDomestic Region = "domestic"
	RegionGlobal   Region = "global"
)

// Regions lists every region in a stable order.
var Regions = []Region{RegionDomestic, RegionGlobal}

// Valid reports whether r is a known region.
func (r Region) Valid() bool {
	return r == RegionDomestic || r == RegionGlobal
}

func (r Region) String() string {
	return string(r)
}

// ParseRegion normalizes free-form input ("CN", "domestic", "intl", ...) to a
// Region. The second return value is false for empty or unrecognized input.
func ParseRegion(s string) (Region, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "domestic", "cn", "china", "mainland":
		return RegionDomestic, true
	case "global", "intl", "international", "overseas":
		return RegionGlobal, true
	}
	return "", false
}
