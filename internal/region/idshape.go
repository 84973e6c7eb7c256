package region

import (
	"strings"

	"github.com/DukeRupert/tally/internal/domain"
	"github.com/google/uuid"
)

// Shape classifies a user id by the generator that could have issued it.
// The domestic store issues auto-increment integers; the global store issues
// UUIDs. Anything else carries no information.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeNumeric
	ShapeUUID
)

// ShapeOf inspects id.
func ShapeOf(id string) Shape {
	id = strings.TrimSpace(id)
	if id == "" {
		return ShapeUnknown
	}
	if isDigits(id) {
		return ShapeNumeric
	}
	if _, err := uuid.Parse(id); err == nil {
		return ShapeUUID
	}
	return ShapeUnknown
}

// Region returns the store that issues ids of this shape.
func (s Shape) Region() (domain.Region, bool) {
	switch s {
	case ShapeNumeric:
		return domain.RegionDomestic, true
	case ShapeUUID:
		return domain.RegionGlobal, true
	}
	return "", false
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
