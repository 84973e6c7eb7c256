// Package region decides which backing store is authoritative for a request.
//
// Region is a property of where a user's data lives, not of where the
// client is connecting from. The network location is only a bootstrap signal
// for requests that carry nothing better.
package region

import (
	"log/slog"

	"github.com/DukeRupert/tally/internal/domain"
	"github.com/DukeRupert/tally/internal/metrics"
)

// Source names the signal a decision was taken from.
type Source string

const (
	SourceOperator Source = "operator"
	SourceToken    Source = "token"
	SourceIDShape  Source = "id_shape"
	SourceHint     Source = "hint"
	SourceNetwork  Source = "network"
	SourceDefault  Source = "default"
)

// Signals is everything a request can tell us about its region. Zero values
// mean "absent".
type Signals struct {
	// Operator is a region chosen explicitly on an admin request. It
	// outranks every other signal.
	Operator domain.Region

	// TokenRegion is the region claim of an authenticated token.
	TokenRegion domain.Region

	// UserID is inspected for generator-specific shapes; see ShapeOf.
	UserID string

	// Hint is an explicit region supplied with the request.
	Hint domain.Region

	// ClientDomestic is the network classification of the client address,
	// nil when unknown.
	ClientDomestic *bool
}

// Decision is the resolved region and how it was reached.
type Decision struct {
	Region domain.Region
	Source Source

	// Conflict is set when a higher-precedence signal overrode a different
	// lower-precedence one that was actually present.
	Conflict bool

	// Overridden is the region the lower-precedence signals would have picked.
	Overridden domain.Region
}

// Resolve applies the precedence operator choice, token claim, user-id
// shape, request hint, network classification, then def. It never fails:
// with no usable signal the result is def, or global when def is not a valid
// region.
func Resolve(s Signals, def domain.Region) Decision {
	if !def.Valid() {
		def = domain.RegionGlobal
	}

	if s.Operator.Valid() {
		d := Decision{Region: s.Operator, Source: SourceOperator}
		rest := s
		rest.Operator = ""
		if below := Resolve(rest, def); below.Source != SourceDefault && below.Region != s.Operator {
			d.Conflict, d.Overridden = true, below.Region
		}
		return d
	}

	computed, source, explicit := fallbackRegion(s, def)
	shaped, shapeOK := ShapeOf(s.UserID).Region()

	if s.TokenRegion.Valid() {
		d := Decision{Region: s.TokenRegion, Source: SourceToken}
		if shapeOK && shaped != s.TokenRegion {
			d.Conflict, d.Overridden = true, shaped
		} else if explicit && computed != s.TokenRegion {
			d.Conflict, d.Overridden = true, computed
		}
		return d
	}

	if shapeOK {
		d := Decision{Region: shaped, Source: SourceIDShape}
		if explicit && computed != shaped {
			d.Conflict, d.Overridden = true, computed
		}
		return d
	}

	return Decision{Region: computed, Source: source}
}

// fallbackRegion resolves the lower-precedence signals. explicit is false
// when only the default applied.
func fallbackRegion(s Signals, def domain.Region) (domain.Region, Source, bool) {
	if s.Hint.Valid() {
		return s.Hint, SourceHint, true
	}
	if s.ClientDomestic != nil {
		if *s.ClientDomestic {
			return domain.RegionDomestic, SourceNetwork, true
		}
		return domain.RegionGlobal, SourceNetwork, true
	}
	return def, SourceDefault, false
}

// Router wraps Resolve with diagnostics.
type Router struct {
	logger *slog.Logger
	def    domain.Region
}

// NewRouter creates a Router whose last-resort region is def.
func NewRouter(def domain.Region, logger *slog.Logger) *Router {
	if !def.Valid() {
		def = domain.RegionGlobal
	}
	return &Router{logger: logger, def: def}
}

// Default returns the region used when no signal is present.
func (r *Router) Default() domain.Region {
	return r.def
}

// Resolve decides the region for s. Conflicts are logged and counted, never
// returned as errors.
func (r *Router) Resolve(s Signals) Decision {
	d := Resolve(s, r.def)
	if d.Conflict {
		metrics.RegionConflictsTotal.WithLabelValues(string(d.Source)).Inc()
		r.logger.Warn("region signals disagree",
			"user_id", s.UserID,
			"region", d.Region,
			"source", d.Source,
			"overridden", d.Overridden,
		)
	}
	return d
}
