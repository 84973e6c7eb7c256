package handler

import (
	"time"

	"github.com/DukeRupert/tally/internal/domain"
)

// EntitlementResponse is the JSON view of a subscription state.
type EntitlementResponse struct {
	UserID    string        `json:"user_id,omitempty"`
	OrderNo   string        `json:"order_no,omitempty"`
	Region    domain.Region `json:"region"`
	Tier      domain.Tier   `json:"tier"`
	ExpiresAt *time.Time    `json:"expires_at"`
	Active    bool          `json:"active"`
}

func newEntitlementResponse(state domain.SubscriptionState, region domain.Region, now time.Time) EntitlementResponse {
	resp := EntitlementResponse{
		Region: region,
		Tier:   state.Tier,
		Active: state.IsActive(now),
	}
	if state.Tier == "" {
		resp.Tier = domain.TierNone
	}
	if state.ExpiresAt != nil {
		t := state.ExpiresAt.UTC()
		resp.ExpiresAt = &t
	}
	return resp
}
