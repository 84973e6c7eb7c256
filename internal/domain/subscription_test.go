package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionState_IsActive(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	tests := []struct {
		name  string
		state SubscriptionState
		want  bool
	}{
		{name: "none", state: NoSubscription(), want: false},
		{name: "monthly in future", state: SubscriptionState{Tier: TierMonthly, ExpiresAt: &later}, want: true},
		{name: "monthly expired", state: SubscriptionState{Tier: TierMonthly, ExpiresAt: &earlier}, want: false},
		{name: "expiry exactly now is not active", state: SubscriptionState{Tier: TierYearly, ExpiresAt: &now}, want: false},
		{name: "tier without expiry", state: SubscriptionState{Tier: TierYearly}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.IsActive(now))
		})
	}
}

func TestSubscriptionState_At(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	earlier := now.Add(-time.Minute)

	got := SubscriptionState{Tier: TierMonthly, ExpiresAt: &earlier}.At(now)
	assert.Equal(t, NoSubscription(), got)
}

func TestSubscriptionState_Validate(t *testing.T) {
	now := time.Now()

	assert.NoError(t, NoSubscription().Validate())
	assert.NoError(t, SubscriptionState{Tier: TierMonthly, ExpiresAt: &now}.Validate())
	assert.Error(t, SubscriptionState{Tier: TierNone, ExpiresAt: &now}.Validate())
	assert.Error(t, SubscriptionState{Tier: TierYearly}.Validate())
	assert.Error(t, SubscriptionState{Tier: Tier("weekly"), ExpiresAt: &now}.Validate())
}

func TestParseTier(t *testing.T) {
	assert.Equal(t, TierMonthly, ParseTier(" Monthly "))
	assert.Equal(t, TierYearly, ParseTier("yearly"))
	assert.Equal(t, TierNone, ParseTier(""))
	assert.Equal(t, TierNone, ParseTier("lifetime"))
}
