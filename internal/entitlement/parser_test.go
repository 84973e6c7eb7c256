package entitlement

import (
	"encoding/json"
	"testing"

	"github.com/DukeRupert/tally/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestParseTier(t *testing.T) {
	tests := []struct {
		name   string
		order  domain.PaidOrder
		want   domain.Tier
		wantOK bool
	}{
		{
			name:   "direct monthly",
			order:  domain.PaidOrder{PlanDescription: "Premium MONTHLY plan"},
			want:   domain.TierMonthly,
			wantOK: true,
		},
		{
			name:   "direct yearly",
			order:  domain.PaidOrder{PlanDescription: "Yearly membership"},
			want:   domain.TierYearly,
			wantOK: true,
		},
		{
			name:   "monthly checked before yearly",
			order:  domain.PaidOrder{PlanDescription: "monthly (upgradeable to yearly)"},
			want:   domain.TierMonthly,
			wantOK: true,
		},
		{
			name: "direct field wins over nested blob",
			order: domain.PaidOrder{
				PlanDescription:  "yearly",
				ProviderResponse: json.RawMessage(`{"description":"monthly"}`),
			},
			want:   domain.TierYearly,
			wantOK: true,
		},
		{
			name:   "nested object",
			order:  domain.PaidOrder{ProviderResponse: json.RawMessage(`{"description":"Pro Monthly"}`)},
			want:   domain.TierMonthly,
			wantOK: true,
		},
		{
			name:   "nested object serialized as string",
			order:  domain.PaidOrder{ProviderResponse: json.RawMessage(`"{\"description\":\"Pro Yearly\"}"`)},
			want:   domain.TierYearly,
			wantOK: true,
		},
		{
			name:   "alipay subject",
			order:  domain.PaidOrder{ProviderResponse: json.RawMessage(`{"subject":"VIP Monthly","total_amount":"30.00"}`)},
			want:   domain.TierMonthly,
			wantOK: true,
		},
		{
			name:   "paypal purchase unit",
			order:  domain.PaidOrder{ProviderResponse: json.RawMessage(`{"id":"5O190127","purchase_units":[{"description":"Yearly plan"}]}`)},
			want:   domain.TierYearly,
			wantOK: true,
		},
		{
			name:   "malformed blob",
			order:  domain.PaidOrder{ProviderResponse: json.RawMessage(`{"description":`)},
			wantOK: false,
		},
		{
			name:   "string blob that is not an object",
			order:  domain.PaidOrder{ProviderResponse: json.RawMessage(`"monthly"`)},
			wantOK: false,
		},
		{
			name:   "description of wrong type",
			order:  domain.PaidOrder{ProviderResponse: json.RawMessage(`{"description":42}`)},
			wantOK: false,
		},
		{
			name:   "unknown vocabulary",
			order:  domain.PaidOrder{PlanDescription: "lifetime"},
			wantOK: false,
		},
		{
			name:   "nothing at all",
			order:  domain.PaidOrder{},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTier(tt.order)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			} else {
				assert.Equal(t, domain.TierNone, got)
			}
		})
	}
}
