package quota

import (
	"errors"
	"testing"

	"marefa/pkg/domain"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{
			name: "free user under limit",
			req:  Request{Authenticated: true, Tier: domain.TierFree, MessageCount: 49, Category: domain.CategoryAhkam},
		},
		{
			name: "free user at limit",
			req:  Request{Authenticated: true, Tier: domain.TierFree, MessageCount: 50, Category: domain.CategoryAhkam},
			want: ErrQuotaExceeded,
		},
		{
			name: "basic user is unlimited",
			req:  Request{Authenticated: true, Tier: domain.TierBasic, MessageCount: 10_000, Category: domain.CategorySukoon},
		},
		{
			name: "basic user blocked from research",
			req:  Request{Authenticated: true, Tier: domain.TierBasic, Category: domain.CategoryResearch},
			want: ErrTierInsufficient,
		},
		{
			name: "free user at limit sees tier error first in research",
			req:  Request{Authenticated: true, Tier: domain.TierFree, MessageCount: 50, Category: domain.CategoryResearch},
			want: ErrTierInsufficient,
		},
		{
			name: "research user in research",
			req:  Request{Authenticated: true, Tier: domain.TierResearch, MessageCount: 500, Category: domain.CategoryResearch},
		},
		{
			name: "teams user in research",
			req:  Request{Authenticated: true, Tier: domain.TierTeams, Category: domain.CategoryResearch},
		},
		{
			name: "guest fifth message allowed",
			req:  Request{GuestMessages: 4, Category: domain.CategoryAhkam},
		},
		{
			name: "guest sixth message rejected",
			req:  Request{GuestMessages: 5, Category: domain.CategorySukoon},
			want: ErrGuestLimitReached,
		},
		{
			name: "guest ignores claimed tier",
			req:  Request{Tier: domain.TierTeams, Category: domain.CategoryResearch},
			want: ErrTierInsufficient,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.req)
			if !errors.Is(got, tc.want) {
				t.Fatalf("Evaluate() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCeiling(t *testing.T) {
	if limit, ok := Ceiling(domain.TierFree); !ok || limit != FreeMessageLimit {
		t.Fatalf("free ceiling = %d,%v", limit, ok)
	}
	if _, ok := Ceiling(domain.TierTeams); ok {
		t.Fatalf("teams should have no ceiling")
	}
	if _, ok := Ceiling(""); !ok {
		t.Fatalf("unknown tier should fall back to the free ceiling")
	}
}
