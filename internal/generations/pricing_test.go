package generations

import (
	"testing"

	"genstudio/internal/domain"
)

func TestPriceTiers(t *testing.T) {
	tests := []struct {
		typ  domain.GenerationType
		tier domain.Tier
		want Cost
	}{
		{domain.TypeVideo, domain.TierStandard, Cost{60, 120}},
		{domain.TypeVideo, "", Cost{60, 120}},
		{domain.TypeVideo, domain.TierDraft, Cost{30, 60}},
		{domain.TypeVideo, domain.TierPremium, Cost{120, 240}},
		{domain.TypeVoice, domain.TierDraft, Cost{3, 5}},
		{domain.TypeScript, domain.TierDraft, Cost{1, 2}},
		{domain.TypeAvatar, domain.TierPremium, Cost{160, 320}},
	}
	for _, tt := range tests {
		got, err := Price(tt.typ, tt.tier)
		if err != nil {
			t.Fatalf("Price(%s, %s) error: %v", tt.typ, tt.tier, err)
		}
		if got != tt.want {
			t.Errorf("Price(%s, %s) = %+v, want %+v", tt.typ, tt.tier, got, tt.want)
		}
	}
}

func TestEveryTypeIsPriced(t *testing.T) {
	for _, typ := range domain.GenerationTypes() {
		if _, err := Price(typ, domain.TierStandard); err != nil {
			t.Errorf("type %s has no price: %v", typ, err)
		}
	}
}

func TestPriceRejectsUnknownInput(t *testing.T) {
	if _, err := Price("hologram", domain.TierStandard); err == nil {
		t.Fatal("expected error for unknown type")
	}
	if _, err := Price(domain.TypeVideo, "ultra"); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}
