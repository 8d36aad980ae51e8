package generations

import (
	"genstudio/internal/domain"
)

// Cost is the credit price of the two phases of a generation.
type Cost struct {
	Preview int64 `json:"preview"`
	Final   int64 `json:"final"`
}

var standardPrices = map[domain.GenerationType]Cost{
	domain.TypeVideo:        {Preview: 60, Final: 120},
	domain.TypeImageToVideo: {Preview: 50, Final: 100},
	domain.TypeVideoToVideo: {Preview: 70, Final: 140},
	domain.TypeAvatar:       {Preview: 80, Final: 160},
	domain.TypeImage:        {Preview: 10, Final: 20},
	domain.TypeEdit:         {Preview: 8, Final: 16},
	domain.TypeVoice:        {Preview: 5, Final: 10},
	domain.TypeScript:       {Preview: 2, Final: 4},
}

// Price returns the cost of a generation type at the given tier. An empty
// tier prices as standard.
func Price(t domain.GenerationType, tier domain.Tier) (Cost, error) {
	base, ok := standardPrices[t]
	if !ok {
		return Cost{}, domain.InvalidInput("unsupported generation type %q", t)
	}
	switch tier {
	case domain.TierStandard, "":
		return base, nil
	case domain.TierDraft:
		return Cost{Preview: halfUp(base.Preview), Final: halfUp(base.Final)}, nil
	case domain.TierPremium:
		return Cost{Preview: base.Preview * 2, Final: base.Final * 2}, nil
	}
	return Cost{}, domain.InvalidInput("unsupported tier %q", tier)
}

func halfUp(v int64) int64 { return (v + 1) / 2 }
