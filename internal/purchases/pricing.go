package purchases

import (
	"sort"
	"strings"

	"github.com/nanophoto/nanophoto-backend/pkg/config"
)

// Tier is one purchasable credit pack.
type Tier struct {
	Name    string `json:"name"`
	PriceID string `json:"priceId"`
	Credits int64  `json:"credits"`
}

// PriceTable maps provider price ids onto a fixed credit amount.
type PriceTable struct {
	tiers map[string]Tier
}

func NewPriceTable(cfg config.BillingConfig) PriceTable {
	names := map[string]string{
		strings.TrimSpace(cfg.StarterPriceID):  "Starter",
		strings.TrimSpace(cfg.ProPriceID):      "Pro",
		strings.TrimSpace(cfg.BusinessPriceID): "Business",
	}
	tiers := make(map[string]Tier, len(names))
	for id, credits := range cfg.PriceTable() {
		tiers[id] = Tier{Name: names[id], PriceID: id, Credits: credits}
	}
	return PriceTable{tiers: tiers}
}

func (p PriceTable) Lookup(priceID string) (Tier, bool) {
	tier, ok := p.tiers[strings.TrimSpace(priceID)]
	return tier, ok
}

// Tiers lists the configured packs, cheapest first.
func (p PriceTable) Tiers() []Tier {
	out := make([]Tier, 0, len(p.tiers))
	for _, tier := range p.tiers {
		out = append(out, tier)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Credits == out[j].Credits {
			return out[i].PriceID < out[j].PriceID
		}
		return out[i].Credits < out[j].Credits
	})
	return out
}
