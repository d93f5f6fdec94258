package generations

import (
	"github.com/nanophoto/nanophoto-backend/pkg/config"
	"github.com/nanophoto/nanophoto-backend/pkg/enums"
)

// CostTable is the credit price of each operation. Zero means free.
type CostTable map[enums.GenerationOperation]int64

func NewCostTable(cfg config.GenerationConfig) CostTable {
	return CostTable{
		enums.GenerationGenerate:  cfg.GenerateCost,
		enums.GenerationVariation: cfg.VariationCost,
		enums.GenerationAnalyze:   cfg.AnalyzeCost,
	}
}

func (c CostTable) Cost(op enums.GenerationOperation) (int64, bool) {
	cost, ok := c[op]
	if !ok || cost < 0 {
		return 0, false
	}
	return cost, true
}
