package rebalance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hedge-core/internal/positions"
)

func short(sym string, notional float64) positions.Position {
	return positions.Position{Symbol: sym, FullSymbol: sym + "USDT", Side: positions.SideShort, Notional: notional}
}

func TestTargetRatio(t *testing.T) {
	assert.InDelta(t, 0.525, TargetRatio(50, 0.35, 0.70), 1e-12)
	assert.InDelta(t, 0.70, TargetRatio(0, 0.35, 0.70), 1e-12)
	assert.InDelta(t, 0.35, TargetRatio(100, 0.35, 0.70), 1e-12)
	assert.InDelta(t, 0.35, TargetRatio(150, 0.35, 0.70), 1e-12)
	assert.InDelta(t, 0.70, TargetRatio(-10, 0.35, 0.70), 1e-12)
}

func TestBuildPlanEmptyTargetsClosesEverything(t *testing.T) {
	plan := BuildPlan([]positions.Position{short("AAA", 100), short("BBB", 50)}, nil, 1000)
	require.Len(t, plan.Close, 2)
	for _, c := range plan.Close {
		assert.Equal(t, 1.0, c.CloseRatio)
	}
	assert.Empty(t, plan.Open)
}

func TestBuildPlanDiff(t *testing.T) {
	current := []positions.Position{
		short("AAA", 1000), // in target, under ideal by 500
		short("BBB", 2000), // in target, over ideal by 500
		short("CCC", 1495), // in target, inside the dead-band
		short("ZZZ", 300),  // not in target
	}
	plan := BuildPlan(current, []string{"AAA", "BBB", "CCC", "DDD"}, 6000)

	assert.Equal(t, 1500.0, plan.IdealValue)
	assert.InDelta(t, 6000, plan.IdealValue*4, 1e-9)

	closes := map[string]float64{}
	for _, c := range plan.Close {
		closes[c.Symbol] = c.CloseRatio
	}
	assert.Equal(t, map[string]float64{"BBB": 0.25, "ZZZ": 1}, closes)

	opens := map[string]float64{}
	for _, o := range plan.Open {
		opens[o.Symbol] = o.Value
	}
	assert.Equal(t, map[string]float64{"AAA": 500, "DDD": 1500}, opens)
}

func TestBuildPlanDeadBandEdges(t *testing.T) {
	plan := BuildPlan([]positions.Position{short("AAA", 990), short("BBB", 1010)}, []string{"AAA", "BBB"}, 2000)
	assert.Empty(t, plan.Open)
	assert.Empty(t, plan.Close)

	plan = BuildPlan([]positions.Position{short("AAA", 989)}, []string{"AAA"}, 1000)
	require.Len(t, plan.Open, 1)
	assert.InDelta(t, 11, plan.Open[0].Value, 1e-9)
}
