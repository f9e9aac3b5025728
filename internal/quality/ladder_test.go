package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStepDownOnHighLossOrRTT(t *testing.T) {
	l := NewLadder()
	l.level = 2
	now := time.Unix(0, 0)

	dir := l.Decide(Report{LossPct: 15, RTTMs: 50}, now)
	require.Equal(t, StepDown, dir)
	require.Equal(t, Level(1), l.Level())
}

func TestStepUpOnGoodConditions(t *testing.T) {
	l := NewLadder()
	now := time.Unix(0, 0)

	dir := l.Decide(Report{LossPct: 1, RTTMs: 80}, now)
	require.Equal(t, StepUp, dir)
	require.Equal(t, Level(1), l.Level())
}

func TestHoldsInMiddleBand(t *testing.T) {
	l := NewLadder()
	l.level = 1
	now := time.Unix(0, 0)

	dir := l.Decide(Report{LossPct: 5, RTTMs: 200}, now)
	require.Equal(t, Hold, dir)
	require.Equal(t, Level(1), l.Level())
}

func TestNeverStepsBelowMinimum(t *testing.T) {
	l := NewLadder()
	now := time.Unix(0, 0)
	dir := l.Decide(Report{LossPct: 50, RTTMs: 500}, now)
	require.Equal(t, StepDown, dir)
	require.Equal(t, Level(0), l.Level())
}

func TestNeverStepsAboveMaximum(t *testing.T) {
	l := NewLadder()
	l.level = Level(maxLevel)
	now := time.Unix(0, 0)
	dir := l.Decide(Report{LossPct: 0, RTTMs: 10}, now)
	require.Equal(t, StepUp, dir)
	require.Equal(t, Level(maxLevel), l.Level())
}

func TestHysteresisSuppressesRepeatedSameDirectionStep(t *testing.T) {
	l := NewLadder()
	l.level = 2
	t0 := time.Unix(0, 0)

	dir := l.Decide(Report{LossPct: 15, RTTMs: 50}, t0)
	require.Equal(t, StepDown, dir)
	require.Equal(t, Level(1), l.Level())

	// Same direction within the 1s hysteresis window holds instead.
	dir = l.Decide(Report{LossPct: 15, RTTMs: 50}, t0.Add(500*time.Millisecond))
	require.Equal(t, Hold, dir)
	require.Equal(t, Level(1), l.Level())

	// Past the window, the step applies again.
	dir = l.Decide(Report{LossPct: 15, RTTMs: 50}, t0.Add(1100*time.Millisecond))
	require.Equal(t, StepDown, dir)
	require.Equal(t, Level(0), l.Level())
}
