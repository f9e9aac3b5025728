// Package quality implements the adaptive-quality ladder policy documented
// in spec.md §4.6. The server itself never calls this package on the
// control path — it only routes VIDEO_STATS to VIDEO_STATS_UPDATE — but
// spec.md writes the policy down precisely so a media sender can reimplement
// it, so SPEC_FULL.md gives it a concrete, directly-testable home here
// instead of leaving it as prose.
package quality

import "time"

// Resolution is one rung of the resolution ladder.
type Resolution struct {
	Width, Height int
}

// Levels, each ordered from lowest to highest (spec.md §4.6).
var (
	Resolutions = []Resolution{
		{256, 144},
		{426, 240},
		{640, 360},
		{854, 480},
	}
	FrameRates         = []int{5, 10, 15, 20}
	CompressionQuality = []int{40, 50, 60, 70}
)

var maxLevel = Level(len(Resolutions) - 1) // the three ladders are kept in lock-step

const (
	lossStepDownPct = 10.0
	rttStepDownMs   = 300.0
	lossStepUpPct   = 2.0
	rttStepUpMs     = 120.0

	hysteresis = time.Second
)

// Direction is the outcome of one Decide call.
type Direction int

const (
	Hold Direction = iota
	StepUp
	StepDown
)

// Report is the most recent receiver-side measurement (mirrors
// wire.VideoStatsUpdate's numeric fields).
type Report struct {
	LossPct     float64
	RTTMs       float64
	FPS         float64
	BitrateKbps float64
}

// Level is a composite index into the three ladders; they move in
// lock-step, so one index describes resolution, frame rate, and
// compression quality together.
type Level int

// Clamp keeps a level within [0, maxLevel].
func (l Level) Clamp() Level {
	if l < 0 {
		return 0
	}
	if l > maxLevel {
		return maxLevel
	}
	return l
}

func (l Level) Resolution() Resolution  { return Resolutions[l.Clamp()] }
func (l Level) FrameRate() int          { return FrameRates[l.Clamp()] }
func (l Level) CompressionQuality() int { return CompressionQuality[l.Clamp()] }

// Ladder tracks one media sender's current level and the hysteresis clock,
// deciding one step per call to Decide.
type Ladder struct {
	level       Level
	lastStepAt  time.Time
	lastStepDir Direction
}

// NewLadder starts a sender at the lowest rung, matching a fresh connection
// with no stats history yet.
func NewLadder() *Ladder {
	return &Ladder{level: 0}
}

func (l *Ladder) Level() Level { return l.level }

// Decide applies one 1-second evaluation tick (spec.md §4.6) and returns the
// direction taken. now is passed in rather than read via time.Now so the
// policy stays a pure function of its inputs for testing.
func (l *Ladder) Decide(r Report, now time.Time) Direction {
	dir := directionFor(r)

	if dir != Hold {
		withinHysteresis := !l.lastStepAt.IsZero() && now.Sub(l.lastStepAt) < hysteresis && l.lastStepDir == dir
		if withinHysteresis {
			dir = Hold
		}
	}

	switch dir {
	case StepDown:
		if l.level > 0 {
			l.level--
		}
	case StepUp:
		if l.level < maxLevel {
			l.level++
		}
	}

	if dir != Hold {
		l.lastStepAt = now
		l.lastStepDir = dir
	}
	return dir
}

func directionFor(r Report) Direction {
	if r.LossPct > lossStepDownPct || r.RTTMs > rttStepDownMs {
		return StepDown
	}
	if r.LossPct < lossStepUpPct && r.RTTMs < rttStepUpMs {
		return StepUp
	}
	return Hold
}
