package graph

import (
	"math"
	"time"
)

// Exponential half-life decay: Decay(0) = 1, strictly decreasing, asymptotic
// to zero. Exponential rather than linear so relevance fades without ever
// hitting a hard zero that would need clamping.

const ln2 = 0.6931471805599453

// Decay returns the multiplier 0.5^(dt/halfLife) for a given elapsed time.
// Negative dt (clock skew, out-of-order delivery) is treated as zero.
func Decay(dt, halfLife time.Duration) float64 {
	if dt <= 0 {
		return 1
	}
	if halfLife <= 0 {
		return 0
	}
	return math.Exp(-ln2 * float64(dt) / float64(halfLife))
}

// Decay evaluates the graph's configured edge decay for an elapsed duration.
func (g *Graph) Decay(dt time.Duration) float64 {
	return Decay(dt, g.halfLife)
}

func (g *Graph) decayMillis(dtMillis int64) float64 {
	return Decay(time.Duration(dtMillis)*time.Millisecond, g.halfLife)
}
