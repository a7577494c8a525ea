package entropy

import (
	"math"

	"github.com/talgya/policysim/internal/tuning"
)

// BoxMuller maps two uniforms to one standard normal deviate.
// Inputs are clamped away from 0 and 1 so log(0) never occurs.
func BoxMuller(u1, u2 float64) float64 {
	u1 = tuning.Clamp(u1, tuning.UnitClamp, 1-tuning.UnitClamp)
	u2 = tuning.Clamp(u2, tuning.UnitClamp, 1-tuning.UnitClamp)
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// Normal draws a standard normal deviate from src.
func Normal(src Source) float64 {
	return BoxMuller(src.Float64(), src.Float64())
}

// Gaussian draws from N(mean, sd²).
func Gaussian(src Source, mean, sd float64) float64 {
	return mean + sd*Normal(src)
}
