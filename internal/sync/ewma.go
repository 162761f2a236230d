package sync

import (
	"math"
	"time"
)

// MovingAverage applies one exponential-moving-average step. The smoothing
// factor is derived from the elapsed time and the time constant:
// alpha = 1 - exp(-dt/tau). Non-positive dt or tau returns the raw sample.
func MovingAverage(previous, sample, deltaSeconds, tauSeconds float64) float64 {
	if deltaSeconds <= 0 || tauSeconds <= 0 {
		return sample
	}
	alpha := 1.0 - math.Exp(-deltaSeconds/tauSeconds)
	if alpha < 0 {
		alpha = 0
	} else if alpha > 1 {
		alpha = 1
	}
	return previous + alpha*(sample-previous)
}

// ewma tracks a time-constant smoothed value, seeded by its first sample.
type ewma struct {
	value  float64
	seeded bool
	last   time.Time
	tau    float64
}

func newEWMA(tau float64) *ewma {
	return &ewma{tau: tau}
}

func (e *ewma) Update(sample float64, now time.Time) float64 {
	if !e.seeded {
		e.value = sample
		e.seeded = true
		e.last = now
		return e.value
	}
	dt := now.Sub(e.last).Seconds()
	e.value = MovingAverage(e.value, sample, dt, e.tau)
	e.last = now
	return e.value
}

func (e *ewma) Value() float64 {
	return e.value
}
