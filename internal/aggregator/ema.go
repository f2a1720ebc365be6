package aggregator

// EMA is an exponential moving average seeded with its first input.
type EMA struct {
	alpha  float64
	value  float64
	seeded bool
}

// NewEMA creates an EMA with the given smoothing factor.
func NewEMA(alpha float64) EMA {
	return EMA{alpha: alpha}
}

// Next folds v into the average and returns the new value.
func (e *EMA) Next(v float64) float64 {
	if !e.seeded {
		e.value = v
		e.seeded = true

		return e.value
	}

	e.value = e.alpha*v + (1-e.alpha)*e.value

	return e.value
}

// Value returns the current average, or 0 before the first input.
func (e *EMA) Value() float64 {
	return e.value
}
