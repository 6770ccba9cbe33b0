package reward

// Clamp bounds v to [lo, hi]. Used as a safety net against floating-point
// overshoot after weighting; sub-scores are already normalized.
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Renormalize redistributes configured weights across only the present
// categories so the effective weights sum to 1. Absent categories get 0.
// If every present category has weight 0, the present ones share equal
// weight instead of dividing by zero. An all-absent input returns all zeros;
// the caller maps that case to the neutral score.
func Renormalize(weights []float64, present []bool) []float64 {
	out := make([]float64, len(weights))

	var sum float64
	var n int
	for i, p := range present {
		if p {
			sum += weights[i]
			n++
		}
	}
	if n == 0 {
		return out
	}
	if sum == 0 {
		eq := 1.0 / float64(n)
		for i, p := range present {
			if p {
				out[i] = eq
			}
		}
		return out
	}
	for i, p := range present {
		if p {
			out[i] = weights[i] / sum
		}
	}
	return out
}
