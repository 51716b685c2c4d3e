package telemetry

// wrapModulus returns the next power of ten above old's magnitude,
// i.e. 10^(floor(log10(old))+1), computed without log rounding error.
// old must be positive.
func wrapModulus(old float64) float64 {
	mod := 1.0
	for mod <= old {
		mod *= 10
	}
	for mod/10 > old {
		mod /= 10
	}
	return mod
}

// Delta returns the consumption between two readings of a wrapping counter.
// A new value below the old one is read as a wrap at the next power of ten
// above the OLD value's magnitude. The physical digit count is unknown, so
// this matches the meter's observed behavior rather than a true modulus.
func Delta(old, new float64) float64 {
	if old <= new || old <= 0 {
		return new - old
	}
	return new + (wrapModulus(old) - old)
}

// IsRegression reports whether new is below old by more than the wrap
// heuristic tolerates: the wrap-corrected delta would cover at least a tenth
// of the counter range. Callers treat this as a hard meter error.
func IsRegression(old, new float64) bool {
	if old <= new || old <= 0 {
		return false
	}
	mod := wrapModulus(old)
	return new+(mod-old) >= mod/10
}
