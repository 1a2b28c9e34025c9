package forecast

// TrainFraction is the share of windows assigned to the train split.
const TrainFraction = 0.8

// Window is one supervised example: L scaled rows and the next scaled price.
type Window struct {
	Index  int
	Input  [][]float64
	Target float64
}

// BuildWindows slices m into stride-1 windows of the given length.
// Inputs share backing rows with m and must not be mutated.
func BuildWindows(m Matrix, windowLength int) ([]Window, error) {
	n := len(m) - windowLength
	if n < 2 {
		if n < 0 {
			n = 0
		}
		return nil, &InsufficientDataError{Have: n, Need: 2, Reason: "too few windows for a train/test split"}
	}

	windows := make([]Window, n)
	for i := 0; i < n; i++ {
		windows[i] = Window{
			Index:  i,
			Input:  m[i : i+windowLength],
			Target: m[i+windowLength][ColPrice],
		}
	}
	return windows, nil
}

// Split partitions windows chronologically, keeping at least one window on each side.
func Split(windows []Window) (train, test []Window) {
	n := len(windows)
	trainCount := max(1, int(float64(n)*TrainFraction))
	if trainCount == n {
		trainCount--
	}
	return windows[:trainCount], windows[trainCount:]
}
