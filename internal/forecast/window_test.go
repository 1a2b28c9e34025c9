package forecast

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int) Matrix {
	m := make(Matrix, n)
	for i := range m {
		m[i] = []float64{float64(i), 0, 0, 0}
	}
	return m
}

func TestBuildWindows(t *testing.T) {
	windows, err := BuildWindows(ramp(25), 10)
	require.NoError(t, err)
	require.Len(t, windows, 15)

	for i, w := range windows {
		assert.Equal(t, i, w.Index)
		require.Len(t, w.Input, 10)
		assert.Equal(t, float64(i), w.Input[0][ColPrice])
		assert.Equal(t, float64(i+9), w.Input[9][ColPrice])
		assert.Equal(t, float64(i+10), w.Target)
	}
}

func TestBuildWindowsTooFew(t *testing.T) {
	for _, n := range []int{5, 10, 11} {
		_, err := BuildWindows(ramp(n), 10)
		assert.True(t, errors.Is(err, ErrInsufficientData), "rows=%d", n)
	}
	windows, err := BuildWindows(ramp(12), 10)
	require.NoError(t, err)
	assert.Len(t, windows, 2)
}

func TestSplit(t *testing.T) {
	cases := []struct {
		n, train, test int
	}{
		{2, 1, 1},
		{3, 2, 1},
		{5, 4, 1},
		{6, 4, 2},
		{10, 8, 2},
		{100, 80, 20},
	}
	for _, tc := range cases {
		windows := make([]Window, tc.n)
		for i := range windows {
			windows[i].Index = i
		}
		train, test := Split(windows)
		assert.Len(t, train, tc.train, "n=%d", tc.n)
		assert.Len(t, test, tc.test, "n=%d", tc.n)
		assert.Equal(t, tc.train, test[0].Index, "test starts right after train")
		assert.Equal(t, tc.n-1, test[len(test)-1].Index)
	}
}
