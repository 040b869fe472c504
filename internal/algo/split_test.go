package algo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHintFor(t *testing.T) {
	tests := []struct {
		name string
		at   int
		n    int
		tail bool
		want SplitHint
	}{
		{name: "tail", at: 3, n: 9, tail: true, want: SplitRightBias},
		{name: "last_bucket", at: 7, n: 9, want: SplitBalanced},
		{name: "pair_only", at: 0, n: 2, want: SplitBalanced},
		{name: "first_bucket", at: 0, n: 9, want: SplitLeftBias},
		{name: "middle", at: 4, n: 9, want: SplitBalanced},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HintFor(tt.at, tt.n, tt.tail))
		})
	}
}

func TestSplitPoint(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		capacity int
		hint     SplitHint
		want     int
	}{
		{name: "balanced", n: 9, capacity: 8, hint: SplitBalanced, want: 4},
		{name: "right_bias", n: 9, capacity: 8, hint: SplitRightBias, want: 8},
		{name: "left_bias", n: 9, capacity: 8, hint: SplitLeftBias, want: 1},
		{name: "minimum", n: 3, capacity: 2, hint: SplitBalanced, want: 1},
		{name: "right_bias_minimum", n: 3, capacity: 2, hint: SplitRightBias, want: 2},
		{name: "left_bias_minimum", n: 3, capacity: 2, hint: SplitLeftBias, want: 1},
		{name: "balanced_clamped", n: 16, capacity: 8, hint: SplitRightBias, want: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			left := SplitPoint(tt.n, tt.capacity, tt.hint)
			assert.Equal(t, tt.want, left)
			assert.LessOrEqual(t, left, tt.capacity)
			assert.LessOrEqual(t, tt.n-left, tt.capacity)
			assert.GreaterOrEqual(t, left, 1)
			assert.GreaterOrEqual(t, tt.n-left, 1)
		})
	}
}

func TestSplitPointPanics(t *testing.T) {
	assert.Panics(t, func() { SplitPoint(1, 4, SplitBalanced) })
	assert.Panics(t, func() { SplitPoint(9, 4, SplitBalanced) })
}
