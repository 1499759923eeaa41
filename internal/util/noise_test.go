package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoiseDeterministic(t *testing.T) {
	a, b := NewNoise(7), NewNoise(7)
	other := NewNoise(8)

	differs := false
	for i := 0; i < 50; i++ {
		x, y := float64(i)*0.37, float64(i)*0.21
		va := a.At(x, y)
		assert.Equal(t, va, b.At(x, y))
		assert.GreaterOrEqual(t, va, 0.0)
		assert.LessOrEqual(t, va, 1.0)
		if va != other.At(x, y) {
			differs = true
		}
	}
	assert.True(t, differs, "different seeds must produce different fields")
	assert.Equal(t, int64(7), a.Seed())
}
