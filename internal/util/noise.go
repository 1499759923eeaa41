package util

import (
	"github.com/aquilax/go-perlin"
)

// Параметры шума: сглаживание, частота и количество октав
const (
	perlinAlpha   = 2.0
	perlinBeta    = 2.0
	perlinOctaves = int32(3)
)

// Noise генератор шума Перлина с фиксированным сидом.
// Одинаковый сид даёт одинаковые значения в одних и тех же координатах.
type Noise struct {
	seed   int64
	perlin *perlin.Perlin
}

// NewNoise инициализирует генератор шума Перлина с указанным сидом
func NewNoise(seed int64) *Noise {
	return &Noise{
		seed:   seed,
		perlin: perlin.NewPerlin(perlinAlpha, perlinBeta, perlinOctaves, seed),
	}
}

// Seed сид генератора
func (n *Noise) Seed() int64 { return n.seed }

// At возвращает значение шума Перлина для указанных координат (от 0 до 1)
func (n *Noise) At(x, y float64) float64 {
	v := (n.perlin.Noise2D(x, y) + 1.0) / 2.0
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
