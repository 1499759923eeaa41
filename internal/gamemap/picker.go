package gamemap

import (
	"math/rand"
	"sync"

	"github.com/annel0/grid-dungeon/internal/dungeon"
)

// Picker равновероятно выбирает шаблон из подходящих.
type Picker struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewPicker создаёт генератор выбора; одинаковый seed даёт одинаковую последовательность.
func NewPicker(seed int64) *Picker {
	return &Picker{rnd: rand.New(rand.NewSource(seed))}
}

// Pick возвращает один из шаблонов или nil для пустого списка
func (p *Picker) Pick(ts []*dungeon.BaseMapTemplate) *dungeon.BaseMapTemplate {
	if len(ts) == 0 {
		return nil
	}
	p.mu.Lock()
	i := p.rnd.Intn(len(ts))
	p.mu.Unlock()
	return ts[i]
}
