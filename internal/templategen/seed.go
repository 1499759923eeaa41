package templategen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/logging"
	"github.com/annel0/grid-dungeon/internal/storage"
)

// Spec имя и выходы одного шаблона набора
type Spec struct {
	Name  string
	Exits []dungeon.Direction
}

// TemplateCreator часть сервиса карт, нужная для засева
type TemplateCreator interface {
	ListTemplates(ctx context.Context) ([]*dungeon.BaseMapTemplate, error)
	CreateTemplate(ctx context.Context, c dungeon.TemplateCandidate) (*dungeon.BaseMapTemplate, error)
}

// StandardSet стартовый шаблон со всеми выходами и по шаблону
// на каждое непустое подмножество направлений (Room-N, Room-NE, ...).
func StandardSet(startName string) []Spec {
	specs := []Spec{{Name: startName, Exits: dungeon.Directions[:]}}
	for mask := 1; mask < 1<<len(dungeon.Directions); mask++ {
		var exits []dungeon.Direction
		var letters strings.Builder
		for i, d := range dungeon.Directions {
			if mask&(1<<i) != 0 {
				exits = append(exits, d)
				letters.WriteString(strings.ToUpper(string(d)[:1]))
			}
		}
		specs = append(specs, Spec{Name: "Room-" + letters.String(), Exits: exits})
	}
	return specs
}

// SeedTemplates заполняет пустое хранилище стандартным набором.
// Непустое хранилище не трогается. Имя, уже занятое другим узлом, пропускается.
func SeedTemplates(ctx context.Context, store TemplateCreator, gen *Generator, startName string) (int, error) {
	existing, err := store.ListTemplates(ctx)
	if err != nil {
		return 0, fmt.Errorf("list templates: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	logger := logging.GetComponentLogger("templategen")
	created := 0
	for _, spec := range StandardSet(startName) {
		candidate, err := gen.Candidate(spec.Name, spec.Exits...)
		if err != nil {
			return created, err
		}
		if _, err := store.CreateTemplate(ctx, candidate); err != nil {
			if errors.Is(err, storage.ErrTemplateNameTaken) {
				logger.Debug("template %s already seeded", spec.Name)
				continue
			}
			return created, fmt.Errorf("seed %s: %w", spec.Name, err)
		}
		created++
	}
	logger.Info("🌱 seeded %d templates (%dx%d, seed %d)", created, gen.Width, gen.Height, gen.Seed())
	return created, nil
}
