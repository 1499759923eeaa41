package gamemap

import (
	"context"
	"fmt"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/eventbus"
	"go.opentelemetry.io/otel/attribute"
)

// CreateTemplate проверяет кандидата и сохраняет шаблон.
// Уникальность имени гарантирует хранилище (storage.ErrTemplateNameTaken).
func (s *Service) CreateTemplate(ctx context.Context, c dungeon.TemplateCandidate) (t *dungeon.BaseMapTemplate, err error) {
	ctx, end := s.startSpan(ctx, "CreateTemplate", attribute.String("template.name", c.Name))
	defer end(&err)

	t, err = dungeon.BuildTemplate(c, s.newTemplateID(), s.now())
	if err != nil {
		return nil, err
	}
	if err = s.templates.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info("🧱 template %s (%s) created, %dx%d exits=%v", t.Name, t.ID, t.Width, t.Height, t.Exits.List())
	s.publish(ctx, eventbus.TypeTemplateCreated, t.ID, eventbus.TemplateEvent{
		TemplateID: t.ID,
		Name:       t.Name,
		Exits:      directionNames(t.Exits.List()),
	})
	return t, nil
}

// GetTemplate шаблон по id
func (s *Service) GetTemplate(ctx context.Context, id string) (*dungeon.BaseMapTemplate, error) {
	return s.templates.GetTemplate(ctx, id)
}

// GetTemplateByName шаблон по имени
func (s *Service) GetTemplateByName(ctx context.Context, name string) (*dungeon.BaseMapTemplate, error) {
	return s.templates.GetTemplateByName(ctx, name)
}

// ListTemplates все шаблоны по имени
func (s *Service) ListTemplates(ctx context.Context) ([]*dungeon.BaseMapTemplate, error) {
	return s.templates.ListTemplates(ctx)
}

// ListTemplatesWithExit шаблоны с выходом в направлении d
func (s *Service) ListTemplatesWithExit(ctx context.Context, d dungeon.Direction) ([]*dungeon.BaseMapTemplate, error) {
	if err := checkDirection(d); err != nil {
		return nil, err
	}
	return s.templates.ListTemplatesWithExit(ctx, d)
}

// FindRandomWithExit равновероятно выбирает шаблон с выходом d.
// Если таких шаблонов нет, возвращает ErrNoTemplateAvailable.
func (s *Service) FindRandomWithExit(ctx context.Context, d dungeon.Direction) (*dungeon.BaseMapTemplate, error) {
	ts, err := s.ListTemplatesWithExit(ctx, d)
	if err != nil {
		return nil, err
	}
	t := s.picker.Pick(ts)
	if t == nil {
		return nil, fmt.Errorf("%w: no template has a %s exit", dungeon.ErrNoTemplateAvailable, d)
	}
	// хранилище может отдать шаблон без выхода только при порче данных
	if !t.Exits.Has(d) {
		return nil, fmt.Errorf("%w: template %s has no %s exit", dungeon.ErrTemplateInvalid, t.ID, d)
	}
	s.metrics.templateSelections.WithLabelValues(string(d)).Inc()
	return t, nil
}

// DeleteTemplate удаляет шаблон; комнаты, созданные из него, остаются.
func (s *Service) DeleteTemplate(ctx context.Context, id string) (err error) {
	ctx, end := s.startSpan(ctx, "DeleteTemplate", attribute.String("template.id", id))
	defer end(&err)

	t, err := s.templates.GetTemplate(ctx, id)
	if err != nil {
		return err
	}
	if err = s.templates.DeleteTemplate(ctx, id); err != nil {
		return err
	}
	s.logger.Info("🗑️ template %s (%s) deleted", t.Name, t.ID)
	s.publish(ctx, eventbus.TypeTemplateDeleted, t.ID, eventbus.TemplateEvent{TemplateID: t.ID, Name: t.Name})
	return nil
}

// TemplateExits направления выходов шаблона
func (s *Service) TemplateExits(ctx context.Context, id string) ([]dungeon.Direction, error) {
	t, err := s.templates.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.Exits.List(), nil
}
