package dungeon

import (
	"errors"
	"fmt"

	"github.com/annel0/grid-dungeon/internal/vec"
)

// Классы ошибок ядра. Конкретные ошибки оборачивают один из них,
// проверка выполняется через errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrResourceInvariant   = errors.New("resource invariant violation")
	ErrNotFound            = errors.New("not found")
	ErrNoTemplateAvailable = errors.New("no template available")
	ErrConsistency         = errors.New("consistency violation")
	ErrTemplateInvalid     = errors.New("template invalid")
	ErrCellLocked          = errors.New("cell is not selectable")
)

// ValidationError описывает некорректное поле сущности.
// Cause уточняет причину (например ErrCellLocked) и тоже доступна через errors.Is.
type ValidationError struct {
	Entity string
	Field  string
	Reason string
	Cause  error
}

func (e *ValidationError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation error: %s.%s: %s", e.Entity, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Cause}
}

// InvariantError сообщает о нарушении связи между типом клетки и её ресурсами.
type InvariantError struct {
	Position  vec.Vec2
	Kind      CellKind
	Resources Resources
	Reason    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("resource invariant violation at %s: kind=%s resources=%s: %s",
		e.Position, e.Kind, e.Resources, e.Reason)
}

func (e *InvariantError) Unwrap() error { return ErrResourceInvariant }

func invalid(entity, field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Entity: entity, Field: field, Reason: fmt.Sprintf(format, args...)}
}
