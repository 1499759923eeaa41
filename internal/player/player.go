package player

import (
	"fmt"
	"time"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/vec"
)

// Значения по умолчанию для нового игрока
const (
	DefaultHealth          = 100
	DefaultInventorySpace  = 100
	DefaultMovementPerTurn = 5
	DefaultMetalRods       = 4
)

// ToolTiers количество инструментов одного вида по материалу
type ToolTiers struct {
	Stone  int `json:"stone"`
	Bronze int `json:"bronze"`
	Iron   int `json:"iron"`
}

// Tools инструменты игрока
type Tools struct {
	Pickaxe ToolTiers `json:"pickaxe"`
	Axe     ToolTiers `json:"axe"`
	Shovel  ToolTiers `json:"shovel"`
}

// CraftingMaterials материалы для крафта
type CraftingMaterials struct {
	MetalRod int `json:"metalRod"`
}

// Player запись игрока: инвентарь, инструменты и текущее положение в подземелье
type Player struct {
	ID                string            `json:"id"`
	Health            int               `json:"health"`
	InventorySpace    int               `json:"inventorySpace"`
	MovementPerTurn   int               `json:"movementPerTurn"`
	Resources         dungeon.Resources `json:"resources"`
	Tools             Tools             `json:"tools"`
	CraftingMaterials CraftingMaterials `json:"craftingMaterials"`
	CurrentRoomID     string            `json:"currentRoomId,omitempty"`
	Position          vec.Vec2          `json:"position"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// New создает игрока со значениями по умолчанию
func New(id string, now time.Time) *Player {
	return &Player{
		ID:                id,
		Health:            DefaultHealth,
		InventorySpace:    DefaultInventorySpace,
		MovementPerTurn:   DefaultMovementPerTurn,
		CraftingMaterials: CraftingMaterials{MetalRod: DefaultMetalRods},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Update частичное изменение игрока; nil-поля не меняются.
// Положение и текущая комната меняются только переходами между комнатами.
type Update struct {
	Health            *int               `json:"health,omitempty"`
	InventorySpace    *int               `json:"inventorySpace,omitempty"`
	MovementPerTurn   *int               `json:"movementPerTurn,omitempty"`
	Resources         *dungeon.Resources `json:"resources,omitempty"`
	Tools             *Tools             `json:"tools,omitempty"`
	CraftingMaterials *CraftingMaterials `json:"craftingMaterials,omitempty"`
}

// Apply применяет изменение к игроку после проверки
func (u Update) Apply(p *Player, now time.Time) error {
	next := *p
	if u.Health != nil {
		next.Health = *u.Health
	}
	if u.InventorySpace != nil {
		next.InventorySpace = *u.InventorySpace
	}
	if u.MovementPerTurn != nil {
		next.MovementPerTurn = *u.MovementPerTurn
	}
	if u.Resources != nil {
		next.Resources = *u.Resources
	}
	if u.Tools != nil {
		next.Tools = *u.Tools
	}
	if u.CraftingMaterials != nil {
		next.CraftingMaterials = *u.CraftingMaterials
	}
	if err := next.Validate(); err != nil {
		return err
	}
	next.UpdatedAt = now
	*p = next
	return nil
}

// Validate проверяет, что счётчики игрока неотрицательны
func (p *Player) Validate() error {
	checks := []struct {
		field string
		value int
	}{
		{"health", p.Health},
		{"inventorySpace", p.InventorySpace},
		{"movementPerTurn", p.MovementPerTurn},
		{"craftingMaterials.metalRod", p.CraftingMaterials.MetalRod},
	}
	for i, v := range p.Resources.Values() {
		checks = append(checks, struct {
			field string
			value int
		}{"resources." + dungeon.ResourceNames[i], v})
	}
	tools := []struct {
		name  string
		tiers ToolTiers
	}{{"pickaxe", p.Tools.Pickaxe}, {"axe", p.Tools.Axe}, {"shovel", p.Tools.Shovel}}
	for _, t := range tools {
		if t.tiers.Stone < 0 || t.tiers.Bronze < 0 || t.tiers.Iron < 0 {
			return &dungeon.ValidationError{Entity: "player", Field: "tools." + t.name, Reason: "tool counts must be non-negative"}
		}
	}
	for _, c := range checks {
		if c.value < 0 {
			return &dungeon.ValidationError{
				Entity: "player",
				Field:  c.field,
				Reason: fmt.Sprintf("must be non-negative, got %d", c.value),
			}
		}
	}
	return nil
}

// Clone копия игрока
func (p *Player) Clone() *Player {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
