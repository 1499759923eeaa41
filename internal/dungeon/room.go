package dungeon

import (
	"time"

	"github.com/annel0/grid-dungeon/internal/vec"
	"github.com/google/uuid"
)

// Connection ссылка на соседнюю комнату
type Connection struct {
	RoomID     string `json:"roomId" bson:"room_id"`
	TemplateID string `json:"templateId" bson:"template_id"`
}

// Modification запись журнала изменений клетки.
// Resources хранит набор, записанный в клетку, чтобы журнал можно было воспроизвести.
type Modification struct {
	Position     vec.Vec2  `json:"position" bson:"position"`
	OriginalKind CellKind  `json:"originalKind" bson:"original_kind"`
	NewKind      CellKind  `json:"newKind" bson:"new_kind"`
	Resources    Resources `json:"resources" bson:"resources"`
	Timestamp    time.Time `json:"timestamp" bson:"timestamp"`
}

// RoomInstance изменяемая комната игрока, созданная из шаблона
type RoomInstance struct {
	ID         string `json:"id" bson:"_id"`
	TemplateID string `json:"templateId" bson:"template_id"`
	OwnerID    string `json:"ownerId" bson:"owner_id"`
	Width      int    `json:"width" bson:"width"`
	Height     int    `json:"height" bson:"height"`
	Exits      Exits  `json:"exits" bson:"exits"`

	// Coords положение в сетке подземелья игрока; nil у комнат, созданных вне графа
	Coords *vec.Vec2 `json:"coords,omitempty" bson:"coords,omitempty"`

	Cells         []Cell                   `json:"cells" bson:"cells"`
	Modifications []Modification           `json:"modifications" bson:"modifications"`
	Connections   map[Direction]Connection `json:"connections" bson:"connections"`

	// Version растёт с каждым сохранённым пакетом правок (оптимистичная блокировка)
	Version        int64     `json:"version" bson:"version"`
	CreatedAt      time.Time `json:"createdAt" bson:"created_at"`
	LastModifiedAt time.Time `json:"lastModifiedAt" bson:"last_modified_at"`
}

// NewRoomID генерирует идентификатор комнаты
var NewRoomID = func() string { return uuid.NewString() }

// CellIndex индекс клетки по позиции или -1
func (r *RoomInstance) CellIndex(pos vec.Vec2) int {
	return cellIndex(r.Cells, r.Width, pos)
}

// CellAt клетка по позиции
func (r *RoomInstance) CellAt(pos vec.Vec2) (Cell, bool) {
	idx := r.CellIndex(pos)
	if idx < 0 {
		return Cell{}, false
	}
	return r.Cells[idx], true
}

// ConnectionTo связь в направлении d
func (r *RoomInstance) ConnectionTo(d Direction) (Connection, bool) {
	conn, ok := r.Connections[d]
	return conn, ok
}

// Ref ссылка на эту комнату для записи в соседа
func (r *RoomInstance) Ref() Connection {
	return Connection{RoomID: r.ID, TemplateID: r.TemplateID}
}

// Clone глубокая копия
func (r *RoomInstance) Clone() *RoomInstance {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Coords != nil {
		c := *r.Coords
		cp.Coords = &c
	}
	cp.Cells = cloneCells(r.Cells)
	cp.Modifications = append([]Modification(nil), r.Modifications...)
	if cp.Modifications == nil {
		cp.Modifications = []Modification{}
	}
	cp.Connections = make(map[Direction]Connection, len(r.Connections))
	for d, c := range r.Connections {
		cp.Connections[d] = c
	}
	return &cp
}
