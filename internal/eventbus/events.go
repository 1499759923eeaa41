package eventbus

// Типы доменных событий подземелья
const (
	TypeTemplateCreated = "TemplateCreated"
	TypeTemplateDeleted = "TemplateDeleted"
	TypeRoomCreated     = "RoomCreated"
	TypeRoomsLinked     = "RoomsLinked"
	TypeCellsModified   = "CellsModified"
)

// TemplateEvent полезная нагрузка TemplateCreated / TemplateDeleted
type TemplateEvent struct {
	TemplateID string   `json:"templateId"`
	Name       string   `json:"name"`
	Exits      []string `json:"exits,omitempty"`
}

// RoomCreatedEvent новая комната игрока
type RoomCreatedEvent struct {
	RoomID     string `json:"roomId"`
	TemplateID string `json:"templateId"`
	OwnerID    string `json:"ownerId"`
	// FromRoomID/Direction заданы, если комната создана переходом
	FromRoomID string `json:"fromRoomId,omitempty"`
	Direction  string `json:"direction,omitempty"`
}

// RoomsLinkedEvent связь между двумя уже существующими комнатами
type RoomsLinkedEvent struct {
	OwnerID    string `json:"ownerId"`
	RoomID     string `json:"roomId"`
	Direction  string `json:"direction"`
	NeighborID string `json:"neighborId"`
}

// CellsModifiedEvent принятый пакет правок
type CellsModifiedEvent struct {
	RoomID    string `json:"roomId"`
	OwnerID   string `json:"ownerId"`
	Applied   int    `json:"applied"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Version   int64  `json:"version"`
	Harvested int    `json:"harvested"`
}
