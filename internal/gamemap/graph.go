package gamemap

import (
	"context"
	"fmt"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"go.opentelemetry.io/otel/attribute"
)

// GraphIssue нарушение симметрии связей между комнатами
type GraphIssue struct {
	RoomID     string            `json:"roomId"`
	Direction  dungeon.Direction `json:"direction"`
	NeighborID string            `json:"neighborId"`
	Problem    string            `json:"problem"`
}

// VerifyGraph проверяет связи всех комнат игрока: каждая ссылка должна вести
// к существующей комнате того же игрока, которая ссылается обратно.
// Пустой результат означает согласованный граф.
func (s *Service) VerifyGraph(ctx context.Context, ownerID string) (issues []GraphIssue, err error) {
	ctx, end := s.startSpan(ctx, "VerifyGraph", attribute.String("owner.id", ownerID))
	defer end(&err)

	rooms, err := s.rooms.ListRoomsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*dungeon.RoomInstance, len(rooms))
	for _, r := range rooms {
		byID[r.ID] = r
	}

	issues = []GraphIssue{}
	for _, r := range rooms {
		for _, d := range dungeon.Directions {
			conn, ok := r.ConnectionTo(d)
			if !ok {
				continue
			}
			report := func(format string, args ...interface{}) {
				issues = append(issues, GraphIssue{
					RoomID:     r.ID,
					Direction:  d,
					NeighborID: conn.RoomID,
					Problem:    fmt.Sprintf(format, args...),
				})
			}

			if !r.Exits.Has(d) {
				report("room has no %s exit", d)
			}
			n, ok := byID[conn.RoomID]
			if !ok {
				report("neighbor is missing or belongs to another player")
				continue
			}
			if conn.TemplateID != n.TemplateID {
				report("link names template %s, neighbor uses %s", conn.TemplateID, n.TemplateID)
			}
			back, ok := n.ConnectionTo(d.Opposite())
			switch {
			case !ok:
				report("neighbor has no %s link back", d.Opposite())
			case back.RoomID != r.ID:
				report("neighbor links %s to %s instead", d.Opposite(), back.RoomID)
			}
			if r.Coords != nil && n.Coords != nil && *n.Coords != r.Coords.Add(d.Delta()) {
				report("neighbor is at %s, expected %s", n.Coords, r.Coords.Add(d.Delta()))
			}
		}
	}
	if len(issues) > 0 {
		s.logger.Warn("dungeon of %s has %d inconsistent links", ownerID, len(issues))
	}
	return issues, nil
}
