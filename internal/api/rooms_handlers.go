package api

import (
	"fmt"
	"net/http"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/player"
	"github.com/gin-gonic/gin"
)

// CreateRoomRequest запрос на создание комнаты из шаблона
type CreateRoomRequest struct {
	TemplateID string `json:"templateId" binding:"required"`
}

// EditsRequest пакет правок клеток комнаты
type EditsRequest struct {
	Edits []dungeon.Edit `json:"edits" binding:"required"`
}

// CreatePlayerRequest id необязателен: пустой заменяется сгенерированным
type CreatePlayerRequest struct {
	ID string `json:"id"`
}

// ownedRoom загружает комнату текущего игрока; ошибка уже записана в ответ
func (rs *RestServer) ownedRoom(c *gin.Context) (*dungeon.RoomInstance, bool) {
	room, err := rs.service.GetRoomForOwner(c.Request.Context(), c.Param("id"), playerID(c))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return room, true
}

func (rs *RestServer) handleListRooms(c *gin.Context) {
	rooms, err := rs.service.ListRoomsForOwner(c.Request.Context(), playerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Комнаты игрока", rooms)
}

func (rs *RestServer) handleRoomsForTemplate(c *gin.Context) {
	rooms, err := rs.service.ListRoomsForOwnerAndTemplate(c.Request.Context(), playerID(c), c.Param("templateId"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Комнаты игрока по шаблону", rooms)
}

func (rs *RestServer) handleCreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Неверный формат запроса")
		return
	}
	room, err := rs.service.CreateRoomForOwner(c.Request.Context(), req.TemplateID, playerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, "Комната создана", room)
}

// handleCurrentRoom комната, в которой находится игрок; при первом входе создаётся стартовая
func (rs *RestServer) handleCurrentRoom(c *gin.Context) {
	room, err := rs.service.EnterDungeon(c.Request.Context(), playerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Текущая комната", room)
}

func (rs *RestServer) handleGetRoom(c *gin.Context) {
	room, ok := rs.ownedRoom(c)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, "Комната", room)
}

func (rs *RestServer) handleReplayRoom(c *gin.Context) {
	room, ok := rs.ownedRoom(c)
	if !ok {
		return
	}
	res, err := rs.service.ReplayRoom(c.Request.Context(), room.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	msg := "Журнал правок согласован с комнатой"
	if !res.Matches {
		msg = "Журнал правок расходится с комнатой"
	}
	respondOK(c, http.StatusOK, msg, res)
}

func (rs *RestServer) handleNeighbor(c *gin.Context) {
	d, ok := directionParam(c)
	if !ok {
		return
	}
	room, ok := rs.ownedRoom(c)
	if !ok {
		return
	}
	neighbor, err := rs.service.GetOrCreateNeighbor(c.Request.Context(), room.ID, d)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Соседняя комната", neighbor)
}

func (rs *RestServer) handleTransition(c *gin.Context) {
	d, ok := directionParam(c)
	if !ok {
		return
	}
	res, err := rs.service.Transition(c.Request.Context(), playerID(c), c.Param("id"), d)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Переход выполнен", res)
}

// handleEdits применяет пакет правок. Частичный успех отвечает 200 с отчётом,
// пакет без единой применённой правки и с ошибками отвечает 422.
func (rs *RestServer) handleEdits(c *gin.Context) {
	var req EditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Неверный формат правок")
		return
	}
	room, ok := rs.ownedRoom(c)
	if !ok {
		return
	}
	res, err := rs.service.ApplyEdits(c.Request.Context(), room.ID, req.Edits)
	if err != nil {
		respondError(c, err)
		return
	}

	report := res.Report
	msg := fmt.Sprintf("applied %d, failed %d, skipped %d", len(report.Applied), len(report.Failed), len(report.Skipped))
	if len(report.Applied) == 0 && len(report.Failed) > 0 {
		c.JSON(http.StatusUnprocessableEntity, GenericResponse{Success: false, Message: msg, Data: res})
		return
	}
	respondOK(c, http.StatusOK, msg, res)
}

func (rs *RestServer) handleVerifyGraph(c *gin.Context) {
	issues, err := rs.service.VerifyGraph(c.Request.Context(), playerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Проверка связей", gin.H{
		"consistent": len(issues) == 0,
		"issues":     issues,
	})
}

// handleCreatePlayer регистрирует игрока и выдаёт ему токен
func (rs *RestServer) handleCreatePlayer(c *gin.Context) {
	var req CreatePlayerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, "Неверный формат запроса")
			return
		}
	}
	p, err := rs.service.CreatePlayer(c.Request.Context(), req.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	token, err := rs.issuer.GeneratePlayerToken(p.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, "Игрок создан", gin.H{"player": p, "token": token})
}

func (rs *RestServer) handleGetPlayer(c *gin.Context) {
	p, err := rs.service.GetPlayer(c.Request.Context(), playerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Игрок", p)
}

func (rs *RestServer) handleUpdatePlayer(c *gin.Context) {
	var u player.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		respondBadRequest(c, "Неверный формат запроса")
		return
	}
	p, err := rs.service.UpdatePlayer(c.Request.Context(), playerID(c), u)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Игрок обновлён", p)
}

func (rs *RestServer) handleDeletePlayer(c *gin.Context) {
	if err := rs.service.DeletePlayer(c.Request.Context(), playerID(c)); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Игрок удалён", nil)
}
