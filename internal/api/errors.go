package api

import (
	"errors"
	"net/http"

	"github.com/annel0/grid-dungeon/internal/auth"
	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/gamemap"
	"github.com/annel0/grid-dungeon/internal/player"
	"github.com/annel0/grid-dungeon/internal/storage"
	"github.com/gin-gonic/gin"
)

const msgNoCompatibleRoom = "no compatible room could be generated"

// statusFor сопоставляет ошибку ядра HTTP-статусу и сообщению для клиента.
// Порядок важен: ErrTemplateNameTaken оборачивает ErrValidation,
// а ValidationError с причиной ErrCellLocked остаётся ошибкой валидации.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, dungeon.ErrNoTemplateAvailable):
		return http.StatusConflict, msgNoCompatibleRoom
	case errors.Is(err, storage.ErrTemplateNameTaken),
		errors.Is(err, player.ErrPlayerExists),
		errors.Is(err, auth.ErrUserExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, dungeon.ErrValidation),
		errors.Is(err, dungeon.ErrResourceInvariant),
		errors.Is(err, dungeon.ErrTemplateInvalid):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, dungeon.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, dungeon.ErrConsistency):
		return http.StatusConflict, err.Error()
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Неверное имя пользователя или пароль"
	case errors.Is(err, gamemap.ErrPlayersDisabled):
		return http.StatusNotImplemented, "player records are disabled"
	default:
		return http.StatusInternalServerError, "Внутренняя ошибка сервера"
	}
}

// respondError пишет ошибку в конверте GenericResponse
func respondError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, GenericResponse{Success: false, Message: msg})
}

func respondBadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: msg})
}

func respondOK(c *gin.Context, status int, msg string, data interface{}) {
	c.JSON(status, GenericResponse{Success: true, Message: msg, Data: data})
}
