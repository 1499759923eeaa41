package api

import (
	"net/http"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/gin-gonic/gin"
)

// TemplateSummary краткое описание шаблона для списков
type TemplateSummary struct {
	ID     string              `json:"id"`
	Name   string              `json:"name"`
	Width  int                 `json:"width"`
	Height int                 `json:"height"`
	Exits  dungeon.Exits       `json:"exits"`
	Doors  []dungeon.Direction `json:"doors"`
}

func summarize(ts []*dungeon.BaseMapTemplate) []TemplateSummary {
	out := make([]TemplateSummary, 0, len(ts))
	for _, t := range ts {
		out = append(out, TemplateSummary{
			ID:     t.ID,
			Name:   t.Name,
			Width:  t.Width,
			Height: t.Height,
			Exits:  t.Exits,
			Doors:  t.Exits.List(),
		})
	}
	return out
}

// directionParam разбирает направление из пути; ошибка уже записана в ответ
func directionParam(c *gin.Context) (dungeon.Direction, bool) {
	d, err := dungeon.ParseDirection(c.Param("direction"))
	if err != nil {
		respondError(c, err)
		return "", false
	}
	return d, true
}

func (rs *RestServer) handleListTemplates(c *gin.Context) {
	ts, err := rs.service.ListTemplates(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Шаблоны", summarize(ts))
}

func (rs *RestServer) handleGetTemplate(c *gin.Context) {
	t, err := rs.service.GetTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Шаблон", t)
}

func (rs *RestServer) handleTemplateExits(c *gin.Context) {
	exits, err := rs.service.TemplateExits(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Выходы шаблона", exits)
}

func (rs *RestServer) handleTemplatesWithExit(c *gin.Context) {
	d, ok := directionParam(c)
	if !ok {
		return
	}
	ts, err := rs.service.ListTemplatesWithExit(c.Request.Context(), d)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Шаблоны с выходом "+string(d), summarize(ts))
}

func (rs *RestServer) handleRandomTemplate(c *gin.Context) {
	d, ok := directionParam(c)
	if !ok {
		return
	}
	t, err := rs.service.FindRandomWithExit(c.Request.Context(), d)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Случайный шаблон", t)
}

// handleCreateTemplate сохраняет шаблон, присланный редактором
func (rs *RestServer) handleCreateTemplate(c *gin.Context) {
	var candidate dungeon.TemplateCandidate
	if err := c.ShouldBindJSON(&candidate); err != nil {
		respondBadRequest(c, "Неверный формат шаблона: "+err.Error())
		return
	}
	t, err := rs.service.CreateTemplate(c.Request.Context(), candidate)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, "Шаблон создан", t)
}

func (rs *RestServer) handleDeleteTemplate(c *gin.Context) {
	if err := rs.service.DeleteTemplate(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Шаблон удалён", nil)
}
