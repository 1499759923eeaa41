package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// WebhookUpdateRequest частичное обновление webhook'а; пустые поля не меняются
type WebhookUpdateRequest struct {
	Name       string   `json:"name"`
	URL        string   `json:"url"`
	Secret     string   `json:"secret"`
	Events     []string `json:"events"`
	Active     *bool    `json:"active"`
	Timeout    int      `json:"timeout"`
	RetryCount *int     `json:"retry_count"`
}

// webhookManager возвращает менеджер или отвечает 501, если он не настроен
func (rs *RestServer) webhookManager(c *gin.Context) (*OutboundWebhookManager, bool) {
	if rs.webhooks == nil {
		c.JSON(http.StatusNotImplemented, GenericResponse{Success: false, Message: "Webhook'и отключены"})
		return nil, false
	}
	return rs.webhooks, true
}

func webhookID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondBadRequest(c, "Неверный ID webhook'а")
		return 0, false
	}
	return id, true
}

func webhookNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: "Webhook не найден"})
}

func (rs *RestServer) handleGetOutboundWebhooks(c *gin.Context) {
	m, ok := rs.webhookManager(c)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, "Список webhook'ов", m.GetWebhooks())
}

func (rs *RestServer) handleCreateOutboundWebhook(c *gin.Context) {
	m, ok := rs.webhookManager(c)
	if !ok {
		return
	}
	var webhook OutboundWebhook
	if err := c.ShouldBindJSON(&webhook); err != nil {
		respondBadRequest(c, "Неверный формат webhook'а: "+err.Error())
		return
	}
	respondOK(c, http.StatusCreated, "Webhook создан", m.AddWebhook(webhook))
}

func (rs *RestServer) handleGetOutboundWebhook(c *gin.Context) {
	m, ok := rs.webhookManager(c)
	if !ok {
		return
	}
	id, ok := webhookID(c)
	if !ok {
		return
	}
	webhook, found := m.GetWebhook(id)
	if !found {
		webhookNotFound(c)
		return
	}
	respondOK(c, http.StatusOK, "Webhook", webhook)
}

func (rs *RestServer) handleUpdateOutboundWebhook(c *gin.Context) {
	m, ok := rs.webhookManager(c)
	if !ok {
		return
	}
	id, ok := webhookID(c)
	if !ok {
		return
	}
	var req WebhookUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Неверный формат webhook'а")
		return
	}
	current, found := m.GetWebhook(id)
	if !found {
		webhookNotFound(c)
		return
	}
	updates := OutboundWebhook{
		Name:       req.Name,
		URL:        req.URL,
		Secret:     req.Secret,
		Events:     req.Events,
		Timeout:    req.Timeout,
		RetryCount: -1,
		Active:     current.Active,
	}
	if req.RetryCount != nil {
		updates.RetryCount = *req.RetryCount
	}
	if req.Active != nil {
		updates.Active = *req.Active
	}
	webhook, found := m.UpdateWebhook(id, updates)
	if !found {
		webhookNotFound(c)
		return
	}
	respondOK(c, http.StatusOK, "Webhook обновлён", webhook)
}

func (rs *RestServer) handleDeleteOutboundWebhook(c *gin.Context) {
	m, ok := rs.webhookManager(c)
	if !ok {
		return
	}
	id, ok := webhookID(c)
	if !ok {
		return
	}
	if !m.DeleteWebhook(id) {
		webhookNotFound(c)
		return
	}
	respondOK(c, http.StatusOK, "Webhook удалён", nil)
}

func (rs *RestServer) handleTestOutboundWebhook(c *gin.Context) {
	m, ok := rs.webhookManager(c)
	if !ok {
		return
	}
	id, ok := webhookID(c)
	if !ok {
		return
	}
	if _, found := m.GetWebhook(id); !found {
		webhookNotFound(c)
		return
	}
	if err := m.TestWebhook(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusBadGateway, GenericResponse{Success: false, Message: "Тестовое событие не доставлено: " + err.Error()})
		return
	}
	respondOK(c, http.StatusOK, "Тестовое событие доставлено", nil)
}

func (rs *RestServer) handleGetWebhookEventTypes(c *gin.Context) {
	m, ok := rs.webhookManager(c)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, "Типы событий", m.GetEventTypes())
}
