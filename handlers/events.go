package handlers

import (
	"errors"
	"net/http"

	"roster-api/models"
	"roster-api/store"
	"roster-api/types"

	"github.com/gin-gonic/gin"
)

// EventsHandler is the mutation gateway: it validates requests, applies them
// against the roster store and answers the caller. Change descriptors for
// committed mutations are published by the store itself, inside the per-event
// critical section, so fanout order always matches commit order.
type EventsHandler struct {
	roster *store.Roster
}

func NewEventsHandler(roster *store.Roster) *EventsHandler {
	return &EventsHandler{roster: roster}
}

func currentUser(c *gin.Context) models.UserRef {
	return models.UserRef{ID: c.GetInt("userId"), Name: c.GetString("userName")}
}

func (h *EventsHandler) CreateEvent(c *gin.Context) {
	var req struct {
		Name      string `json:"name" binding:"required"`
		Location  string `json:"location" binding:"required"`
		StartTime string `json:"startTime" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrorCodeValidation, err.Error()))
		return
	}

	ev, err := h.roster.CreateEvent(store.EventSpec{
		Name:      req.Name,
		Location:  req.Location,
		StartTime: req.StartTime,
	})
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrorCodeValidation, err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.ErrorCodeInternal, err.Error()))
		return
	}

	c.JSON(http.StatusCreated, types.NewSuccessResponse(ev))
}

func (h *EventsHandler) JoinEvent(c *gin.Context) {
	eventID := c.Param("eventId")
	user := currentUser(c)

	ev, _, err := h.roster.Join(eventID, user)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse(types.ErrorCodeNotFound, "Event not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.ErrorCodeInternal, err.Error()))
		return
	}

	c.JSON(http.StatusOK, types.NewSuccessResponse(ev))
}

func (h *EventsHandler) LeaveEvent(c *gin.Context) {
	eventID := c.Param("eventId")
	user := currentUser(c)

	ev, _, err := h.roster.Leave(eventID, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse(types.ErrorCodeNotFound, "Event not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.ErrorCodeInternal, err.Error()))
		return
	}

	c.JSON(http.StatusOK, types.NewSuccessResponse(ev))
}

func (h *EventsHandler) ListEvents(c *gin.Context) {
	c.JSON(http.StatusOK, types.NewSuccessResponse(h.roster.List()))
}
