package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mr1hm/nepal-hazard-watch/internal/alerts"
	"github.com/mr1hm/nepal-hazard-watch/internal/engine"
	"github.com/mr1hm/nepal-hazard-watch/internal/location"
	"github.com/mr1hm/nepal-hazard-watch/internal/models"
	"github.com/mr1hm/nepal-hazard-watch/internal/repository"
)

// streamBuffer is how many changes a slow SSE client may fall behind
// before changes are dropped for it.
const streamBuffer = 32

// Engine is the part of engine.Engine the HTTP surface uses.
type Engine interface {
	CurrentAlerts() []models.Alert
	DismissAlert(id string) bool
	Subscribe(fn alerts.Listener) func()
	OfferTestAlert(kind models.AlertKind) (models.Alert, bool, error)
	NearbyHazards() []models.RankedHazard
	Conditions() engine.Conditions
	Location() models.Location
	SetLocation(loc models.Location) error
	Search(ctx context.Context, text string) ([]models.PlaceCandidate, error)
	UseDeviceLocation(ctx context.Context, locator location.DeviceLocator) (models.Location, error)
}

type Handler struct {
	engine   Engine
	contacts repository.ContactRepository
}

func NewHandler(e Engine, contacts repository.ContactRepository) *Handler {
	return &Handler{
		engine:   e,
		contacts: contacts,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/api/alerts", h.getAlerts)
	r.DELETE("/api/alerts/:id", h.dismissAlert)
	r.GET("/api/alerts/stream", h.streamAlerts)
	r.POST("/api/debug/test-alert", h.createTestAlert)

	r.GET("/api/hazards/nearby", h.getNearbyHazards)
	r.GET("/api/conditions", h.getConditions)

	r.GET("/api/location", h.getLocation)
	r.PUT("/api/location", h.setLocation)
	r.GET("/api/location/search", h.searchLocation)
	r.POST("/api/location/device", h.useDeviceLocation)

	r.GET("/api/contacts", h.getContacts)
	r.GET("/api/contacts/:id", h.getContact)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) getAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": h.engine.CurrentAlerts()})
}

// dismissAlert answers 204 whether or not the alert was still live.
func (h *Handler) dismissAlert(c *gin.Context) {
	h.engine.DismissAlert(c.Param("id"))
	c.Status(http.StatusNoContent)
}

// streamAlerts sends the live feed as a "snapshot" event, then one
// "alert" event per change until the client goes away.
func (h *Handler) streamAlerts(c *gin.Context) {
	changes := make(chan models.AlertChange, streamBuffer)
	unsubscribe := h.engine.Subscribe(func(ch models.AlertChange) {
		select {
		case changes <- ch:
		default:
		}
	})
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", h.engine.CurrentAlerts())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ch := <-changes:
			c.SSEvent("alert", ch)
			return true
		}
	})
}

type testAlertRequest struct {
	Kind string `json:"kind" binding:"required"`
}

// createTestAlert runs a synthetic candidate through admission, so a
// repeat of a non-earthquake kind is rejected as a duplicate.
func (h *Handler) createTestAlert(c *gin.Context) {
	var req testAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind is required"})
		return
	}

	alert, admitted, err := h.engine.OfferTestAlert(models.AlertKind(req.Kind))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !admitted {
		c.JSON(http.StatusOK, gin.H{
			"admitted": false,
			"message":  "duplicate of a live alert",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"admitted": true,
		"alert":    alert,
	})
}

func (h *Handler) getNearbyHazards(c *gin.Context) {
	hazards := h.engine.NearbyHazards()

	if c.Query("format") == "geojson" {
		c.Header("Content-Type", "application/geo+json")
		c.JSON(http.StatusOK, toGeoJSON(hazards))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"location": h.engine.Location(),
		"hazards":  hazards,
	})
}

func (h *Handler) getConditions(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Conditions())
}

func (h *Handler) getLocation(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Location())
}

type locationRequest struct {
	Name string   `json:"name"`
	Lat  *float64 `json:"lat"`
	Lon  *float64 `json:"lon"`
}

func (h *Handler) setLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Lat == nil || req.Lon == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lon are required"})
		return
	}

	loc := models.Location{Name: req.Name, Lat: *req.Lat, Lon: *req.Lon}
	if err := h.engine.SetLocation(loc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, loc)
}

// searchLocation waits out the debounce. A request overtaken by a newer
// search gets 409.
func (h *Handler) searchLocation(c *gin.Context) {
	results, err := h.engine.Search(c.Request.Context(), c.Query("q"))
	switch {
	case errors.Is(err, location.ErrSuperseded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, context.Canceled):
		c.Status(499)
		return
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": "location search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// useDeviceLocation takes the coordinates the client's device reported.
// Missing coordinates mean the client could not get a fix.
func (h *Handler) useDeviceLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Lat == nil || req.Lon == nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": location.ErrLocationUnavailable.Error()})
		return
	}

	loc, err := h.engine.UseDeviceLocation(c.Request.Context(), location.Fixed(*req.Lat, *req.Lon))
	switch {
	case errors.Is(err, location.ErrInvalidLocation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, loc)
}

func (h *Handler) getContacts(c *gin.Context) {
	contacts, err := h.contacts.ListContacts(c.Request.Context(), c.Query("q"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to fetch contacts",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts})
}

func (h *Handler) getContact(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contact id"})
		return
	}

	contact, err := h.contacts.GetContact(c.Request.Context(), id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch contact"})
		return
	}
	c.JSON(http.StatusOK, contact)
}
