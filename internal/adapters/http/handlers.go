package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/echo-project/echo-signal/internal/app"
	"github.com/echo-project/echo-signal/internal/app/call"
	"github.com/echo-project/echo-signal/internal/presence"
	"github.com/echo-project/echo-signal/internal/store"
)

type Handlers struct {
	Store    store.Store
	CallLog  *call.Log
	Limiter  *app.RateLimiter
	Presence presence.SetStore
}

type contactRequest struct {
	OwnerID   string `json:"ownerId"`
	Name      string `json:"name"`
	ContactID string `json:"contactId"`
}

func (h *Handlers) ListContacts(c *gin.Context) {
	owner, ok := requireOwner(c, c.Query("ownerId"))
	if !ok {
		return
	}
	contacts, err := h.Store.ListContacts(c.Request.Context(), owner)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("list contacts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	if contacts == nil {
		contacts = []store.Contact{}
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts})
}

func (h *Handlers) UpsertContact(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Name == "" && req.ContactID == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name or contactId"})
		return
	}
	owner, ok := requireOwner(c, req.OwnerID)
	if !ok {
		return
	}
	if !throttle(c, h.Limiter, "contacts") {
		return
	}
	err := h.Store.UpsertContact(c.Request.Context(), store.Contact{
		OwnerID: owner, Name: req.Name, ContactID: req.ContactID,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("upsert contact")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) DeleteContact(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Name == "" && req.ContactID == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name or contactId"})
		return
	}
	owner, ok := requireOwner(c, req.OwnerID)
	if !ok {
		return
	}
	if !throttle(c, h.Limiter, "contacts") {
		return
	}
	key := req.Name
	if key == "" {
		key = req.ContactID
	}
	err := h.Store.DeleteContact(c.Request.Context(), owner, key)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("delete contact")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Online lists the members of the shared presence set: everyone online,
// or one room's members when ?room= is given. This reads the presence
// store rather than the local registry, so in a multi-instance deployment
// it covers connections on other instances too.
func (h *Handlers) Online(c *gin.Context) {
	set := presence.SetOnline
	if room := c.Query("room"); room != "" {
		set = presence.RoomSet(room)
	}
	members, err := h.Presence.Members(c.Request.Context(), set)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("presence members")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presence unavailable"})
		return
	}
	if members == nil {
		members = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"online": members})
}

// RecentMessages returns the newest window of a room's chat history,
// oldest first. Best effort: the relay may have dropped appends.
func (h *Handlers) RecentMessages(c *gin.Context) {
	n := 0
	if q := c.Query("n"); q != "" {
		n, _ = strconv.Atoi(q)
	}
	messages, err := h.Store.QueryMessages(c.Request.Context(), c.Query("room"), n)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("query messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// RecentCalls returns the call history window, most recent first.
func (h *Handlers) RecentCalls(c *gin.Context) {
	n := 0
	if q := c.Query("n"); q != "" {
		n, _ = strconv.Atoi(q)
	}
	c.JSON(http.StatusOK, gin.H{"calls": h.CallLog.Recent(n)})
}
