package conversations

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-identity/internal/identity"
	"github.com/chirino/conversation-identity/internal/model"
	registryroute "github.com/chirino/conversation-identity/internal/registry/route"
	registrystore "github.com/chirino/conversation-identity/internal/registry/store"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 110,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts the conversation log and metadata routes used by channel
// gateways to read and append to a resolved conversation.
func MountRoutes(r *gin.Engine, store registrystore.Store, auth gin.HandlerFunc) {
	g := r.Group("/v1/conversations/:conversationId", auth)

	g.GET("/messages", func(c *gin.Context) {
		listMessages(c, store)
	})
	g.POST("/messages", func(c *gin.Context) {
		appendMessage(c, store)
	})
	g.GET("/metadata", func(c *gin.Context) {
		getMetadata(c, store)
	})
	g.PUT("/metadata", func(c *gin.Context) {
		putMetadata(c, store)
	})
}

func conversationID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("conversationId"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "conversationId is required", "field": "conversationId"})
		return "", false
	}
	return id, true
}

func listMessages(c *gin.Context, store registrystore.Store) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	limit := queryInt(c, "limit", identity.DefaultMergeWindow)
	msgs, err := store.ListMessages(c.Request.Context(), id, limit)
	if err != nil {
		handleError(c, "list_messages", id, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"data": msgs})
}

func appendMessage(c *gin.Context, store registrystore.Store) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	var msg model.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg.Role = model.Role(strings.ToLower(strings.TrimSpace(string(msg.Role))))
	if strings.TrimSpace(msg.Timestamp) == "" {
		msg.Timestamp = time.Now().Format(time.RFC3339)
	}
	if err := msg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	if err := store.AppendMessage(c.Request.Context(), id, msg); err != nil {
		handleError(c, "append_message", id, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func getMetadata(c *gin.Context, store registrystore.Store) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	md, err := store.GetMetadata(c.Request.Context(), id)
	if err != nil {
		handleError(c, "get_metadata", id, err)
		return
	}
	if md == nil {
		md = model.Metadata{}
	}
	c.JSON(http.StatusOK, md)
}

func putMetadata(c *gin.Context, store registrystore.Store) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	var md model.Metadata
	if err := c.ShouldBindJSON(&md); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := store.SetMetadata(c.Request.Context(), id, md); err != nil {
		handleError(c, "set_metadata", id, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// handleError maps a store failure to 503. Every error reaching here comes
// from a backing store.
func handleError(c *gin.Context, op, id string, err error) {
	log.Warn("Conversation store call failed", "op", op, "conversationId", id, "err", &identity.StoreUnavailableError{Op: op, Key: id, Err: err})
	c.JSON(http.StatusServiceUnavailable, gin.H{"code": "store_unavailable", "error": "store unavailable"})
}
