package identities

import (
	"errors"
	"net/http"
	"strings"

	"github.com/chirino/conversation-identity/internal/identity"
	"github.com/chirino/conversation-identity/internal/model"
	registryroute "github.com/chirino/conversation-identity/internal/registry/route"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 100,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts identity resolution and linking routes.
// Called after store initialization so the resolver is available.
func MountRoutes(r *gin.Engine, resolver *identity.IdentityResolver, auth gin.HandlerFunc) {
	g := r.Group("/v1/identities", auth)

	g.GET("/:kind/:channelIdentity", func(c *gin.Context) {
		resolve(c, resolver)
	})
	g.POST("/:kind/:channelIdentity/link", func(c *gin.Context) {
		link(c, resolver)
	})
}

type linkRequest struct {
	BusinessID  string `json:"businessId"`
	CanonicalID string `json:"canonicalId"`
}

type linkResponse struct {
	ConversationID string   `json:"conversationId"`
	Messages       int      `json:"messages"`
	Duplicates     int      `json:"duplicates"`
	Malformed      int      `json:"malformed"`
	Migrated       []string `json:"migrated"`
}

func channelKind(c *gin.Context) (model.ChannelKind, bool) {
	kind, err := model.ParseChannelKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": "kind"})
		return "", false
	}
	return kind, true
}

func resolve(c *gin.Context, resolver *identity.IdentityResolver) {
	kind, ok := channelKind(c)
	if !ok {
		return
	}
	res, err := resolver.ConversationFor(c.Request.Context(), kind, c.Param("channelIdentity"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func link(c *gin.Context, resolver *identity.IdentityResolver) {
	kind, ok := channelKind(c)
	if !ok {
		return
	}
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.CanonicalID = strings.TrimSpace(req.CanonicalID)
	if (req.BusinessID == "") == (req.CanonicalID == "") {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "exactly one of businessId or canonicalId is required"})
		return
	}

	ctx := c.Request.Context()
	channelIdentity := c.Param("channelIdentity")
	var (
		res identity.LinkResult
		err error
	)
	if req.BusinessID != "" {
		res, err = resolver.LinkChannelToBusinessID(ctx, kind, channelIdentity, req.BusinessID)
	} else {
		res, err = resolver.LinkChannelToCanonical(ctx, kind, channelIdentity, req.CanonicalID)
	}
	if err != nil {
		handleError(c, err)
		return
	}
	migrated := res.Migrated
	if migrated == nil {
		migrated = []string{}
	}
	c.JSON(http.StatusOK, linkResponse{
		ConversationID: res.ConversationID,
		Messages:       res.Merge.Messages,
		Duplicates:     res.Merge.Duplicates,
		Malformed:      res.Merge.Malformed,
		Migrated:       migrated,
	})
}

func handleError(c *gin.Context, err error) {
	switch {
	case identity.IsStoreUnavailable(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "store_unavailable", "error": "store unavailable"})
	case errors.Is(err, identity.ErrInvalidBusinessID):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": "businessId"})
	case errors.Is(err, identity.ErrInvalidCanonicalID):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": "canonicalId"})
	case errors.Is(err, identity.ErrInvalidChannelIdentity):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": "channelIdentity"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
