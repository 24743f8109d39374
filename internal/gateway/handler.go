package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"presence-service/internal/identity"
	"presence-service/internal/logger"
	"presence-service/internal/middleware"
	"presence-service/internal/presence"
	"presence-service/internal/registry"
)

type Handler struct {
	hub      *presence.Hub
	resolver identity.Resolver
	upgrader websocket.Upgrader
}

func NewHandler(hub *presence.Hub, resolver identity.Resolver, allowedOrigins []string) *Handler {
	return &Handler{
		hub:      hub,
		resolver: resolver,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine, requireAuth gin.HandlerFunc) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	grp := r.Group("/presence")
	grp.Use(requireAuth)
	grp.GET("/:documentId", h.upgrade)
}

// upgrade validates identity, switches protocols and hands the socket to
// the document's room. Incomplete identity is rejected before any
// connection or state exists.
func (h *Handler) upgrade(c *gin.Context) {
	documentID := c.Param("documentId")

	authedID, ok := middleware.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID := c.Query("userId")
	if userID == "" {
		userID = authedID
	}
	if userID != authedID {
		c.JSON(http.StatusForbidden, gin.H{"error": "user mismatch"})
		return
	}

	name := c.Query("userName")
	email := c.Query("userEmail")
	var image *string
	if img := c.Query("userImage"); img != "" {
		image = &img
	}

	// Fill blanks from the CMS profile when the client did not send them.
	if (name == "" || email == "") && h.resolver != nil {
		profile, err := h.resolver.Profile(c.Request.Context(), userID)
		if err != nil {
			logger.Error("profile lookup failed", map[string]any{
				"userId": userID, "error": err.Error(),
			})
		}
		if profile != nil {
			if name == "" {
				name = profile.Name
			}
			if email == "" {
				email = profile.Email
			}
			if image == nil {
				image = profile.Image
			}
		}
	}

	if name == "" || email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing identity fields"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the failure response.
		return
	}

	att := registry.Attachment{
		ConnID:    uuid.NewString(),
		RoomID:    documentID,
		UserID:    userID,
		UserName:  name,
		UserEmail: email,
		UserImage: image,
		JoinedAt:  time.Now().UnixMilli(),
		IsActive:  true,
	}

	// The request context dies with the handler; the connection does not.
	if _, err := h.hub.Join(context.Background(), att, ws); err != nil {
		logger.Error("join failed", map[string]any{
			"documentId": documentID, "userId": userID, "error": err.Error(),
		})
		ws.Close()
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true } // dev default; lock down via ALLOWED_ORIGINS
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser client
		}
		_, ok := set[origin]
		return ok
	}
}
