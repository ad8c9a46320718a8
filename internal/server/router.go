package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/atlas-mc/atlas/backend/internal/auth"
	"github.com/atlas-mc/atlas/backend/internal/metrics"
	"github.com/atlas-mc/atlas/backend/internal/packs"
	"github.com/atlas-mc/atlas/backend/internal/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	subjectContextKey  = "atlas_subject"
	ciMethodContextKey = "atlas_ci_method"
)

var (
	errMissingPackService   = errors.New("pack service dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingCIResolver    = errors.New("ci resolver dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenValidator validates a bearer token against a role's audience.
type TokenValidator interface {
	Validate(token string, role auth.Role) (string, error)
}

// CIAuthResolver resolves a CI credential plus pack hint into a CI context.
type CIAuthResolver interface {
	Resolve(ctx context.Context, bearer, packHint string) (auth.CIContext, error)
}

// Dependencies wires the HTTP surface's collaborators.
type Dependencies struct {
	Packs      *packs.Service
	Tokens     TokenValidator
	CIResolver CIAuthResolver
	Storage    *storage.Registry
	Realtime   *PackUpdateDispatcher
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// NewHTTPHandler builds the gin handler serving the distribution API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Packs == nil {
		return nil, errMissingPackService
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.CIResolver == nil {
		return nil, errMissingCIResolver
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "If-None-Match"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		packs:      deps.Packs,
		tokens:     deps.Tokens,
		ciResolver: deps.CIResolver,
		storage:    deps.Storage,
		realtime:   deps.Realtime,
		metrics:    deps.Metrics,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")

	api.POST("/link/:code/complete", handler.handleCompleteLinkSession)

	admin := api.Group("/admin")
	admin.Use(handler.requireRole(auth.RoleAdmin))
	admin.POST("/packs", handler.handleCreatePack)
	admin.POST("/packs/:packId/members", handler.handleAddMember)
	admin.DELETE("/packs/:packId/members/:userId", handler.handleRemoveMember)
	admin.POST("/packs/:packId/members/:userId/link", handler.handleLinkMember)
	admin.POST("/packs/:packId/link-sessions", handler.handleCreateLinkSession)
	admin.POST("/packs/:packId/channels/:channel/promote", handler.handlePromoteChannel)

	ci := api.Group("/ci")
	ci.Use(handler.authorizeCI)
	ci.POST("/packs/:packId/builds", handler.handleIngestBuild)
	ci.POST("/packs/:packId/uploads", handler.handlePresignUpload)

	runner := api.Group("/runner")
	runner.Use(handler.requirePackScopedRole(auth.RoleRunner))
	runner.GET("/packs/:packId/update", handler.handleUpdateCheck)
	runner.GET("/packs/:packId/whitelist", handler.handleWhitelist)
	runner.GET("/packs/:packId/stream", handler.handleStream)

	return router, nil
}

type httpHandler struct {
	packs      *packs.Service
	tokens     TokenValidator
	ciResolver CIAuthResolver
	storage    *storage.Registry
	realtime   *PackUpdateDispatcher
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

// authenticate validates the bearer token against a role's audience and
// returns the subject. On failure it aborts the request itself.
func (h *httpHandler) authenticate(c *gin.Context, role auth.Role) (string, bool) {
	token, ok := bearerToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return "", false
	}
	subject, err := h.tokens.Validate(token, role)
	if err != nil {
		h.logger.Warn("token validation failed", zap.String("role", string(role)), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return subject, true
}

// requireRole authenticates the bearer token against a role's audience.
func (h *httpHandler) requireRole(role auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, ok := h.authenticate(c, role)
		if !ok {
			return
		}
		c.Set(subjectContextKey, subject)
		c.Next()
	}
}

// requirePackScopedRole additionally pins the token's pack scope to the
// requested pack: valid credential, wrong pack is forbidden, not unauthorized.
// The scope check must run before the handler chain, so this is one middleware
// rather than a wrapper around requireRole.
func (h *httpHandler) requirePackScopedRole(role auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, ok := h.authenticate(c, role)
		if !ok {
			return
		}
		if subject != c.Param("packId") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Set(subjectContextKey, subject)
		c.Next()
	}
}

// authorizeCI resolves the CI credential with the path pack as hint.
func (h *httpHandler) authorizeCI(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	ciContext, err := h.ciResolver.Resolve(c.Request.Context(), token, c.Param("packId"))
	if err != nil {
		if errors.Is(err, auth.ErrPackMismatch) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		h.logger.Warn("ci token resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectContextKey, ciContext.PackID)
	c.Set(ciMethodContextKey, ciContext.Method)
	c.Next()
}

// respondError translates service failures into the JSON error taxonomy. No
// internal error detail leaks to the client.
func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, packs.ErrPackNotFound),
		errors.Is(err, packs.ErrChannelNotFound),
		errors.Is(err, packs.ErrBuildNotFound),
		errors.Is(err, packs.ErrMemberNotFound),
		errors.Is(err, packs.ErrLinkSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, packs.ErrMissingField),
		errors.Is(err, packs.ErrInvalidPackID),
		errors.Is(err, packs.ErrInvalidBuildID),
		errors.Is(err, packs.ErrInvalidUserID),
		errors.Is(err, packs.ErrInvalidChannel),
		errors.Is(err, packs.ErrInvalidMojangUUID),
		errors.Is(err, storage.ErrInvalidArtifactRef):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, packs.ErrLinkSessionCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": "link_session_completed"})
	case errors.Is(err, packs.ErrProviderDisabled),
		errors.Is(err, storage.ErrUnknownProvider),
		errors.Is(err, storage.ErrPresignUnsupported):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_provider_unavailable"})
	default:
		h.logger.Error(operation, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
