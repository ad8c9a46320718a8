package server

import (
	"net/http"
	"time"

	"github.com/atlas-mc/atlas/backend/internal/packs"
	"github.com/gin-gonic/gin"
)

type createPackRequestPayload struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleCreatePack(c *gin.Context) {
	var request createPackRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	pack, channels, err := h.packs.CreatePack(c.Request.Context(), request.Name)
	if err != nil {
		h.respondError(c, "pack creation failed", err)
		return
	}

	channelPayloads := make([]channelPayload, 0, len(channels))
	for _, channel := range channels {
		channelPayloads = append(channelPayloads, renderChannel(channel))
	}
	c.JSON(http.StatusOK, gin.H{
		"pack": gin.H{
			"pack_id":           pack.ID,
			"name":              pack.Name,
			"whitelist_version": pack.WhitelistVersion,
		},
		"channels": channelPayloads,
	})
}

type addMemberRequestPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

func (h *httpHandler) handleAddMember(c *gin.Context) {
	packID, err := packs.NewPackID(c.Param("packId"))
	if err != nil {
		h.respondError(c, "add member failed", err)
		return
	}

	var request addMemberRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID, err := packs.NewUserID(request.UserID)
	if err != nil {
		h.respondError(c, "add member failed", err)
		return
	}

	member, err := h.packs.AddMember(c.Request.Context(), packID, userID, request.DisplayName)
	if err != nil {
		h.respondError(c, "add member failed", err)
		return
	}
	c.JSON(http.StatusOK, renderMember(member))
}

func (h *httpHandler) handleRemoveMember(c *gin.Context) {
	packID, err := packs.NewPackID(c.Param("packId"))
	if err != nil {
		h.respondError(c, "remove member failed", err)
		return
	}
	userID, err := packs.NewUserID(c.Param("userId"))
	if err != nil {
		h.respondError(c, "remove member failed", err)
		return
	}

	if err := h.packs.RemoveMember(c.Request.Context(), packID, userID); err != nil {
		h.respondError(c, "remove member failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

type linkMemberRequestPayload struct {
	MojangUUID string `json:"mojang_uuid"`
	MojangName string `json:"mojang_name"`
}

func (h *httpHandler) handleLinkMember(c *gin.Context) {
	packID, err := packs.NewPackID(c.Param("packId"))
	if err != nil {
		h.respondError(c, "link member failed", err)
		return
	}
	userID, err := packs.NewUserID(c.Param("userId"))
	if err != nil {
		h.respondError(c, "link member failed", err)
		return
	}

	var request linkMemberRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	member, err := h.packs.LinkMember(c.Request.Context(), packID, userID, request.MojangUUID, request.MojangName)
	if err != nil {
		h.respondError(c, "link member failed", err)
		return
	}
	c.JSON(http.StatusOK, renderMember(member))
}

func renderMember(member packs.PackMember) gin.H {
	return gin.H{
		"pack_id":      member.PackID,
		"user_id":      member.UserID,
		"display_name": member.DisplayName,
		"mojang_uuid":  member.MojangUUID,
		"mojang_name":  member.MojangName,
		"joined_at_s":  member.JoinedAtSeconds,
	}
}

type createLinkSessionRequestPayload struct {
	UserID     string `json:"user_id"`
	TTLSeconds int64  `json:"ttl_s"`
}

func (h *httpHandler) handleCreateLinkSession(c *gin.Context) {
	packID, err := packs.NewPackID(c.Param("packId"))
	if err != nil {
		h.respondError(c, "link session creation failed", err)
		return
	}

	var request createLinkSessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID, err := packs.NewUserID(request.UserID)
	if err != nil {
		h.respondError(c, "link session creation failed", err)
		return
	}

	session, err := h.packs.CreateLinkSession(c.Request.Context(), packID, userID, time.Duration(request.TTLSeconds)*time.Second)
	if err != nil {
		h.respondError(c, "link session creation failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":         session.Code,
		"pack_id":      session.PackID,
		"user_id":      session.UserID,
		"expires_at_s": session.ExpiresAtSeconds,
	})
}

type completeLinkSessionRequestPayload struct {
	MojangUUID string `json:"mojang_uuid"`
	MojangName string `json:"mojang_name"`
}

func (h *httpHandler) handleCompleteLinkSession(c *gin.Context) {
	var request completeLinkSessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.MojangName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.packs.CompleteLinkSession(c.Request.Context(), c.Param("code"), request.MojangUUID, request.MojangName)
	if err != nil {
		h.respondError(c, "link session completion failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pack_id":     session.PackID,
		"user_id":     session.UserID,
		"mojang_uuid": session.MojangUUID,
		"mojang_name": session.MojangName,
		"state":       session.State,
	})
}

type promoteRequestPayload struct {
	BuildID string `json:"build_id"`
}

func (h *httpHandler) handlePromoteChannel(c *gin.Context) {
	packID, err := packs.NewPackID(c.Param("packId"))
	if err != nil {
		h.respondError(c, "channel promotion failed", err)
		return
	}
	channel, err := packs.ParseChannelName(c.Param("channel"))
	if err != nil {
		h.respondError(c, "channel promotion failed", err)
		return
	}

	var request promoteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	buildID, err := packs.NewBuildID(request.BuildID)
	if err != nil {
		h.respondError(c, "channel promotion failed", err)
		return
	}

	pointer, err := h.packs.PromoteChannel(c.Request.Context(), packID, channel, buildID)
	if err != nil {
		h.respondError(c, "channel promotion failed", err)
		return
	}
	c.JSON(http.StatusOK, renderChannel(pointer))
}
