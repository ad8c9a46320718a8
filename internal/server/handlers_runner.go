package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/atlas-mc/atlas/backend/internal/metrics"
	"github.com/atlas-mc/atlas/backend/internal/packs"
	"github.com/gin-gonic/gin"
)

const streamHeartbeatInterval = 15 * time.Second

type updateCheckPayload struct {
	PackID           string `json:"pack_id"`
	Channel          string `json:"channel"`
	BuildID          string `json:"build_id"`
	Version          string `json:"version"`
	MinecraftVersion string `json:"minecraft_version,omitempty"`
	Loader           string `json:"loader,omitempty"`
	LoaderVersion    string `json:"loader_version,omitempty"`
	ForceReinstall   bool   `json:"force_reinstall"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

// handleUpdateCheck is the polling endpoint runners hit for new builds. The
// ETag short-circuits unchanged pointers to an empty 304.
func (h *httpHandler) handleUpdateCheck(c *gin.Context) {
	packID, err := packs.NewPackID(c.Param("packId"))
	if err != nil {
		h.metrics.RecordUpdateCheck(metrics.OutcomeNotFound)
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	channel := packs.ChannelNameOrDefault(c.Query("channel"))

	status, err := h.packs.ResolveChannel(c.Request.Context(), packID, channel)
	if err != nil {
		if errors.Is(err, packs.ErrChannelNotFound) || errors.Is(err, packs.ErrBuildNotFound) || errors.Is(err, packs.ErrPackNotFound) {
			h.metrics.RecordUpdateCheck(metrics.OutcomeNotFound)
		} else {
			h.metrics.RecordUpdateCheck(metrics.OutcomeError)
		}
		h.respondError(c, "update check failed", err)
		return
	}

	etag := channelETag(status)
	c.Header("ETag", etag)
	c.Header("Cache-Control", "private")

	if etagMatches(c.GetHeader("If-None-Match"), etag) {
		h.metrics.RecordUpdateCheck(metrics.OutcomeFresh)
		c.Status(http.StatusNotModified)
		return
	}

	h.metrics.RecordUpdateCheck(metrics.OutcomeModified)
	c.JSON(http.StatusOK, updateCheckPayload{
		PackID:           status.PackID,
		Channel:          string(status.Channel),
		BuildID:          status.BuildID,
		Version:          status.Version,
		MinecraftVersion: status.MinecraftVersion,
		Loader:           status.Loader,
		LoaderVersion:    status.LoaderVersion,
		ForceReinstall:   status.ForceReinstall,
		UpdatedAtSeconds: status.UpdatedAtSeconds,
	})
}

type whitelistPayload struct {
	Version int64                  `json:"version"`
	Data    []packs.WhitelistEntry `json:"data"`
}

// handleWhitelist serves the cached allowlist with a version-derived ETag.
// The version read recomputes on absence or staleness, so a validator quoting
// a superseded version never produces a 304.
func (h *httpHandler) handleWhitelist(c *gin.Context) {
	packID, err := packs.NewPackID(c.Param("packId"))
	if err != nil {
		h.metrics.RecordWhitelistRequest(metrics.OutcomeNotFound)
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	version, err := h.packs.WhitelistVersion(c.Request.Context(), packID)
	if err != nil {
		if errors.Is(err, packs.ErrPackNotFound) {
			h.metrics.RecordWhitelistRequest(metrics.OutcomeNotFound)
		} else {
			h.metrics.RecordWhitelistRequest(metrics.OutcomeError)
		}
		h.respondError(c, "whitelist version read failed", err)
		return
	}

	etag := whitelistETag(version)
	c.Header("ETag", etag)
	c.Header("Cache-Control", "private")

	if etagMatches(c.GetHeader("If-None-Match"), etag) {
		h.metrics.RecordWhitelistRequest(metrics.OutcomeFresh)
		c.Status(http.StatusNotModified)
		return
	}

	whitelist, err := h.packs.WhitelistByVersion(c.Request.Context(), packID, version, true)
	if errors.Is(err, packs.ErrWhitelistMiss) {
		// Version-pinned lookup lost a race with a concurrent counter bump;
		// fall back to the unconditioned read.
		whitelist, err = h.packs.GetWhitelist(c.Request.Context(), packID)
	}
	if err != nil {
		h.metrics.RecordWhitelistRequest(metrics.OutcomeError)
		h.respondError(c, "whitelist read failed", err)
		return
	}

	// The fallback may return a newer snapshot than the version read above;
	// the validator must always describe the body it is sent with.
	c.Header("ETag", whitelistETag(whitelist.Version))

	h.metrics.RecordWhitelistRequest(metrics.OutcomeModified)
	c.JSON(http.StatusOK, whitelistPayload{Version: whitelist.Version, Data: whitelist.Entries})
}

type packUpdateEventPayload struct {
	PackID    string `json:"pack_id"`
	Channel   string `json:"channel"`
	BuildID   string `json:"build_id"`
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp_s"`
}

// handleStream pushes pack-update events to a runner over SSE until the client
// disconnects. Heartbeats keep intermediaries from closing idle connections.
func (h *httpHandler) handleStream(c *gin.Context) {
	if h.realtime == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	updates, cleanup := h.realtime.Subscribe(c.Request.Context(), c.Param("packId"))
	defer cleanup()
	h.metrics.SubscriberConnected()
	defer h.metrics.SubscriberDisconnected()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case update, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent(RealtimeEventPackUpdate, packUpdateEventPayload{
				PackID:    update.PackID,
				Channel:   string(update.Channel),
				BuildID:   update.BuildID,
				Source:    update.Source,
				Timestamp: update.OccurredAt.Unix(),
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp_s": time.Now().UTC().Unix()})
			return true
		case <-clientGone:
			return false
		}
	})
}
