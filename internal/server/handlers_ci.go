package server

import (
	"net/http"
	"time"

	"github.com/atlas-mc/atlas/backend/internal/packs"
	"github.com/gin-gonic/gin"
)

type ingestRequestPayload struct {
	BuildID          string `json:"build_id"`
	Version          string `json:"version"`
	ArtifactKey      string `json:"artifact_key"`
	CommitHash       string `json:"commit_hash"`
	CommitMessage    string `json:"commit_message"`
	MinecraftVersion string `json:"minecraft_version"`
	Loader           string `json:"loader"`
	LoaderVersion    string `json:"loader_version"`
	ForceReinstall   bool   `json:"force_reinstall"`
	ArtifactSize     int64  `json:"artifact_size"`
	Channel          string `json:"channel"`
}

type buildPayload struct {
	BuildID          string `json:"build_id"`
	PackID           string `json:"pack_id"`
	Version          string `json:"version"`
	CommitHash       string `json:"commit_hash,omitempty"`
	CommitMessage    string `json:"commit_message,omitempty"`
	MinecraftVersion string `json:"minecraft_version,omitempty"`
	Loader           string `json:"loader,omitempty"`
	LoaderVersion    string `json:"loader_version,omitempty"`
	ForceReinstall   bool   `json:"force_reinstall"`
	ArtifactProvider string `json:"artifact_provider"`
	ArtifactKey      string `json:"artifact_key"`
	ArtifactSize     int64  `json:"artifact_size,omitempty"`
}

type channelPayload struct {
	PackID           string `json:"pack_id"`
	Name             string `json:"name"`
	BuildID          string `json:"build_id"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

func renderBuild(build packs.Build) buildPayload {
	return buildPayload{
		BuildID:          build.ID,
		PackID:           build.PackID,
		Version:          build.Version,
		CommitHash:       build.CommitHash,
		CommitMessage:    build.CommitMessage,
		MinecraftVersion: build.MinecraftVersion,
		Loader:           build.Loader,
		LoaderVersion:    build.LoaderVersion,
		ForceReinstall:   build.ForceReinstall,
		ArtifactProvider: build.ArtifactProvider,
		ArtifactKey:      build.ArtifactKey,
		ArtifactSize:     build.ArtifactSize,
	}
}

func renderChannel(channel packs.Channel) channelPayload {
	return channelPayload{
		PackID:           channel.PackID,
		Name:             channel.Name,
		BuildID:          channel.BuildID,
		UpdatedAtSeconds: channel.UpdatedAtSeconds,
	}
}

func (h *httpHandler) handleIngestBuild(c *gin.Context) {
	packID, err := packs.NewPackID(c.GetString(subjectContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request ingestRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.packs.IngestBuild(c.Request.Context(), packs.IngestRequest{
		PackID:           packID,
		BuildID:          request.BuildID,
		Version:          request.Version,
		ArtifactRef:      request.ArtifactKey,
		CommitHash:       request.CommitHash,
		CommitMessage:    request.CommitMessage,
		MinecraftVersion: request.MinecraftVersion,
		Loader:           request.Loader,
		LoaderVersion:    request.LoaderVersion,
		ForceReinstall:   request.ForceReinstall,
		ArtifactSize:     request.ArtifactSize,
		Channel:          request.Channel,
		Source:           c.GetString(ciMethodContextKey),
	})
	if err != nil {
		h.metrics.RecordIngestion(request.Channel, "error")
		h.respondError(c, "build ingestion failed", err)
		return
	}

	h.metrics.RecordIngestion(result.Channel.Name, "ok")
	c.JSON(http.StatusOK, gin.H{
		"build":   renderBuild(result.Build),
		"channel": renderChannel(result.Channel),
	})
}

type presignRequestPayload struct {
	Provider    string `json:"provider"`
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	TTLSeconds  int64  `json:"ttl_s"`
}

func (h *httpHandler) handlePresignUpload(c *gin.Context) {
	var request presignRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Provider == "" || request.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if h.storage == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_provider_unavailable"})
		return
	}

	provider, err := h.storage.Provider(request.Provider)
	if err != nil {
		h.respondError(c, "presign provider lookup failed", err)
		return
	}

	ttl := time.Duration(request.TTLSeconds) * time.Second
	url, err := provider.PresignUpload(c.Request.Context(), request.Key, request.ContentType, ttl)
	if err != nil {
		h.respondError(c, "presign upload failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}
