package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/atlas-mc/atlas/backend/internal/auth"
	"github.com/atlas-mc/atlas/backend/internal/packs"
	"github.com/atlas-mc/atlas/backend/internal/storage"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testSigningSecret = "test-signing-secret"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type testEnv struct {
	server     *httptest.Server
	packs      *packs.Service
	tokens     *auth.ServiceTokens
	dispatcher *PackUpdateDispatcher
	db         *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:atlas_server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	err = db.AutoMigrate(
		&packs.Pack{},
		&packs.PackMember{},
		&packs.Build{},
		&packs.Channel{},
		&packs.WhitelistCache{},
		&packs.LinkSession{},
	)
	if err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	tokens := auth.NewServiceTokens(auth.ServiceTokenConfig{
		SigningSecret: []byte(testSigningSecret),
		TokenTTL:      time.Minute,
	})

	dispatcher := NewPackUpdateDispatcher()
	registry := storage.NewRegistry(storage.NewStaticProvider("r2"))

	packService, err := packs.NewService(packs.ServiceConfig{
		Database:   db,
		IDProvider: packs.NewUUIDProvider(),
		Providers:  registry,
		Publisher:  dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to construct pack service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Packs:      packService,
		Tokens:     tokens,
		CIResolver: auth.NewCIResolver(tokens),
		Storage:    registry,
		Realtime:   dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testEnv{
		server:     server,
		packs:      packService,
		tokens:     tokens,
		dispatcher: dispatcher,
		db:         db,
	}
}

func (e *testEnv) issueToken(t *testing.T, role auth.Role, subject string) string {
	t.Helper()
	token, _, err := e.tokens.Issue(context.Background(), role, subject)
	if err != nil {
		t.Fatalf("failed to issue %s token: %v", role, err)
	}
	return token
}

func (e *testEnv) createPack(t *testing.T, name string) packs.PackID {
	t.Helper()
	pack, _, err := e.packs.CreatePack(context.Background(), name)
	if err != nil {
		t.Fatalf("failed to create pack: %v", err)
	}
	id, err := packs.NewPackID(pack.ID)
	if err != nil {
		t.Fatalf("unexpected pack id error: %v", err)
	}
	return id
}

func (e *testEnv) doJSON(t *testing.T, method, path, token string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewBuffer(encoded)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	request, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() {
		_ = response.Body.Close()
	})
	return response
}

func decodeJSON(t *testing.T, response *http.Response, target any) {
	t.Helper()
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

func (e *testEnv) ingestBuild(t *testing.T, packID packs.PackID, buildID, version, channel string) {
	t.Helper()
	_, err := e.packs.IngestBuild(context.Background(), packs.IngestRequest{
		PackID:      packID,
		BuildID:     buildID,
		Version:     version,
		ArtifactRef: "r2::packs/" + packID.String() + "/builds/" + buildID + ".atlas",
		Channel:     channel,
	})
	if err != nil {
		t.Fatalf("failed to ingest build: %v", err)
	}
}
