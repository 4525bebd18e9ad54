package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"casegen-service/internal/aiclient"
	"casegen-service/internal/crypto"
	"casegen-service/internal/database"
	"casegen-service/internal/models"
	"casegen-service/internal/outline"
	"casegen-service/internal/repository"
	"casegen-service/internal/services/generation"
	"casegen-service/internal/services/retention"
	"casegen-service/internal/storage"

	"go.uber.org/zap"
)

// defaultCredentialName is the credential row the client falls back to when
// no API key is set in the environment
const defaultCredentialName = "default"

// App wires the codec, the generation engine and their persistence together
type App struct {
	store      *repository.Store
	artifacts  *storage.Store
	generation *generation.Service
	retention  *retention.Service
	logger     *zap.Logger
}

// NewApp initializes encryption, the database, artifact storage and the
// services
func NewApp(logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := crypto.InitEncryption(); err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	db, err := database.Init()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	store := repository.NewStore(db)

	artifacts, err := storage.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact storage: %w", err)
	}

	client := aiclient.New(resolveClientConfig(store, logger), logger)
	engine := generation.NewService(generation.NewCaseGenerator(client, logger), store, artifacts, logger)

	sweeper := retention.NewService(store, artifacts, logger)
	if err := sweeper.Start(); err != nil {
		return nil, err
	}

	return &App{
		store:      store,
		artifacts:  artifacts,
		generation: engine,
		retention:  sweeper,
		logger:     logger,
	}, nil
}

// resolveClientConfig prefers environment settings; without an API key there
// it falls back to the stored default credential, decrypted
func resolveClientConfig(store *repository.Store, logger *zap.Logger) aiclient.Config {
	cfg := aiclient.ConfigFromEnv()
	if cfg.APIKey != "" {
		return cfg
	}

	cred, err := store.GetServiceCredential(defaultCredentialName)
	if err != nil {
		logger.Warn("failed to load stored credential", zap.Error(err))
		return cfg
	}
	if cred == nil {
		return cfg
	}
	apiKey, err := crypto.DecryptAPIKey(cred.APIKeyEnc)
	if err != nil {
		logger.Warn("failed to decrypt stored credential", zap.Error(err))
		return cfg
	}
	cfg.APIKey = apiKey
	if cred.BaseURL != "" {
		cfg.BaseURL = cred.BaseURL
	}
	if cred.Model != "" {
		cfg.Model = cred.Model
	}
	return cfg
}

// Close stops the background services and the database
func (a *App) Close() error {
	a.retention.Stop()
	return database.Close()
}

// GenerateOutline encodes a typed requirement hierarchy into an outline
// container
func (a *App) GenerateOutline(doc *outline.RequirementDocument) ([]byte, error) {
	return outline.NewEncoder(doc).Encode()
}

// ParseOutline decodes an uploaded outline container, persists the decoded
// document as an artifact and records the parse
func (a *App) ParseOutline(data []byte) (*outline.ParsedOutlineDocument, error) {
	doc, err := outline.Decode(data)
	if err != nil {
		return nil, err
	}

	dir, err := a.artifacts.ParseDir(doc.ParseID)
	if err != nil {
		return nil, err
	}
	outlinePath := filepath.Join(dir, "outline.xmind")
	if err := a.artifacts.SaveBytes(outlinePath, data); err != nil {
		return nil, err
	}
	artifactPath := filepath.Join(dir, "parsed.json")
	if err := a.artifacts.SaveJSON(artifactPath, doc); err != nil {
		return nil, err
	}

	hash := sha256.Sum256(data)
	record := &models.ParseRecord{
		ParseID:         doc.ParseID,
		RequirementName: doc.RequirementName,
		Version:         doc.DocumentNumber,
		OutlineTime:     time.Now().UTC().Format(time.RFC3339),
		UploadTime:      time.Now().UTC(),
		OutlineHash:     hex.EncodeToString(hash[:]),
		Status:          "parsed",
		TestPointCount:  len(doc.TestPoints),
		ArtifactPath:    artifactPath,
		OutlinePath:     outlinePath,
	}
	if err := a.store.CreateParseRecord(record); err != nil {
		return nil, err
	}

	a.generation.SaveParsedDoc(doc)
	return doc, nil
}

// ListVersions returns the parse history of a requirement, newest first
func (a *App) ListVersions(requirementName string) ([]models.ParseRecord, error) {
	return a.store.ListParseRecords(requirementName)
}

// GeneratePreview produces a small reviewable case sample for a parse
func (a *App) GeneratePreview(ctx context.Context, parseID string, count int) (*generation.PreviewResult, error) {
	return a.generation.GeneratePreview(ctx, parseID, count)
}

// ConfirmPreview folds an accepted preview into a background bulk task
func (a *App) ConfirmPreview(previewID, strategy, sessionID string) (string, string, []*outline.TestCase, error) {
	return a.generation.ConfirmPreview(previewID, strategy, sessionID)
}

// StartGeneration runs bulk generation over every point of a parse
func (a *App) StartGeneration(parseID, strategy, sessionID string) (string, string, error) {
	return a.generation.StartBulk(parseID, strategy, sessionID)
}

// GetTask returns the polling snapshot of a generation task
func (a *App) GetTask(taskID string) (generation.Snapshot, bool) {
	return a.generation.GetTask(taskID)
}

// ExportCaseTree renders a completed task's cases as an outline container
func (a *App) ExportCaseTree(taskID string) ([]byte, error) {
	return a.generation.ExportCaseTree(taskID)
}

// SaveCredential stores generation-service endpoint settings with the API key
// encrypted at rest
func (a *App) SaveCredential(name, baseURL, model, apiKey string) error {
	if name == "" {
		name = defaultCredentialName
	}
	encrypted, err := crypto.EncryptAPIKey(apiKey)
	if err != nil {
		return err
	}
	return a.store.SaveServiceCredential(&models.ServiceCredential{
		Name:      name,
		BaseURL:   baseURL,
		Model:     model,
		APIKeyEnc: encrypted,
	})
}
