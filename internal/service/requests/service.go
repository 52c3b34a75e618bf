// Package requests implements upload, query and download of deployment
// requests. State changes after creation live in the lifecycle package.
package requests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/notify"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/repository"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/storage"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/validation"
)

// Recorder appends activity entries without failing the caller.
type Recorder interface {
	Record(ctx context.Context, entry domain.ActivityLogEntry)
}

// Notifier queues realtime events.
type Notifier interface {
	Dispatch(ev notify.Event)
}

// Service handles deployment request submission and queries.
type Service struct {
	requests  repository.RequestRepository
	artifacts storage.Store
	activity  Recorder
	notifier  Notifier
	logger    *slog.Logger
	maxUpload int64
	now       func() time.Time
}

// New constructs a Service. maxUpload bounds the archive size in bytes.
func New(requests repository.RequestRepository, artifacts storage.Store, activity Recorder, notifier Notifier, logger *slog.Logger, maxUpload int64) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{
		requests:  requests,
		artifacts: artifacts,
		activity:  activity,
		notifier:  notifier,
		logger:    logger,
		maxUpload: maxUpload,
		now:       time.Now,
	}
}

// CreateInput holds the form fields sent with an upload.
type CreateInput struct {
	TargetServer    string             `json:"targetServer" validate:"required,max=255"`
	ApplicationName string             `json:"applicationName" validate:"required,max=255"`
	Description     string             `json:"description" validate:"max=2000"`
	Priority        domain.Priority    `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Environment     domain.Environment `json:"environment" validate:"omitempty,oneof=development testing staging"`
}

// Upload is the archive accompanying CreateInput.
type Upload struct {
	FileName string
	Size     int64
	Body     io.Reader
}

// Create stores the archive and inserts a pending request owned by actor.
func (s Service) Create(ctx context.Context, actor domain.Identity, in CreateInput, file Upload) (*domain.DeploymentRequest, error) {
	const op = "create request"
	if actor.IsZero() {
		return nil, domain.UnauthenticatedError(op, "authentication required")
	}
	in.TargetServer = strings.TrimSpace(in.TargetServer)
	in.ApplicationName = strings.TrimSpace(in.ApplicationName)
	if err := validation.Struct(op, in); err != nil {
		return nil, err
	}
	if file.Body == nil || file.FileName == "" {
		return nil, domain.ValidationError(op, "a .war file is required")
	}
	if !strings.EqualFold(filepath.Ext(file.FileName), ".war") {
		return nil, domain.ValidationError(op, "only .war files are accepted")
	}
	if file.Size <= 0 {
		return nil, domain.ValidationError(op, "the uploaded file is empty")
	}
	if s.maxUpload > 0 && file.Size > s.maxUpload {
		return nil, domain.ValidationError(op, fmt.Sprintf("file exceeds the %d MB limit", s.maxUpload>>20))
	}
	if in.Priority == "" {
		in.Priority = domain.PriorityMedium
	}
	if in.Environment == "" {
		in.Environment = domain.EnvDevelopment
	}

	key, err := s.save(ctx, file)
	if err != nil {
		return nil, domain.PersistenceError(op, fmt.Errorf("store artifact: %w", err))
	}

	req := &domain.DeploymentRequest{
		UserID:          actor.UserID,
		Username:        actor.Username,
		FileName:        filepath.Base(strings.ReplaceAll(file.FileName, "\\", "/")),
		FilePath:        key,
		FileSize:        file.Size,
		TargetServer:    in.TargetServer,
		ApplicationName: in.ApplicationName,
		Description:     strings.TrimSpace(in.Description),
		Status:          domain.StatusPending,
		Priority:        in.Priority,
		Environment:     in.Environment,
	}
	if err := s.requests.CreateRequest(ctx, req); err != nil {
		if rmErr := s.artifacts.Remove(context.WithoutCancel(ctx), key); rmErr != nil {
			s.logger.Warn("remove orphaned artifact failed", "key", key, "error", rmErr)
		}
		return nil, domain.PersistenceError(op, err)
	}

	s.record(ctx, actor, domain.EventWarUpload, req,
		fmt.Sprintf("%s uploaded %s for %s", actor.Username, req.FileName, req.ApplicationName),
		map[string]any{
			"fileName":        req.FileName,
			"fileSize":        req.FileSize,
			"applicationName": req.ApplicationName,
			"targetServer":    req.TargetServer,
			"priority":        req.Priority,
			"environment":     req.Environment,
		})
	if s.notifier != nil {
		s.notifier.Dispatch(notify.RequestCreated{Request: *req})
	}
	s.logger.Info("deployment request created", "request_id", req.ID, "user_id", actor.UserID, "file", req.FileName)
	return req, nil
}

// save stores the archive under its derived key. A key collision within the
// same millisecond falls back to a uuid-suffixed key; the body has not been
// consumed at that point because the store rejects the key before reading.
func (s Service) save(ctx context.Context, file Upload) (string, error) {
	key := storage.ArtifactKey(file.FileName, s.now())
	err := s.artifacts.Save(ctx, key, file.Body, file.Size)
	if errors.Is(err, storage.ErrExists) {
		ext := filepath.Ext(key)
		key = strings.TrimSuffix(key, ext) + "_" + uuid.NewString()[:8] + ext
		err = s.artifacts.Save(ctx, key, file.Body, file.Size)
	}
	return key, err
}

// ListParams narrows a listing.
type ListParams struct {
	Status   domain.RequestStatus
	Priority domain.Priority
	Page     domain.PageRequest
}

// Page is one page of requests.
type Page struct {
	Requests   []domain.DeploymentRequest `json:"data"`
	Pagination domain.Pagination          `json:"pagination"`
}

// ListMine lists the caller's own requests newest first.
func (s Service) ListMine(ctx context.Context, actor domain.Identity, params ListParams) (Page, error) {
	if actor.IsZero() {
		return Page{}, domain.UnauthenticatedError("list my requests", "authentication required")
	}
	return s.list(ctx, "list my requests", actor.UserID, params)
}

// ListAll lists every request. Administrators only.
func (s Service) ListAll(ctx context.Context, actor domain.Identity, params ListParams) (Page, error) {
	if !actor.IsAdmin() {
		return Page{}, domain.AuthorizationError("list requests", "administrator role required")
	}
	return s.list(ctx, "list requests", 0, params)
}

func (s Service) list(ctx context.Context, op string, userID int64, params ListParams) (Page, error) {
	if params.Status != "" && !params.Status.Valid() {
		return Page{}, domain.ValidationError(op, "unknown status")
	}
	if params.Priority != "" && !params.Priority.Valid() {
		return Page{}, domain.ValidationError(op, "unknown priority")
	}
	page := params.Page.Normalize(20, 100)
	items, total, err := s.requests.ListRequests(ctx, domain.RequestFilter{
		UserID:   userID,
		Status:   params.Status,
		Priority: params.Priority,
		Limit:    page.Limit,
		Offset:   page.Offset(),
	})
	if err != nil {
		return Page{}, domain.PersistenceError(op, err)
	}
	return Page{Requests: items, Pagination: page.Paginate(total)}, nil
}

// Get returns one request to its owner or an administrator.
func (s Service) Get(ctx context.Context, actor domain.Identity, id int64) (*domain.DeploymentRequest, error) {
	const op = "get request"
	req, err := s.requests.GetRequest(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFoundError(op, fmt.Sprintf("request %d not found", id))
		}
		return nil, domain.PersistenceError(op, err)
	}
	if !actor.IsAdmin() && !req.OwnedBy(actor) {
		return nil, domain.AuthorizationError(op, "you can only view your own requests")
	}
	return req, nil
}

// Artifact is an open archive stream. Callers close Body.
type Artifact struct {
	Request *domain.DeploymentRequest
	Body    io.ReadCloser
}

// OpenArtifact streams the archive of a request. Administrators only.
func (s Service) OpenArtifact(ctx context.Context, actor domain.Identity, id int64) (Artifact, error) {
	const op = "download artifact"
	if !actor.IsAdmin() {
		return Artifact{}, domain.AuthorizationError(op, "administrator role required")
	}
	req, err := s.Get(ctx, actor, id)
	if err != nil {
		return Artifact{}, err
	}
	body, err := s.artifacts.Open(ctx, req.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Artifact{}, domain.NotFoundError(op, "the archive is no longer available")
		}
		return Artifact{}, domain.PersistenceError(op, err)
	}
	s.record(ctx, actor, domain.EventFileDownloaded, req,
		fmt.Sprintf("%s downloaded %s", actor.Username, req.FileName),
		map[string]any{"fileName": req.FileName, "fileSize": req.FileSize})
	return Artifact{Request: req, Body: body}, nil
}

// Stats summarises requests for administrators.
func (s Service) Stats(ctx context.Context, actor domain.Identity) (domain.RequestStats, error) {
	if !actor.IsAdmin() {
		return domain.RequestStats{}, domain.AuthorizationError("request stats", "administrator role required")
	}
	now := s.now()
	y, m, d := now.Date()
	stats, err := s.requests.RequestStats(ctx, time.Date(y, m, d, 0, 0, 0, 0, now.Location()))
	if err != nil {
		return domain.RequestStats{}, domain.PersistenceError("request stats", err)
	}
	return stats, nil
}

// PendingCount returns the number of requests awaiting review.
func (s Service) PendingCount(ctx context.Context) (int, error) {
	_, total, err := s.requests.ListRequests(ctx, domain.RequestFilter{Status: domain.StatusPending, Limit: 1})
	return total, err
}

func (s Service) record(ctx context.Context, actor domain.Identity, event domain.EventType, req *domain.DeploymentRequest, description string, metadata map[string]any) {
	if s.activity == nil {
		return
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		s.logger.Warn("encode activity metadata", "error", err)
		raw = nil
	}
	uid, rid := actor.UserID, req.ID
	s.activity.Record(ctx, domain.ActivityLogEntry{
		EventType:           event,
		Description:         description,
		UserID:              &uid,
		Username:            actor.Username,
		UserRole:            actor.Role,
		DeploymentRequestID: &rid,
		Metadata:            raw,
	})
}
