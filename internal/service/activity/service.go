package activity

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mssola/useragent"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/repository"
)

// Provenance identifies where a request came from.
type Provenance struct {
	IP        string
	UserAgent string
}

type provenanceKey struct{}

// WithProvenance attaches request provenance to ctx.
func WithProvenance(ctx context.Context, p Provenance) context.Context {
	return context.WithValue(ctx, provenanceKey{}, p)
}

// ProvenanceFrom extracts provenance previously stored with WithProvenance.
func ProvenanceFrom(ctx context.Context) (Provenance, bool) {
	p, ok := ctx.Value(provenanceKey{}).(Provenance)
	return p, ok
}

// Service records and queries the activity log.
type Service struct {
	repo   repository.ActivityRepository
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a Service.
func New(repo repository.ActivityRepository, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{repo: repo, logger: logger.With("component", "activity"), now: time.Now}
}

// Record appends entry. Failures are logged and swallowed so that callers
// never roll back on audit errors.
func (s Service) Record(ctx context.Context, entry domain.ActivityLogEntry) {
	if !entry.EventType.Valid() {
		s.logger.Error("unknown activity event type", "event_type", entry.EventType)
		return
	}
	if p, ok := ProvenanceFrom(ctx); ok {
		if entry.IPAddress == "" {
			entry.IPAddress = p.IP
		}
		if entry.UserAgent == "" {
			entry.UserAgent = p.UserAgent
		}
	}
	if entry.UserAgent != "" {
		entry.Metadata = withClient(entry.Metadata, entry.UserAgent)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	if err := s.repo.AppendActivity(ctx, &entry); err != nil {
		s.logger.Warn("activity log append failed",
			"error", err,
			"event_type", entry.EventType,
			"request_id", entry.DeploymentRequestID,
		)
	}
}

// withClient merges a parsed user agent summary into metadata.
func withClient(raw json.RawMessage, agent string) json.RawMessage {
	meta := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &meta); err != nil {
			return raw
		}
	}
	ua := useragent.New(agent)
	browser, version := ua.Browser()
	meta["client"] = map[string]any{
		"browser": browser,
		"version": version,
		"os":      ua.OS(),
		"mobile":  ua.Mobile(),
		"bot":     ua.Bot(),
	}
	out, err := json.Marshal(meta)
	if err != nil {
		return raw
	}
	return out
}

// ListParams filters the activity listing.
type ListParams struct {
	EventType           domain.EventType
	UserID              int64
	UserRole            domain.Role
	DeploymentRequestID int64
	Page                domain.PageRequest
}

// Page is one page of activity entries.
type Page struct {
	Entries    []domain.ActivityLogEntry `json:"data"`
	Pagination domain.Pagination         `json:"pagination"`
}

// List returns activity entries newest first. Administrators only.
func (s Service) List(ctx context.Context, actor domain.Identity, params ListParams) (Page, error) {
	const op = "list activity"
	if !actor.IsAdmin() {
		return Page{}, domain.AuthorizationError(op, "administrator role required")
	}
	if params.EventType != "" && !params.EventType.Valid() {
		return Page{}, domain.ValidationError(op, "unknown eventType")
	}
	if params.UserRole != "" && !params.UserRole.Valid() {
		return Page{}, domain.ValidationError(op, "unknown userRole")
	}
	page := params.Page.Normalize(50, 200)
	entries, total, err := s.repo.ListActivity(ctx, domain.ActivityFilter{
		EventType:           params.EventType,
		UserID:              params.UserID,
		UserRole:            params.UserRole,
		DeploymentRequestID: params.DeploymentRequestID,
		Limit:               page.Limit,
		Offset:              page.Offset(),
	})
	if err != nil {
		return Page{}, domain.PersistenceError(op, err)
	}
	return Page{Entries: entries, Pagination: page.Paginate(total)}, nil
}

// Stats counts activity per event type for a period.
type Stats struct {
	Period string              `json:"period"`
	Since  *time.Time          `json:"since,omitempty"`
	Total  int                 `json:"total"`
	ByType []domain.EventCount `json:"byEventType"`
}

// Stats summarises activity over period: today, week, month or all.
func (s Service) Stats(ctx context.Context, actor domain.Identity, period string) (Stats, error) {
	const op = "activity stats"
	if !actor.IsAdmin() {
		return Stats{}, domain.AuthorizationError(op, "administrator role required")
	}
	if period == "" {
		period = "today"
	}
	since, err := periodStart(period, s.now().UTC())
	if err != nil {
		return Stats{}, err
	}
	counts, err := s.repo.CountActivityByType(ctx, since)
	if err != nil {
		return Stats{}, domain.PersistenceError(op, err)
	}
	out := Stats{Period: period, ByType: counts}
	if !since.IsZero() {
		out.Since = &since
	}
	for _, c := range counts {
		out.Total += c.Count
	}
	return out, nil
}

func periodStart(period string, now time.Time) (time.Time, error) {
	switch period {
	case "today":
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), nil
	case "week":
		return now.AddDate(0, 0, -7), nil
	case "month":
		return now.AddDate(0, -1, 0), nil
	case "all":
		return time.Time{}, nil
	default:
		return time.Time{}, domain.ValidationError("activity stats", "period must be today, week, month or all")
	}
}
