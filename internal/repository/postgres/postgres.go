package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository     = (*Repository)(nil)
	_ repository.RequestRepository  = (*Repository)(nil)
	_ repository.ActivityRepository = (*Repository)(nil)
	_ repository.Store              = (*Repository)(nil)
)

// Ping checks the pool connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const userColumns = `id, username, email, password_hash, role, is_active, last_login, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (username, email, password_hash, role, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query, user.Username, user.Email, user.PasswordHash, user.Role, user.IsActive).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	return mapWriteError(err)
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByLogin fetches a user by username or email.
func (r *Repository) GetUserByLogin(ctx context.Context, login string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE lower(username) = lower($1) OR lower(email) = lower($1) LIMIT 1`
	return scanUser(r.pool.QueryRow(ctx, query, login))
}

// UpdateLastLogin stamps the last successful login.
func (r *Repository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	return r.execOne(ctx, `UPDATE users SET last_login = $2, updated_at = NOW() WHERE id = $1`, id, at)
}

// UpdatePassword replaces a user's password hash.
func (r *Repository) UpdatePassword(ctx context.Context, id int64, hash []byte) error {
	return r.execOne(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
}

func (r *Repository) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

const requestColumns = `id, user_id, username, file_name, file_path, file_size, target_server, application_name,
	description, status, priority, environment, reviewed_by, reviewed_by_username, reviewed_at, review_comments,
	deployment_started_at, deployment_completed_at, deployment_logs, created_at, updated_at`

func scanRequest(row pgx.Row) (*domain.DeploymentRequest, error) {
	var (
		d                                           domain.DeploymentRequest
		description, reviewer, comments, deployLogs *string
	)
	err := row.Scan(&d.ID, &d.UserID, &d.Username, &d.FileName, &d.FilePath, &d.FileSize, &d.TargetServer, &d.ApplicationName,
		&description, &d.Status, &d.Priority, &d.Environment, &d.ReviewedBy, &reviewer, &d.ReviewedAt, &comments,
		&d.DeploymentStartedAt, &d.DeploymentCompletedAt, &deployLogs, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	d.Description = deref(description)
	d.ReviewedByUsername = deref(reviewer)
	d.ReviewComments = deref(comments)
	d.DeploymentLogs = deref(deployLogs)
	return &d, nil
}

// CreateRequest inserts a deployment request and assigns its id.
func (r *Repository) CreateRequest(ctx context.Context, req *domain.DeploymentRequest) error {
	const query = `INSERT INTO deployment_requests
		(user_id, username, file_name, file_path, file_size, target_server, application_name, description, status, priority, environment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		req.UserID, req.Username, req.FileName, req.FilePath, req.FileSize, req.TargetServer, req.ApplicationName,
		emptyToNil(req.Description), req.Status, req.Priority, req.Environment,
	).Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
	return mapWriteError(err)
}

// GetRequest fetches a request by identifier.
func (r *Repository) GetRequest(ctx context.Context, id int64) (*domain.DeploymentRequest, error) {
	return scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM deployment_requests WHERE id = $1`, id))
}

// ListRequests returns requests newest first plus the unpaged total.
func (r *Repository) ListRequests(ctx context.Context, filter domain.RequestFilter) ([]domain.DeploymentRequest, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != 0 {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		where = append(where, fmt.Sprintf("priority = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(1) FROM deployment_requests`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + requestColumns + ` FROM deployment_requests` + clause + ` ORDER BY created_at DESC, id DESC`
	query, args = withPaging(query, args, filter.Limit, filter.Offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	requests := make([]domain.DeploymentRequest, 0)
	for rows.Next() {
		d, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		requests = append(requests, *d)
	}
	return requests, total, rows.Err()
}

// TransitionRequest performs the conditional status update in a single statement.
func (r *Repository) TransitionRequest(ctx context.Context, t domain.RequestTransition) (*domain.DeploymentRequest, error) {
	const query = `UPDATE deployment_requests SET
			status = $3,
			reviewed_by = COALESCE($4, reviewed_by),
			reviewed_by_username = COALESCE($5, reviewed_by_username),
			reviewed_at = CASE WHEN $4::bigint IS NULL THEN reviewed_at ELSE $2 END,
			review_comments = COALESCE($6, review_comments),
			deployment_started_at = COALESCE($7, deployment_started_at),
			deployment_completed_at = COALESCE($8, deployment_completed_at),
			deployment_logs = CASE WHEN $9::text IS NULL THEN deployment_logs
				ELSE COALESCE(deployment_logs || E'\n', '') || $9::text END,
			updated_at = $2
		WHERE id = $1 AND status = ANY($10::text[])
		RETURNING ` + requestColumns
	from := make([]string, len(t.From))
	for i, s := range t.From {
		from[i] = string(s)
	}
	updated, err := scanRequest(r.pool.QueryRow(ctx, query,
		t.RequestID,
		t.At,
		t.To,
		t.ReviewerID,
		emptyToNil(t.ReviewerUsername),
		t.ReviewComments,
		t.StartedAt,
		t.CompletedAt,
		emptyToNil(t.AppendLog),
		from,
	))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM deployment_requests WHERE id = $1)`, t.RequestID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, repository.ErrStatusConflict
	}
	return nil, repository.ErrNotFound
}

// ListRequestsWithStatusUpdatedBefore returns requests idle in status since updatedBefore.
func (r *Repository) ListRequestsWithStatusUpdatedBefore(ctx context.Context, status domain.RequestStatus, updatedBefore time.Time) ([]domain.DeploymentRequest, error) {
	const query = `SELECT ` + requestColumns + ` FROM deployment_requests WHERE status = $1 AND updated_at < $2 ORDER BY id`
	rows, err := r.pool.Query(ctx, query, status, updatedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []domain.DeploymentRequest
	for rows.Next() {
		d, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *d)
	}
	return requests, rows.Err()
}

// RequestStats aggregates request counts.
func (r *Repository) RequestStats(ctx context.Context, since time.Time) (domain.RequestStats, error) {
	stats := domain.RequestStats{
		ByStatus:   make(map[domain.RequestStatus]int),
		ByPriority: make(map[domain.Priority]int),
	}
	rows, err := r.pool.Query(ctx, `SELECT status, priority, COUNT(1) FROM deployment_requests GROUP BY status, priority`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status   domain.RequestStatus
			priority domain.Priority
			count    int
		)
		if err := rows.Scan(&status, &priority, &count); err != nil {
			return stats, err
		}
		stats.ByStatus[status] += count
		stats.ByPriority[priority] += count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(1) FROM deployment_requests WHERE created_at >= $1`, since).Scan(&stats.TodayRequests); err != nil {
		return stats, err
	}
	stats.PendingRequests = stats.ByStatus[domain.StatusPending]
	return stats, nil
}

// AppendActivity inserts an activity log entry.
func (r *Repository) AppendActivity(ctx context.Context, entry *domain.ActivityLogEntry) error {
	const query = `INSERT INTO activity_logs
		(event_type, description, user_id, username, user_role, deployment_request_id, metadata, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()))
		RETURNING id, created_at`
	var createdAt any
	if !entry.CreatedAt.IsZero() {
		createdAt = entry.CreatedAt
	}
	return r.pool.QueryRow(ctx, query,
		entry.EventType,
		entry.Description,
		entry.UserID,
		emptyToNil(entry.Username),
		emptyToNil(string(entry.UserRole)),
		entry.DeploymentRequestID,
		jsonToNil(entry.Metadata),
		emptyToNil(entry.IPAddress),
		emptyToNil(entry.UserAgent),
		createdAt,
	).Scan(&entry.ID, &entry.CreatedAt)
}

// ListActivity returns entries newest first plus the unpaged total.
func (r *Repository) ListActivity(ctx context.Context, filter domain.ActivityFilter) ([]domain.ActivityLogEntry, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.EventType != "" {
		add("event_type = $%d", filter.EventType)
	}
	if filter.UserID != 0 {
		add("user_id = $%d", filter.UserID)
	}
	if filter.UserRole != "" {
		add("user_role = $%d", filter.UserRole)
	}
	if filter.DeploymentRequestID != 0 {
		add("deployment_request_id = $%d", filter.DeploymentRequestID)
	}
	if !filter.Since.IsZero() {
		add("created_at >= $%d", filter.Since)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(1) FROM activity_logs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, event_type, description, user_id, username, user_role, deployment_request_id, metadata, ip_address, user_agent, created_at
		FROM activity_logs` + clause + ` ORDER BY created_at DESC, id DESC`
	query, args = withPaging(query, args, filter.Limit, filter.Offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := make([]domain.ActivityLogEntry, 0)
	for rows.Next() {
		var (
			e                         domain.ActivityLogEntry
			username, role, ip, agent *string
			metadata                  []byte
		)
		if err := rows.Scan(&e.ID, &e.EventType, &e.Description, &e.UserID, &username, &role, &e.DeploymentRequestID, &metadata, &ip, &agent, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.Username = deref(username)
		e.UserRole = domain.Role(deref(role))
		e.IPAddress = deref(ip)
		e.UserAgent = deref(agent)
		if len(metadata) > 0 {
			e.Metadata = json.RawMessage(metadata)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// CountActivityByType counts entries since the given instant, most frequent first.
func (r *Repository) CountActivityByType(ctx context.Context, since time.Time) ([]domain.EventCount, error) {
	const query = `SELECT event_type, COUNT(1) AS total FROM activity_logs
		WHERE created_at >= $1 GROUP BY event_type ORDER BY total DESC, event_type`
	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make([]domain.EventCount, 0)
	for rows.Next() {
		var c domain.EventCount
		if err := rows.Scan(&c.EventType, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func withPaging(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return repository.ErrDuplicate
	}
	return err
}

func emptyToNil(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func jsonToNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
