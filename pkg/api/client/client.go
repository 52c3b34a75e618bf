package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Client provides typed access to the deployment request API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:3001"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// BaseURL returns the normalised API root.
func (c *Client) BaseURL() string { return c.baseURL }

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// envelope mirrors the server's success body.
type envelope struct {
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Pagination *Pagination     `json:"pagination"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) (envelope, error) {
	var reader io.Reader
	contentType := ""
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return envelope{}, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
		contentType = "application/json"
	}
	resp, err := c.send(ctx, method, path, reader, contentType, token)
	if err != nil {
		return envelope{}, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && err != io.EOF {
		return envelope{}, fmt.Errorf("decode response: %w", err)
	}
	if v != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, v); err != nil {
			return env, fmt.Errorf("decode response data: %w", err)
		}
	}
	return env, nil
}

// send performs the request and converts error statuses into APIError.
func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType, token string) (*http.Response, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, extractError(resp.StatusCode, resp.Body)
	}
	return resp, nil
}

func extractError(status int, body io.Reader) APIError {
	out := APIError{Status: status}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return out
	}
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		out.Message = strings.TrimSpace(string(data))
		return out
	}
	out.Message = strings.TrimSpace(payload.Error)
	out.Code = payload.Code
	return out
}

// Session is returned by Register and Login.
type Session struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

// Register creates an account. Role may be empty.
func (c *Client) Register(ctx context.Context, username, email, password, role string) (Session, error) {
	var out Session
	_, err := c.do(ctx, http.MethodPost, "/api/auth/register", map[string]string{
		"username": username, "email": email, "password": password, "role": role,
	}, "", &out)
	return out, err
}

// Login authenticates with a username or an email.
func (c *Client) Login(ctx context.Context, login, password string) (Session, error) {
	var out Session
	_, err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"username": login, "password": password,
	}, "", &out)
	return out, err
}

// Logout records the end of the session server side.
func (c *Client) Logout(ctx context.Context, token string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, token, nil)
	return err
}

// Profile returns the account behind token.
func (c *Client) Profile(ctx context.Context, token string) (User, error) {
	var out User
	_, err := c.do(ctx, http.MethodGet, "/api/auth/profile", nil, token, &out)
	return out, err
}

// ValidateToken returns the identity token resolves to.
func (c *Client) ValidateToken(ctx context.Context, token string) (Identity, error) {
	var out struct {
		User Identity `json:"user"`
	}
	_, err := c.do(ctx, http.MethodGet, "/api/auth/validate-token", nil, token, &out)
	return out.User, err
}

// ChangePassword replaces the caller's password.
func (c *Client) ChangePassword(ctx context.Context, token, current, next string) error {
	_, err := c.do(ctx, http.MethodPut, "/api/auth/change-password", map[string]string{
		"currentPassword": current, "newPassword": next,
	}, token, nil)
	return err
}

// UploadInput describes a new deployment request.
type UploadInput struct {
	FileName        string
	File            io.Reader
	TargetServer    string
	ApplicationName string
	Description     string
	Priority        string
	Environment     string
}

// Upload submits a WAR archive as a new deployment request.
func (c *Client) Upload(ctx context.Context, token string, in UploadInput) (Request, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		fields := map[string]string{
			"targetServer":    in.TargetServer,
			"applicationName": in.ApplicationName,
			"description":     in.Description,
			"priority":        in.Priority,
			"environment":     in.Environment,
		}
		for k, v := range fields {
			if v == "" {
				continue
			}
			if err := mw.WriteField(k, v); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		part, err := mw.CreateFormFile("warFile", filepath.Base(in.FileName))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, in.File); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	resp, err := c.send(ctx, http.MethodPost, "/api/deployment/upload", pr, mw.FormDataContentType(), token)
	if err != nil {
		pr.CloseWithError(err)
		return Request{}, err
	}
	defer resp.Body.Close()
	var env struct {
		Data Request `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return Request{}, fmt.Errorf("decode response: %w", err)
	}
	return env.Data, nil
}

// UploadFile opens path and uploads it.
func (c *Client) UploadFile(ctx context.Context, token, path string, in UploadInput) (Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return Request{}, err
	}
	defer f.Close()
	in.File = f
	in.FileName = filepath.Base(path)
	return c.Upload(ctx, token, in)
}

// ListOptions filters request listings.
type ListOptions struct {
	Status   string
	Priority string
	Page     int
	Limit    int
}

func (o ListOptions) query() string {
	q := url.Values{}
	if o.Status != "" {
		q.Set("status", o.Status)
	}
	if o.Priority != "" {
		q.Set("priority", o.Priority)
	}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// RequestPage is one page of a request listing.
type RequestPage struct {
	Requests   []Request
	Pagination Pagination
}

// MyRequests lists the caller's own requests.
func (c *Client) MyRequests(ctx context.Context, token string, opts ListOptions) (RequestPage, error) {
	return c.listRequests(ctx, "/api/deployment/my-requests"+opts.query(), token)
}

// AllRequests lists every request. Administrators only.
func (c *Client) AllRequests(ctx context.Context, token string, opts ListOptions) (RequestPage, error) {
	return c.listRequests(ctx, "/api/deployment/admin/requests"+opts.query(), token)
}

func (c *Client) listRequests(ctx context.Context, path, token string) (RequestPage, error) {
	var items []Request
	env, err := c.do(ctx, http.MethodGet, path, nil, token, &items)
	if err != nil {
		return RequestPage{}, err
	}
	page := RequestPage{Requests: items}
	if env.Pagination != nil {
		page.Pagination = *env.Pagination
	}
	return page, nil
}

// GetRequest fetches one request.
func (c *Client) GetRequest(ctx context.Context, token string, id int64) (Request, error) {
	var out Request
	_, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/deployment/%d", id), nil, token, &out)
	return out, err
}

// Review sets a request to reviewing, approved or rejected.
func (c *Client) Review(ctx context.Context, token string, id int64, status, comments string) (Request, error) {
	var out Request
	_, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/deployment/admin/%d/review", id), map[string]string{
		"status": status, "comments": comments,
	}, token, &out)
	return out, err
}

// Deploy starts the deployment of an approved request.
func (c *Client) Deploy(ctx context.Context, token string, id int64) (Request, error) {
	var out Request
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/deployment/admin/%d/deploy", id), nil, token, &out)
	return out, err
}

// Download streams the archive of a request into w and returns the
// original file name.
func (c *Client) Download(ctx context.Context, token string, id int64, w io.Writer) (string, error) {
	resp, err := c.send(ctx, http.MethodGet, fmt.Sprintf("/api/deployment/admin/%d/download", id), nil, "", token)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	name := fmt.Sprintf("request-%d.war", id)
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return name, fmt.Errorf("read artifact: %w", err)
	}
	return name, nil
}

// RequestStats returns request counts. Administrators only.
func (c *Client) RequestStats(ctx context.Context, token string) (RequestStats, error) {
	var out RequestStats
	_, err := c.do(ctx, http.MethodGet, "/api/deployment/admin/stats", nil, token, &out)
	return out, err
}

// StuckDeployments lists deployments running past the server threshold.
func (c *Client) StuckDeployments(ctx context.Context, token string) ([]StuckDeployment, error) {
	var out []StuckDeployment
	_, err := c.do(ctx, http.MethodGet, "/api/deployment/admin/stuck", nil, token, &out)
	return out, err
}

// ActivityOptions filters the activity log.
type ActivityOptions struct {
	EventType           string
	UserID              int64
	UserRole            string
	DeploymentRequestID int64
	Page                int
	Limit               int
}

// ActivityPage is one page of activity entries.
type ActivityPage struct {
	Entries    []ActivityEntry
	Pagination Pagination
}

// ActivityLogs lists activity entries. Administrators only.
func (c *Client) ActivityLogs(ctx context.Context, token string, opts ActivityOptions) (ActivityPage, error) {
	q := url.Values{}
	if opts.EventType != "" {
		q.Set("eventType", opts.EventType)
	}
	if opts.UserID > 0 {
		q.Set("userId", strconv.FormatInt(opts.UserID, 10))
	}
	if opts.UserRole != "" {
		q.Set("userRole", opts.UserRole)
	}
	if opts.DeploymentRequestID > 0 {
		q.Set("deploymentRequestId", strconv.FormatInt(opts.DeploymentRequestID, 10))
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/api/deployment/admin/activity-logs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var items []ActivityEntry
	env, err := c.do(ctx, http.MethodGet, path, nil, token, &items)
	if err != nil {
		return ActivityPage{}, err
	}
	page := ActivityPage{Entries: items}
	if env.Pagination != nil {
		page.Pagination = *env.Pagination
	}
	return page, nil
}

// ActivityStats counts activity per event type over period.
func (c *Client) ActivityStats(ctx context.Context, token, period string) (ActivityStats, error) {
	var out ActivityStats
	path := "/api/deployment/admin/activity-stats"
	if period != "" {
		path += "?period=" + url.QueryEscape(period)
	}
	_, err := c.do(ctx, http.MethodGet, path, nil, token, &out)
	return out, err
}

// Connections reports realtime connection counts. Administrators only.
func (c *Client) Connections(ctx context.Context, token string) (ConnectionStats, error) {
	var out ConnectionStats
	_, err := c.do(ctx, http.MethodGet, "/api/realtime/connections", nil, token, &out)
	return out, err
}

// Health reports the server health summary.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	resp, err := c.send(ctx, http.MethodGet, "/api/health", nil, "", "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
