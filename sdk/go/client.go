package tripauthsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Tripauth HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Actor is an account as returned by the API.
type Actor struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	ParentID  string `json:"parent_id,omitempty"`
	ProfileID string `json:"profile_id,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type Profile struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"owner_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// ProfileUpdate carries a partial profile change; nil fields are left alone.
type ProfileUpdate struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Permissions *[]string `json:"permissions,omitempty"`
}

type NewEmployee struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	ProfileID string `json:"profile_id"`
}

type EmployeeUpdate struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Email     *string `json:"email,omitempty"`
	Password  *string `json:"password,omitempty"`
	ProfileID *string `json:"profile_id,omitempty"`
}

// Permissions is the effective permission set of the caller. All means
// every permission, including ones added to the catalog later.
type Permissions struct {
	ActorID     string   `json:"actor_id"`
	Role        string   `json:"role"`
	All         bool     `json:"all"`
	Permissions []string `json:"permissions"`
}

type CheckResult struct {
	Allowed  bool     `json:"allowed"`
	Rejected []string `json:"rejected"`
}

type Catalog struct {
	Resources []struct {
		Name    string `json:"name"`
		Actions []struct {
			Name        string `json:"name"`
			Description string `json:"description,omitempty"`
		} `json:"actions"`
	} `json:"resources"`
	Permissions []string `json:"permissions"`
}

type AuditEntry struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Action     string         `json:"action"`
	ActorID    string         `json:"actor_id"`
	ActorRole  string         `json:"actor_role"`
	TargetKind string         `json:"target_kind"`
	TargetID   string         `json:"target_id,omitempty"`
	Status     string         `json:"status"`
	Details    map[string]any `json:"details,omitempty"`
}

// AuditPage wraps audit listings; pass NextCursor as before to continue.
type AuditPage struct {
	Items      []AuditEntry `json:"items"`
	NextCursor int64        `json:"next_cursor"`
}

// AuditFilter narrows Audit; zero values match everything.
type AuditFilter struct {
	Action string
	Status string
	Before int64
	Limit  int
}

type Token struct {
	Token     string `json:"token"`
	ActorID   string `json:"actor_id"`
	ExpiresAt string `json:"expires_at"`
}

// APIError wraps non-2xx responses. Code, Message and Details come from the
// error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Rejected lists the permissions named by a privilege_escalation error.
func (e *APIError) Rejected() []string {
	raw, ok := e.Details["rejected"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// DevLogin trades an email and password for a bearer token and stores it on
// the client. The server must run with dev login enabled.
func (c *Client) DevLogin(ctx context.Context, email, password string) (Token, error) {
	body := map[string]any{"email": email, "password": password}
	var resp Token
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", body, &resp); err != nil {
		return Token{}, err
	}
	c.BearerToken = resp.Token
	return resp, nil
}

// Me returns the authenticated account.
func (c *Client) Me(ctx context.Context) (Actor, error) {
	var resp Actor
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// Permissions returns the caller's effective permissions.
func (c *Client) Permissions(ctx context.Context) (Permissions, error) {
	var resp Permissions
	err := c.do(ctx, http.MethodGet, "me/permissions", nil, &resp)
	return resp, err
}

// Catalog lists assignable permissions.
func (c *Client) Catalog(ctx context.Context) (Catalog, error) {
	var resp Catalog
	err := c.do(ctx, http.MethodGet, "catalog", nil, &resp)
	return resp, err
}

func (c *Client) CreateProfile(ctx context.Context, name, description string, perms []string) (Profile, error) {
	body := map[string]any{
		"name":        name,
		"description": description,
		"permissions": nonNil(perms),
	}
	var resp Profile
	err := c.do(ctx, http.MethodPost, "profiles", body, &resp)
	return resp, err
}

func (c *Client) ListProfiles(ctx context.Context) ([]Profile, error) {
	var resp []Profile
	err := c.do(ctx, http.MethodGet, "profiles", nil, &resp)
	return resp, err
}

func (c *Client) GetProfile(ctx context.Context, id string) (Profile, error) {
	var resp Profile
	err := c.do(ctx, http.MethodGet, "profiles/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (Profile, error) {
	var resp Profile
	err := c.do(ctx, http.MethodPatch, "profiles/"+url.PathEscape(id), update, &resp)
	return resp, err
}

// DeleteProfile reports whether a profile was removed. Profiles still
// assigned to employees fail with code in_use.
func (c *Client) DeleteProfile(ctx context.Context, id string) (bool, error) {
	var resp struct {
		Deleted bool `json:"deleted"`
	}
	err := c.do(ctx, http.MethodDelete, "profiles/"+url.PathEscape(id), nil, &resp)
	return resp.Deleted, err
}

// CheckPermissions asks whether the caller could grant perms.
func (c *Client) CheckPermissions(ctx context.Context, perms []string) (CheckResult, error) {
	body := map[string]any{"permissions": nonNil(perms)}
	var resp CheckResult
	err := c.do(ctx, http.MethodPost, "profiles/check", body, &resp)
	return resp, err
}

func (c *Client) CreateEmployee(ctx context.Context, emp NewEmployee) (Actor, error) {
	var resp Actor
	err := c.do(ctx, http.MethodPost, "employees", emp, &resp)
	return resp, err
}

func (c *Client) ListEmployees(ctx context.Context) ([]Actor, error) {
	var resp []Actor
	err := c.do(ctx, http.MethodGet, "employees", nil, &resp)
	return resp, err
}

func (c *Client) UpdateEmployee(ctx context.Context, id string, update EmployeeUpdate) (Actor, error) {
	var resp Actor
	err := c.do(ctx, http.MethodPatch, "employees/"+url.PathEscape(id), update, &resp)
	return resp, err
}

func (c *Client) DeleteEmployee(ctx context.Context, id string) (bool, error) {
	var resp struct {
		Deleted bool `json:"deleted"`
	}
	err := c.do(ctx, http.MethodDelete, "employees/"+url.PathEscape(id), nil, &resp)
	return resp.Deleted, err
}

// Audit returns one page of the caller's audit entries, newest first.
func (c *Client) Audit(ctx context.Context, f AuditFilter) (AuditPage, error) {
	q := url.Values{}
	if f.Action != "" {
		q.Set("action", f.Action)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Before > 0 {
		q.Set("before", fmt.Sprint(f.Before))
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprint(f.Limit))
	}
	endpoint := "audit"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp AuditPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(b, &envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	}
	return apiErr
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
