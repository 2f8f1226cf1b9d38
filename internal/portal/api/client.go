// Package api is the HTTP client used by the portal CLI to talk to
// the EpiBuilder server. It maps the REST surface one to one and keeps
// no state beyond the base URL and the bearer token supplier.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/epibuilder/portal/internal/model"
)

// ErrSessionExpired is returned when the server rejects the token.
// Callers use it to force a logout.
var ErrSessionExpired = errors.New("Login expired. Please log in again.")

// apiError is the server's envelope for failed requests.
type apiError struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *apiError) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error.Message
}

// TokenSource supplies the current bearer token, or "" when logged out.
type TokenSource func() string

type Client struct {
	baseURL string
	http    *http.Client
	token   TokenSource
	log     *slog.Logger
}

func New(baseURL string, token TokenSource, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		token:   token,
		log:     log,
	}
}

// Login authenticates and returns the identity payload. A 2xx response
// without a token is treated as a failed login.
func (c *Client) Login(ctx context.Context, username, password string) (*model.LoginResponse, error) {
	var out model.LoginResponse
	err := c.doJSON(ctx, http.MethodPost, "/auth/login",
		model.LoginRequest{Username: username, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, errors.New("login response carried no token")
	}
	return &out, nil
}

// TasksForUser fetches the user's task list. With onlyActive set the
// server filters to non-terminal statuses.
func (c *Client) TasksForUser(ctx context.Context, userID int64, onlyActive bool) ([]model.Task, error) {
	path := fmt.Sprintf("/epitopes/tasks/user/%d", userID)
	if onlyActive {
		path += "/status"
	}
	var tasks []model.Task
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// DeleteTask removes a task and its run directory.
func (c *Client) DeleteTask(ctx context.Context, taskID int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/epitopes/tasks/%d", taskID), nil, nil)
}

// TaskLog fetches the raw pipeline log for a task.
func (c *Client) TaskLog(ctx context.Context, taskID int64) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/epitopes/tasks/%d/log", taskID), "", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return "", err
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read log body: %w", err)
	}
	return string(b), nil
}

// DownloadTask streams the result archive into dir and returns the
// path written. The filename comes from the Content-Disposition hint,
// falling back to a synthesized name when absent.
func (c *Client) DownloadTask(ctx context.Context, task *model.Task, dir string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/epitopes/tasks/%d/download", task.ID), "", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return "", err
	}

	name := dispositionFilename(resp.Header.Get("Content-Disposition"))
	if name == "" {
		name = fmt.Sprintf("%s_%d.zip", task.RunName, task.ID)
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write archive: %w", err)
	}
	return path, nil
}

// SubmitTask posts a new run as a multipart body: the JSON metadata in
// "data", the sequence file in "file", and any uploaded proteomes as
// repeated "proteomes" parts.
func (c *Client) SubmitTask(ctx context.Context, sub *model.TaskSubmission,
	fastaPath string, proteomePaths []string) (*model.SubmitResponse, error) {

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	meta, err := json.Marshal(sub)
	if err != nil {
		return nil, err
	}
	if err := mw.WriteField("data", string(meta)); err != nil {
		return nil, err
	}
	if err := attachFile(mw, "file", fastaPath); err != nil {
		return nil, err
	}
	for _, p := range proteomePaths {
		if err := attachFile(mw, "proteomes", p); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/epitopes/tasks/new", mw.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var envelope struct {
		Data model.SubmitResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode submit response: %w", err)
	}
	return &envelope.Data, nil
}

// Databases fetches the reference-proteome catalog.
func (c *Client) Databases(ctx context.Context) ([]model.Database, error) {
	var dbs []model.Database
	if err := c.doJSON(ctx, http.MethodGet, "/dbs/", nil, &dbs); err != nil {
		return nil, err
	}
	return dbs, nil
}

// AddDatabase registers a reference proteome (admin only).
func (c *Client) AddDatabase(ctx context.Context, alias, filePath string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("alias", alias); err != nil {
		return err
	}
	if err := attachFile(mw, "file", filePath); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, "/dbs/", mw.FormDataContentType(), &buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkStatus(resp)
}

// DeleteDatabase removes a catalog entry (admin only).
func (c *Client) DeleteDatabase(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/dbs/%d", id), nil, nil)
}

// Users lists all accounts (admin only).
func (c *Client) Users(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := c.doJSON(ctx, http.MethodGet, "/users/", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateUser creates an account (admin only).
func (c *Client) CreateUser(ctx context.Context, req *model.UserRequest) (*model.User, error) {
	var user model.User
	if err := c.doJSON(ctx, http.MethodPost, "/users/", req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteUser removes an account (admin only).
// UpdateUser replaces a user's profile. An empty Password keeps the
// current credential.
func (c *Client) UpdateUser(ctx context.Context, id int64, req *model.UserRequest) (*model.User, error) {
	var user model.User
	if err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/users/%d", id), req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/users/%d", id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("request failed", "method", method, "path", path, "err", err)
		return nil, err
	}
	return resp, nil
}

// doJSON sends an optional JSON body and decodes a JSON response into
// out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	resp, err := c.do(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// checkStatus maps non-2xx responses to errors. Auth failures and
// server messages mentioning session expiry become ErrSessionExpired
// so callers can force a logout.
func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var ae apiError
	_ = json.Unmarshal(b, &ae)

	msg := ae.text()
	if resp.StatusCode == http.StatusUnauthorized || strings.Contains(msg, "Login expired") {
		return ErrSessionExpired
	}
	if msg == "" {
		msg = strings.TrimSpace(string(b))
	}
	if msg == "" {
		msg = resp.Status
	}
	return errors.New(msg)
}

// dispositionFilename extracts the filename hint from a
// Content-Disposition header, or "" when it cannot be parsed.
func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func attachFile(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}
