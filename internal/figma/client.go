// Package figma is a small client for the Figma REST API: reading a file's
// frames and prototype links, exporting frames as images and downloading the
// rendered images.
package figma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mockshelf/mockshelf/internal/flow"
	"github.com/mockshelf/mockshelf/internal/logging"
)

const (
	DefaultBaseURL     = "https://api.figma.com"
	defaultHTTPTimeout = 60 * time.Second
	maxErrorBody       = 4096
	maxImageBytes      = 64 << 20
)

var ErrMissingToken = errors.New("figma token required")

// APIError is a non-2xx response from the API or the image CDN.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("figma api: HTTP %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// RateLimited reports a 429 response.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Unauthorized reports a rejected or under-privileged token.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// NotFound reports an unknown file key.
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Client talks to the REST API. The token is passed per call so one client
// can serve every user.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logging.WithComponent(logger, "figma"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetFile fetches the document tree and reduces it to top-level frames and
// prototype connections. Connections are attributed to the top-level frame
// containing the interactive node.
func (c *Client) GetFile(ctx context.Context, token, fileKey string) (*FileData, error) {
	var resp fileResponse
	if err := c.getJSON(ctx, token, "/v1/files/"+url.PathEscape(fileKey), nil, &resp); err != nil {
		return nil, err
	}

	data := &FileData{
		Key:          fileKey,
		Name:         resp.Name,
		ThumbnailURL: resp.ThumbnailURL,
	}
	if t, err := time.Parse(time.RFC3339, resp.LastModified); err == nil {
		data.LastModified = t
	}

	for _, page := range resp.Document.Children {
		if page.Type != "CANVAS" {
			continue
		}
		for _, top := range page.Children {
			if top.Type != "FRAME" {
				continue
			}
			data.Frames = append(data.Frames, flow.Frame{ID: top.ID, Name: top.Name})
			data.Connections = append(data.Connections, collectConnections(top, top)...)
		}
	}

	c.logger.Debug("fetched file",
		"file_key", fileKey,
		"frames", len(data.Frames),
		"connections", len(data.Connections),
	)
	return data, nil
}

func collectConnections(frame, n node) []flow.Connection {
	var out []flow.Connection
	emit := func(dest *string, trigger string) {
		conn := flow.Connection{SourceID: frame.ID, SourceName: frame.Name, Trigger: trigger}
		if dest != nil {
			conn.DestID = *dest
		}
		out = append(out, conn)
	}

	for _, r := range n.Reactions {
		trigger := ""
		if r.Trigger != nil {
			trigger = r.Trigger.Type
		}
		actions := r.Actions
		if len(actions) == 0 && r.Action != nil {
			actions = []action{*r.Action}
		}
		for _, a := range actions {
			if a.Type == "NODE" {
				emit(a.DestinationID, trigger)
			}
		}
	}
	if len(n.Reactions) == 0 && n.TransitionNodeID != nil {
		emit(n.TransitionNodeID, "ON_CLICK")
	}

	for _, child := range n.Children {
		out = append(out, collectConnections(frame, child)...)
	}
	return out
}

// ExportImages renders ids in one request and returns id -> image URL.
// Ids the API could not render are absent from the result.
func (c *Client) ExportImages(ctx context.Context, token, fileKey string, ids []string, opts ExportOptions) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	format := opts.Format
	if format == "" {
		format = "png"
	}
	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("format", format)
	q.Set("scale", strconv.FormatFloat(scale, 'f', -1, 64))

	var resp imagesResponse
	if err := c.getJSON(ctx, token, "/v1/images/"+url.PathEscape(fileKey), q, &resp); err != nil {
		return nil, err
	}
	if resp.Err != nil && *resp.Err != "" {
		return nil, fmt.Errorf("figma export: %s", *resp.Err)
	}

	out := make(map[string]string, len(resp.Images))
	for id, u := range resp.Images {
		if u != nil && *u != "" {
			out[id] = *u
		}
	}
	c.logger.Info("exported frames", "file_key", fileKey, "requested", len(ids), "rendered", len(out))
	return out, nil
}

// Download fetches a rendered image. Image URLs are pre-signed, so no token
// is sent.
func (c *Client) Download(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, token, path string, query url.Values, dst any) error {
	if strings.TrimSpace(token) == "" {
		return ErrMissingToken
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Figma-Token", token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError(resp)
		c.logger.Warn("figma request failed",
			"path", path,
			"status", resp.StatusCode,
			"token", logging.SanitizeToken(token),
		)
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func newAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	if v := strings.TrimSpace(resp.Header.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}

// FileExporter binds a client to one token and file so the materializer can
// use it without knowing about credentials.
type FileExporter struct {
	Client  *Client
	Token   string
	FileKey string
	Options ExportOptions
}

func (e *FileExporter) Export(ctx context.Context, ids []string) (map[string]string, error) {
	return e.Client.ExportImages(ctx, e.Token, e.FileKey, ids, e.Options)
}

func (e *FileExporter) Fetch(ctx context.Context, ref string) ([]byte, error) {
	return e.Client.Download(ctx, ref)
}
