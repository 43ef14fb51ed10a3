package apiclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/ibeckermayer/modsync/internal/types"
)

// PostsQuery selects a page of posts. An empty Status means all statuses.
type PostsQuery struct {
	Status types.Status
	Limit  int
	Offset int
}

// Default page size, as the reference client uses
const DefaultPageLimit = 50

type postsResponse struct {
	Posts []types.Post `json:"posts"`
}

// ListPosts fetches one page of posts
func (c *Client) ListPosts(ctx context.Context, q PostsQuery) ([]types.Post, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	params := url.Values{}
	if q.Status != "" {
		params.Set("status", string(q.Status))
	}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	var out postsResponse
	err := c.DoJSON(ctx, http.MethodGet, "/api/posts", Options{
		Query:     params,
		Operation: "Failed to fetch posts",
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Posts, nil
}

// ActionRequest is a single-post decision
type ActionRequest struct {
	Action     types.Action `json:"action_type"`
	Notes      string       `json:"notes,omitempty"`
	TwitterURL string       `json:"twitter_url,omitempty"`
}

// ActionResponse is the server's answer to a single-post decision
type ActionResponse struct {
	NewStatus string `json:"new_status"`
	Message   string `json:"message"`
}

// PostAction sends a decision for one post
func (c *Client) PostAction(ctx context.Context, id int64, req ActionRequest) (ActionResponse, error) {
	var out ActionResponse
	err := c.DoJSON(ctx, http.MethodPost, fmt.Sprintf("/api/posts/%d/action", id), Options{
		Body:      req,
		Operation: "Failed to perform action",
	}, &out)
	return out, err
}

// BatchRequest applies one decision to many posts
type BatchRequest struct {
	PostIDs []int64      `json:"post_ids"`
	Action  types.Action `json:"action_type"`
	Notes   string       `json:"notes"`
}

// BatchItemResult is the per-post outcome the server reports
type BatchItemResult struct {
	PostID  int64  `json:"post_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BatchResponse is the server's answer to a batch decision
type BatchResponse struct {
	Message string            `json:"message"`
	Results []BatchItemResult `json:"results,omitempty"`
}

// BatchAction sends one decision for many posts in a single request
func (c *Client) BatchAction(ctx context.Context, req BatchRequest) (BatchResponse, error) {
	var out BatchResponse
	err := c.DoJSON(ctx, http.MethodPost, "/api/posts/batch-action", Options{
		Body:      req,
		Operation: "Failed to perform batch action",
	}, &out)
	return out, err
}

type analyticsResponse struct {
	Analytics types.Analytics `json:"analytics"`
}

// Analytics fetches the reporting summary for the last days days
func (c *Client) Analytics(ctx context.Context, days int) (*types.Analytics, error) {
	var out analyticsResponse
	err := c.DoJSON(ctx, http.MethodGet, "/api/analytics", Options{
		Query:     url.Values{"days": {strconv.Itoa(days)}},
		Operation: "Failed to fetch analytics",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out.Analytics, nil
}

type statsResponse struct {
	Stats types.Stats `json:"stats"`
}

// Stats fetches dashboard totals
func (c *Client) Stats(ctx context.Context) (*types.Stats, error) {
	var out statsResponse
	err := c.DoJSON(ctx, http.MethodGet, "/api/stats", Options{
		Operation: "Failed to fetch stats",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out.Stats, nil
}

// Media streams a media file. The caller must close the reader.
func (c *Client) Media(ctx context.Context, path string) (io.ReadCloser, string, error) {
	if path == "" || strings.HasPrefix(path, "/") {
		return nil, "", Validation("Invalid media path %q", path)
	}
	segments := strings.Split(path, "/")
	if slices.Contains(segments, "..") {
		return nil, "", Validation("Invalid media path %q", path)
	}
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}

	resp, cancel, err := c.send(ctx, http.MethodGet, "/api/media/"+strings.Join(segments, "/"), Options{
		Operation: "Failed to fetch media",
	})
	if err != nil {
		return nil, "", err
	}
	return cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, resp.Header.Get("Content-Type"), nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	Message string `json:"message"`
}

// Login exchanges credentials for a bearer token. It is the only unauthenticated call.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return "", Validation("Username and password are required")
	}
	var out loginResponse
	err := c.DoJSON(ctx, http.MethodPost, "/api/login", Options{
		Body:      loginRequest{Username: username, Password: password},
		NoAuth:    true,
		Operation: "Login failed",
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Token == "" {
		msg := out.Message
		if msg == "" {
			msg = "Login failed"
		}
		return "", &Error{Kind: KindUnauthorized, Message: msg}
	}
	return out.Token, nil
}

// Health is the server's health report
type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// Health checks that the server is reachable and the token accepted
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.DoJSON(ctx, http.MethodGet, "/api/health", Options{
		Operation: "Connection test failed",
	}, &out)
	return out, err
}

// CleanupResult reports a server-side cleanup
type CleanupResult struct {
	Message       string `json:"message"`
	ArchivedCount int    `json:"archived_count"`
}

// MinCleanupDays is the retention floor the server enforces
const MinCleanupDays = 7

// Cleanup asks the server to archive posts older than days
func (c *Client) Cleanup(ctx context.Context, days int) (CleanupResult, error) {
	if days < MinCleanupDays {
		days = MinCleanupDays
	}
	var out CleanupResult
	err := c.DoJSON(ctx, http.MethodPost, "/api/cleanup", Options{
		Body:      map[string]int{"days": days},
		Operation: "Failed to clean up posts",
	}, &out)
	return out, err
}
