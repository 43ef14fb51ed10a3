// Package testserver is an in-process fake of the moderation API. It keeps
// posts in memory, enforces bearer auth and can be told to fail or stall
// specific routes.
package testserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ibeckermayer/modsync/internal/types"
)

// Route names used for failure injection and hit counting
const (
	RouteLogin     = "login"
	RouteHealth    = "health"
	RoutePosts     = "posts"
	RouteAction    = "action"
	RouteBatch     = "batch"
	RouteAnalytics = "analytics"
	RouteStats     = "stats"
	RouteMedia     = "media"
	RouteCleanup   = "cleanup"
)

// Default credentials
const (
	Username = "moderator"
	Password = "secret"
	Token    = "test-token"
)

type fault struct {
	status int // 0 means stall until the client gives up
}

type mediaFile struct {
	contentType string
	data        []byte
}

// Server is a running fake API
type Server struct {
	URL string

	mu      sync.Mutex
	posts   map[int64]types.Post
	actions map[string]int
	media   map[string]mediaFile
	faults  map[string][]fault
	hits    map[string]int
	now     func() time.Time

	srv *httptest.Server
}

// New starts a server holding posts
func New(posts ...types.Post) *Server {
	s := &Server{
		posts:   make(map[int64]types.Post),
		actions: make(map[string]int),
		media:   make(map[string]mediaFile),
		faults:  make(map[string][]fault),
		hits:    make(map[string]int),
		now:     time.Now,
	}
	for _, p := range posts {
		s.posts[p.ID] = p
	}
	s.srv = httptest.NewServer(s.routes())
	s.URL = s.srv.URL
	return s
}

// Close shuts the server down
func (s *Server) Close() {
	s.srv.Close()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.With(s.track(RouteLogin)).Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)
			r.With(s.track(RouteHealth)).Get("/health", s.handleHealth)
			r.With(s.track(RoutePosts)).Get("/posts", s.handlePosts)
			r.With(s.track(RouteBatch)).Post("/posts/batch-action", s.handleBatch)
			r.With(s.track(RouteAction)).Post("/posts/{postID}/action", s.handleAction)
			r.With(s.track(RouteAnalytics)).Get("/analytics", s.handleAnalytics)
			r.With(s.track(RouteStats)).Get("/stats", s.handleStats)
			r.With(s.track(RouteMedia)).Get("/media/*", s.handleMedia)
			r.With(s.track(RouteCleanup)).Post("/cleanup", s.handleCleanup)
		})
	})
	return r
}

// FailNext makes the next n requests to route answer with status
func (s *Server) FailNext(route string, n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.faults[route] = append(s.faults[route], fault{status: status})
	}
}

// StallNext makes the next n requests to route hang until the client disconnects
func (s *Server) StallNext(route string, n int) {
	s.FailNext(route, n, 0)
}

// Hits reports how many requests reached route
func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

// Post returns the server's copy of a post
func (s *Server) Post(id int64) (types.Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	return p, ok
}

// AddMedia serves data at /api/media/<path>
func (s *Server) AddMedia(path, contentType string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media[path] = mediaFile{contentType: contentType, data: data}
}

func (s *Server) track(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.mu.Lock()
			s.hits[route]++
			var f *fault
			if q := s.faults[route]; len(q) > 0 {
				f = &q[0]
				s.faults[route] = q[1:]
			}
			s.mu.Unlock()

			if f != nil {
				if f.status == 0 {
					<-r.Context().Done()
					return
				}
				writeJSON(w, f.status, map[string]any{"success": false, "error": http.StatusText(f.status)})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+Token {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"msg": "Missing or invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" || body.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Missing username or password"})
		return
	}
	if body.Username != Username || body.Password != Password {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   Token,
		"user":    map[string]string{"username": body.Username, "role": "admin"},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": s.now().Format("2006-01-02T15:04:05.999999"),
		"version":   "1.0.0",
	})
}

func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := clamp(atoiDefault(q.Get("limit"), 50), 1, 100)
	offset := atoiDefault(q.Get("offset"), 0)
	status := q.Get("status")

	s.mu.Lock()
	var posts []types.Post
	for _, p := range s.posts {
		if status == "" || string(p.Status) == status {
			posts = append(posts, p)
		}
	}
	s.mu.Unlock()

	sort.Slice(posts, func(i, j int) bool {
		if !posts[i].CreatedAt.Equal(posts[j].CreatedAt.Time) {
			return posts[i].CreatedAt.After(posts[j].CreatedAt.Time)
		}
		return posts[i].ID > posts[j].ID
	})
	if offset > len(posts) {
		offset = len(posts)
	}
	posts = posts[offset:]
	if len(posts) > limit {
		posts = posts[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"posts":   posts,
		"count":   len(posts),
		"filters": map[string]any{"status": status, "limit": limit, "offset": offset},
	})
}

// singleStatus mirrors the server's action mapping
var singleStatus = map[types.Action]types.Status{
	types.ActionPostTwitter: types.StatusPosted,
	types.ActionDelete:      types.StatusDeleted,
	types.ActionArchive:     types.StatusArchived,
	types.ActionApprove:     "approved",
	types.ActionReject:      types.StatusRejected,
}

var batchStatus = map[types.Action]types.Status{
	types.ActionDelete:  types.StatusDeleted,
	types.ActionArchive: types.StatusArchived,
	types.ActionApprove: "approved",
	types.ActionReject:  types.StatusRejected,
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "postID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Not found"})
		return
	}
	var body struct {
		Action     types.Action `json:"action_type"`
		Notes      string       `json:"notes"`
		TwitterURL string       `json:"twitter_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Action == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "action_type is required"})
		return
	}
	status, ok := singleStatus[body.Action]
	if !ok {
		status = "processed"
	}

	s.mu.Lock()
	p, found := s.posts[id]
	if found {
		p.Status = status
		now := types.NewTimestamp(s.now().UTC())
		p.ProcessedAt = &now
		if body.Action == types.ActionPostTwitter {
			p.PostedAt = &now
			p.TwitterURL = body.TwitterURL
		}
		s.posts[id] = p
		s.actions[string(body.Action)]++
	}
	s.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "Post not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    fmt.Sprintf("Post %s successfully", status),
		"new_status": status,
	})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PostIDs []int64      `json:"post_ids"`
		Action  types.Action `json:"action_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.PostIDs) == 0 || body.Action == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "post_ids and action_type are required"})
		return
	}
	status, ok := batchStatus[body.Action]
	if !ok {
		status = "processed"
	}

	type result struct {
		PostID  int64  `json:"post_id"`
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
	results := make([]result, 0, len(body.PostIDs))
	succeeded := 0

	s.mu.Lock()
	now := types.NewTimestamp(s.now().UTC())
	for _, id := range body.PostIDs {
		p, found := s.posts[id]
		if !found {
			results = append(results, result{PostID: id, Error: "Update failed"})
			continue
		}
		p.Status = status
		p.ProcessedAt = &now
		s.posts[id] = p
		s.actions[string(body.Action)]++
		results = append(results, result{PostID: id, Success: true})
		succeeded++
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Batch action completed: %d/%d successful", succeeded, len(body.PostIDs)),
		"results": results,
	})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	days := clamp(atoiDefault(r.URL.Query().Get("days"), 7), 1, 30)
	since := s.now().AddDate(0, 0, -days)

	a := types.Analytics{
		PostsByStatus:  map[string]int{},
		PostsByChannel: map[string]int{},
		DailyPosts:     map[string]int{},
		UserActions:    map[string]int{},
	}
	var quality, bias float64
	var scored int

	s.mu.Lock()
	for _, p := range s.posts {
		if p.CreatedAt.Before(since) {
			continue
		}
		a.PostsByStatus[string(p.Status)]++
		a.PostsByChannel[p.ChannelName]++
		a.DailyPosts[p.CreatedAt.Format("2006-01-02")]++
		if p.QualityScore != nil {
			quality += p.Quality()
			bias += p.Bias()
			scored++
		}
	}
	for k, v := range s.actions {
		a.UserActions[k] = v
	}
	s.mu.Unlock()

	if scored > 0 {
		a.QualityMetrics = types.QualityMetrics{
			AvgQuality: quality / float64(scored),
			AvgBias:    bias / float64(scored),
			TotalPosts: scored,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "analytics": a, "period_days": days})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var st types.Stats
	s.mu.Lock()
	for _, p := range s.posts {
		st.TotalPosts++
		switch p.Status {
		case types.StatusPending:
			st.PendingPosts++
		case types.StatusPosted:
			st.PostedCount++
		case types.StatusDeleted:
			st.DeletedCount++
		case types.StatusArchived:
			st.ArchivedCount++
		}
	}
	s.mu.Unlock()

	if st.TotalPosts > 0 {
		st.PostRate = round1(float64(st.PostedCount) / float64(st.TotalPosts) * 100)
		st.DeleteRate = round1(float64(st.DeletedCount) / float64(st.TotalPosts) * 100)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": st})
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if strings.Contains(path, "..") || strings.HasPrefix(path, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid file path"})
		return
	}
	s.mu.Lock()
	f, ok := s.media[path]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "File not found"})
		return
	}
	w.Header().Set("Content-Type", f.contentType)
	_, _ = w.Write(f.data)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	body := struct {
		Days int `json:"days"`
	}{Days: 30}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Days < 7 {
		body.Days = 7
	}
	cutoff := s.now().AddDate(0, 0, -body.Days)

	archived := 0
	s.mu.Lock()
	for id, p := range s.posts {
		if p.Status == types.StatusPending && p.CreatedAt.Before(cutoff) {
			p.Status = types.StatusArchived
			s.posts[id] = p
			archived++
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        fmt.Sprintf("Cleaned up %d old posts", archived),
		"archived_count": archived,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func atoiDefault(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func clamp(n, lo, hi int) int {
	return max(lo, min(n, hi))
}

func round1(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}
