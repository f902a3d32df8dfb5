// Package mockserver is a local stand-in for the interview backend. It
// serves the REST endpoints the client uses and the interview WebSocket
// protocol with canned questions and heuristic scoring, so sessions can
// be practiced and tested offline.
package mockserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"interviewcoach/internal/channel"
	"interviewcoach/internal/restapi"
)

const (
	defaultHeartbeat    = 30 * time.Second
	defaultFramesPerTip = 10
	maxResumeBytes      = 5 << 20
)

// Options configures the mock backend.
type Options struct {
	Questions []channel.WireQuestion
	// Secret signs issued tokens. Empty generates a random one.
	Secret            string
	HeartbeatInterval time.Duration
	// AnalyticsEvery sends an analytics message every N video frames.
	AnalyticsEvery int
	// FillerThreshold is the filler count in one audio transcript that
	// triggers an intervention.
	FillerThreshold int
	Now             func() time.Time
}

// Server is the in-memory mock backend.
type Server struct {
	opts      Options
	questions []channel.WireQuestion
	secret    []byte
	now       func() time.Time
	log       logrus.FieldLogger
	upgrader  websocket.Upgrader
	router    *mux.Router

	mu       sync.Mutex
	users    map[string]*user
	sessions map[string]*session
	conns    map[*interviewConn]struct{}
}

// New creates a mock backend.
func New(opts Options, log logrus.FieldLogger) *Server {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if len(opts.Questions) == 0 {
		opts.Questions = DefaultQuestions
	}
	if opts.Secret == "" {
		opts.Secret = uuid.NewString()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	if opts.AnalyticsEvery <= 0 {
		opts.AnalyticsEvery = defaultFramesPerTip
	}
	if opts.FillerThreshold <= 0 {
		opts.FillerThreshold = 2
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		opts:      opts,
		questions: opts.Questions,
		secret:    []byte(opts.Secret),
		now:       opts.Now,
		log:       log.WithField("component", "mockserver"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		users:    make(map[string]*user),
		sessions: make(map[string]*session),
		conns:    make(map[*interviewConn]struct{}),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/auth/login", s.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/register", s.register).Methods(http.MethodPost)
	r.HandleFunc("/ws/interview/{id}", s.interview).Methods(http.MethodGet)

	authed := r.NewRoute().Subrouter()
	authed.Use(s.requireUser)
	authed.HandleFunc("/auth/me", s.me).Methods(http.MethodGet)
	authed.HandleFunc("/auth/logout", s.logout).Methods(http.MethodPost)
	authed.HandleFunc("/sessions/create", s.createSession).Methods(http.MethodPost)
	authed.HandleFunc("/sessions/list", s.listSessions).Methods(http.MethodGet)
	authed.HandleFunc("/sessions/compare", s.compareSessions).Methods(http.MethodPost)
	authed.HandleFunc("/sessions/statistics/progress", s.progress).Methods(http.MethodGet)
	authed.HandleFunc("/sessions/{id}", s.getSession).Methods(http.MethodGet)
	authed.HandleFunc("/sessions/{id}", s.deleteSession).Methods(http.MethodDelete)
	authed.HandleFunc("/analytics/user/summary", s.summary).Methods(http.MethodGet)
	authed.HandleFunc("/analytics/user/trends", s.trends).Methods(http.MethodGet)
	authed.HandleFunc("/analytics/user/weak-areas", s.weakAreas).Methods(http.MethodGet)
	authed.HandleFunc("/analytics/{id}", s.sessionAnalytics).Methods(http.MethodGet)
	return r
}

// Handler returns the HTTP handler serving REST and WebSocket routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("mock backend listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.DropConnections()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// IssueToken registers email if needed and returns a signed token for it.
func (s *Server) IssueToken(email string) (string, error) {
	s.mu.Lock()
	u := s.userLocked(email, "")
	s.mu.Unlock()
	return s.issueToken(u)
}

// SessionStatus reports the stored status of a session.
func (s *Server) SessionStatus(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return "", false
	}
	return sess.Status, true
}

// DropConnections closes every open interview socket without a close
// handshake, as a network failure would.
func (s *Server) DropConnections() int {
	s.mu.Lock()
	conns := make([]*interviewConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
	return len(conns)
}

type ctxKey struct{}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		u, err := s.authenticate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
	})
}

func currentUser(r *http.Request) *user {
	u, _ := r.Context().Value(ctxKey{}).(*user)
	return u
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) profile(u *user) map[string]any {
	count := 0
	minutes := 0.0
	for _, sess := range s.sessions {
		if sess.UserID != u.ID {
			continue
		}
		count++
		if sess.DurationMinutes != nil {
			minutes += *sess.DurationMinutes
		}
	}
	return map[string]any{
		"id":                          u.ID,
		"email":                       u.Email,
		"full_name":                   u.FullName,
		"created_at":                  u.CreatedAt,
		"sessions_count":              count,
		"total_practice_time_minutes": round2(minutes),
	}
}

func (s *Server) tokenResponse(w http.ResponseWriter, status int, u *user) {
	token, err := s.issueToken(u)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.mu.Lock()
	profile := s.profile(u)
	s.mu.Unlock()
	writeJSON(w, status, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"user":         profile,
	})
}

// login accepts any password; unknown emails are registered on the fly.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	email := r.PostForm.Get("username")
	if !strings.Contains(email, "@") || r.PostForm.Get("password") == "" {
		writeError(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	s.mu.Lock()
	u := s.userLocked(email, "")
	s.mu.Unlock()
	s.tokenResponse(w, http.StatusOK, u)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req restapi.Registration
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !strings.Contains(req.Email, "@") || len(req.Password) < 8 || len(strings.TrimSpace(req.FullName)) < 2 {
		writeError(w, http.StatusUnprocessableEntity, "email, password (8+ chars) and full_name are required")
		return
	}
	s.mu.Lock()
	if _, exists := s.users[strings.ToLower(req.Email)]; exists {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "Email already registered")
		return
	}
	u := s.userLocked(req.Email, req.FullName)
	s.mu.Unlock()
	s.tokenResponse(w, http.StatusCreated, u)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	profile := s.profile(currentUser(r))
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxResumeBytes); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form")
		return
	}
	var req restapi.NewSession
	if err := json.Unmarshal([]byte(r.FormValue("session")), &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON in session field")
		return
	}
	if len(strings.TrimSpace(req.JobDescription)) < 50 || len(strings.TrimSpace(req.Position)) < 2 {
		writeError(w, http.StatusUnprocessableEntity, "Invalid session data: job_description needs 50+ chars and position 2+")
		return
	}
	if file, _, err := r.FormFile("resume"); err == nil {
		data, readErr := io.ReadAll(io.LimitReader(file, maxResumeBytes+1))
		file.Close()
		if readErr != nil || len(data) > maxResumeBytes {
			writeError(w, http.StatusBadRequest, "Resume file too large (max 5MB)")
			return
		}
		req.ResumeText = string(data)
	}

	s.mu.Lock()
	sess := s.newSessionLocked(currentUser(r), req)
	out := sess.Session
	s.mu.Unlock()

	s.log.WithField("session", out.ID).Info("session created")
	writeJSON(w, http.StatusCreated, out)
}

func queryInt(r *http.Request, key string, fallback int) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	skip := queryInt(r, "skip", 0)

	s.mu.Lock()
	all := s.userSessionsLocked(currentUser(r))
	out := make([]restapi.Session, 0, limit)
	for i := skip; i < len(all) && len(out) < limit; i++ {
		out = append(out, all[i].Session)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) ownedSession(r *http.Request, id string) (*session, bool) {
	sess, ok := s.sessions[id]
	if !ok || sess.UserID != currentUser(r).ID {
		return nil, false
	}
	return sess, true
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sess, ok := s.ownedSession(r, mux.Vars(r)["id"])
	var out restapi.SessionDetail
	if ok {
		out = sess.detail()
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	_, ok := s.ownedSession(r, id)
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) compareSessions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Session1ID string `json:"session1_id"`
		Session2ID string `json:"session2_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	first, ok1 := s.ownedSession(r, req.Session1ID)
	second, ok2 := s.ownedSession(r, req.Session2ID)
	var out restapi.Comparison
	if ok1 && ok2 {
		out.Session1 = sessionRef(first)
		out.Session2 = sessionRef(second)
		out.MetricsComparison = map[string]restapi.MetricComparison{}
		out.Improvements = []restapi.MetricChange{}
		out.Regressions = []restapi.MetricChange{}
		a, b := float64(first.FillerWords), float64(second.FillerWords)
		out.MetricsComparison["Filler Words"] = restapi.MetricComparison{
			Session1Value: a, Session2Value: b, Change: b - a, PercentChange: percentChange(a, b),
		}
		diff := out.Session2.OverallScore - out.Session1.OverallScore
		out.OverallImprovement.ScoreChange = round2(diff)
		out.OverallImprovement.Improved = diff > 0
		if math.Abs(diff) > 5 {
			change := restapi.MetricChange{Metric: "Overall Score", Change: round2(diff), Percentage: percentChange(out.Session1.OverallScore, out.Session2.OverallScore)}
			if diff > 0 {
				out.Improvements = append(out.Improvements, change)
			} else {
				out.Regressions = append(out.Regressions, change)
			}
		}
	}
	s.mu.Unlock()

	if !ok1 || !ok2 {
		writeError(w, http.StatusNotFound, "One or both sessions not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func sessionRef(sess *session) restapi.SessionRef {
	ref := restapi.SessionRef{ID: sess.ID, Date: sess.SessionDate, Position: sess.Position}
	if sess.OverallScore != nil {
		ref.OverallScore = *sess.OverallScore
	}
	if sess.DurationMinutes != nil {
		ref.DurationMinutes = *sess.DurationMinutes
	}
	return ref
}

func percentChange(a, b float64) float64 {
	if a <= 0 {
		return 0
	}
	return round2((b - a) / a * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// completedLocked returns the user's completed sessions, oldest first.
func (s *Server) completedLocked(u *user) []*session {
	all := s.userSessionsLocked(u)
	out := make([]*session, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Status == statusCompleted {
			out = append(out, all[i])
		}
	}
	return out
}

func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	completed := s.completedLocked(currentUser(r))
	out := restapi.Progress{TotalSessions: len(completed), ScoreTrend: []restapi.TrendPoint{}}
	var scores []float64
	for i, sess := range completed {
		ref := sessionRef(sess)
		out.TotalPracticeTimeMinutes += ref.DurationMinutes
		out.ScoreTrend = append(out.ScoreTrend, restapi.TrendPoint{
			SessionNumber: i + 1, Date: ref.Date, Score: ref.OverallScore, Position: ref.Position,
		})
		if ref.OverallScore > 0 {
			scores = append(scores, ref.OverallScore)
		}
	}
	s.mu.Unlock()

	if len(completed) == 0 {
		out.Message = "No completed sessions yet"
		writeJSON(w, http.StatusOK, out)
		return
	}
	out.TotalPracticeTimeMinutes = math.Round(out.TotalPracticeTimeMinutes*10) / 10
	if len(scores) > 0 {
		out.AverageScore = round2(mean(scores))
		out.HighestScore, out.LowestScore = scores[0], scores[0]
		for _, v := range scores {
			out.HighestScore = math.Max(out.HighestScore, v)
			out.LowestScore = math.Min(out.LowestScore, v)
		}
	}
	if len(scores) >= 2 {
		half := len(scores) / 2
		first, second := mean(scores[:half]), mean(scores[half:])
		out.ImprovementRate = percentChange(first, second)
	}
	writeJSON(w, http.StatusOK, out)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	s.mu.Lock()
	completed := s.completedLocked(u)
	profile := s.profile(u)
	s.mu.Unlock()

	out := restapi.Summary{TotalSessions: len(completed)}
	if len(completed) == 0 {
		out.Message = "No completed sessions yet"
		writeJSON(w, http.StatusOK, out)
		return
	}
	scores := make([]float64, 0, len(completed))
	for _, sess := range completed {
		scores = append(scores, sessionRef(sess).OverallScore)
	}
	out.AverageScore = round2(mean(scores))
	out.LatestScore = scores[len(scores)-1]
	for _, v := range scores {
		out.HighestScore = math.Max(out.HighestScore, v)
	}
	if len(scores) >= 2 {
		recent := scores[max(0, len(scores)-3):]
		older := scores[:min(3, len(scores))]
		out.ImprovementTrend = round2(mean(recent) - mean(older))
	}
	out.TotalPracticeTime, _ = profile["total_practice_time_minutes"].(float64)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) trends(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	s.mu.Lock()
	points := []map[string]any{}
	for _, sess := range s.completedLocked(currentUser(r)) {
		if sess.SessionDate.Before(cutoff) {
			continue
		}
		points = append(points, map[string]any{
			"date":          sess.SessionDate,
			"overall_score": sessionRef(sess).OverallScore,
			"filler_words":  sess.FillerWords,
		})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"period_days": days, "trends": points})
}

func (s *Server) weakAreas(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 5)

	s.mu.Lock()
	completed := s.completedLocked(currentUser(r))
	var fillers, scores []float64
	for _, sess := range completed {
		fillers = append(fillers, float64(sess.FillerWords))
		scores = append(scores, sessionRef(sess).OverallScore)
	}
	s.mu.Unlock()

	out := restapi.WeakAreas{WeakAreas: []restapi.WeakArea{}, SessionsAnalyzed: len(completed)}
	if len(completed) == 0 {
		out.Message = "Complete some sessions first to identify areas for improvement"
		writeJSON(w, http.StatusOK, out)
		return
	}
	if avg := mean(fillers); avg > 5 {
		out.WeakAreas = append(out.WeakAreas, restapi.WeakArea{
			Area: "Filler Words", AverageScore: round2(avg), SessionsAnalyzed: len(completed), Severity: "medium",
			Suggestion: "Practice pausing instead of using fillers.",
		})
	}
	if avg := mean(scores); avg < 70 {
		severity := "medium"
		if avg < 50 {
			severity = "high"
		}
		out.WeakAreas = append(out.WeakAreas, restapi.WeakArea{
			Area: "Answer Relevance", AverageScore: round2(avg), SessionsAnalyzed: len(completed), Severity: severity,
			Suggestion: "Focus on concrete examples with measurable outcomes.",
		})
	}
	out.TotalAreasIdentified = len(out.WeakAreas)
	if len(out.WeakAreas) > limit {
		out.WeakAreas = out.WeakAreas[:limit]
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) sessionAnalytics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sess, ok := s.ownedSession(r, mux.Vars(r)["id"])
	var out map[string]any
	if ok {
		scores := make([]float64, 0, len(sess.Answers))
		for _, a := range sess.Answers {
			scores = append(scores, a.Score)
		}
		out = map[string]any{
			"session_id":           sess.ID,
			"answers":              len(sess.Answers),
			"average_answer_score": round2(mean(scores)),
			"total_filler_words":   sess.FillerWords,
			"frames_analyzed":      sess.FramesSeen,
			"interventions":        sess.Interventions,
		}
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Analytics not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}
