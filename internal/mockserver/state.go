package mockserver

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"interviewcoach/internal/channel"
	"interviewcoach/internal/restapi"
)

const tokenTTL = 24 * time.Hour

var (
	errInvalidToken    = errors.New("invalid or expired token")
	errSessionNotFound = errors.New("session not found")
)

// Session status values stored by the mock backend.
const (
	statusCreated    = "created"
	statusInProgress = "in_progress"
	statusCompleted  = "completed"
	statusAborted    = "aborted"
)

type user struct {
	ID        string
	Email     string
	FullName  string
	CreatedAt time.Time
}

type answerRecord struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Duration float64   `json:"duration_seconds"`
	Score    float64   `json:"score"`
	Feedback string    `json:"feedback"`
	At       time.Time `json:"timestamp"`
}

type session struct {
	restapi.Session
	Questions     []channel.WireQuestion
	Index         int
	Answers       []answerRecord
	StartedAt     time.Time
	Feedback      map[string]any
	Improvements  []string
	Strengths     []string
	FramesSeen    int
	FillerWords   int
	Interventions int
}

func (s *session) current() (channel.WireQuestion, bool) {
	if s.Index < 0 || s.Index >= len(s.Questions) {
		return channel.WireQuestion{}, false
	}
	return s.Questions[s.Index], true
}

func (s *session) detail() restapi.SessionDetail {
	responses := make([]map[string]any, 0, len(s.Answers))
	for _, a := range s.Answers {
		responses = append(responses, map[string]any{
			"question":         a.Question,
			"answer":           a.Answer,
			"duration_seconds": a.Duration,
			"evaluation":       map[string]any{"overall_score": a.Score, "feedback": a.Feedback},
			"timestamp":        a.At,
		})
	}
	return restapi.SessionDetail{
		Session:      s.Session,
		Responses:    responses,
		Feedback:     s.Feedback,
		Improvements: s.Improvements,
		Strengths:    s.Strengths,
	}
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (s *Server) issueToken(u *user) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	})
	return token.SignedString(s.secret)
}

// authenticate resolves a bearer token to its user.
func (s *Server) authenticate(token string) (*user, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errInvalidToken
	}
	parsed := claims{}
	_, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, errInvalidToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[parsed.Email]
	if !ok {
		return nil, errInvalidToken
	}
	return u, nil
}

// userLocked returns the user for email, creating it on first use.
func (s *Server) userLocked(email, fullName string) *user {
	email = strings.ToLower(strings.TrimSpace(email))
	if u, ok := s.users[email]; ok {
		return u
	}
	if fullName == "" {
		fullName = strings.Split(email, "@")[0]
	}
	u := &user{ID: uuid.NewString(), Email: email, FullName: fullName, CreatedAt: s.now().UTC()}
	s.users[email] = u
	return u
}

func (s *Server) newSessionLocked(owner *user, req restapi.NewSession) *session {
	sess := &session{
		Session: restapi.Session{
			ID:             uuid.NewString(),
			UserID:         owner.ID,
			JobDescription: req.JobDescription,
			CompanyName:    req.CompanyName,
			Position:       req.Position,
			SessionDate:    s.now().UTC(),
			Status:         statusCreated,
		},
		Questions: append([]channel.WireQuestion(nil), s.questions...),
	}
	s.sessions[sess.ID] = sess
	return sess
}

// sessionForLocked returns the session the user may join. Unknown ids
// are created on the fly so any id can be practiced against.
func (s *Server) sessionForLocked(owner *user, id string) (*session, error) {
	if sess, ok := s.sessions[id]; ok {
		if sess.UserID != owner.ID {
			return nil, errSessionNotFound
		}
		return sess, nil
	}
	sess := s.newSessionLocked(owner, restapi.NewSession{Position: "Practice"})
	delete(s.sessions, sess.ID)
	sess.ID = id
	s.sessions[id] = sess
	return sess, nil
}

func (s *Server) userSessionsLocked(owner *user) []*session {
	out := make([]*session, 0)
	for _, sess := range s.sessions {
		if sess.UserID == owner.ID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SessionDate.After(out[j].SessionDate)
	})
	return out
}
