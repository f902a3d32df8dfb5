package mockserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"interviewcoach/internal/channel"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 8 << 20
)

type interviewConn struct {
	server    *Server
	ws        *websocket.Conn
	sessionID string
	log       logrus.FieldLogger

	writeMu sync.Mutex
	user    *user
}

// interview handles GET /ws/interview/{id}.
func (s *Server) interview(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &interviewConn{
		server:    s,
		ws:        ws,
		sessionID: id,
		log:       s.log.WithField("session", id),
	}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	c.serve()
}

func (c *interviewConn) serve() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.disconnect()
	}()
	go c.heartbeat(ctx)

	c.ws.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("client dropped")
			}
			return
		}
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.WithError(err).Debug("ignoring malformed message")
			continue
		}
		if done := c.handle(env.Type, data); done {
			return
		}
	}
}

func (c *interviewConn) disconnect() {
	s := c.server
	s.mu.Lock()
	delete(s.conns, c)
	if sess, ok := s.sessions[c.sessionID]; ok && sess.Status == statusInProgress {
		sess.Status = statusAborted
	}
	s.mu.Unlock()
	_ = c.ws.Close()
	c.log.Debug("interview connection closed")
}

func (c *interviewConn) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.server.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(map[string]any{"type": channel.TypeHeartbeat, "timestamp": c.server.now().UTC().Format(time.RFC3339)}); err != nil {
				return
			}
		}
	}
}

func (c *interviewConn) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *interviewConn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// handle processes one client message and reports whether the
// connection should end.
func (c *interviewConn) handle(kind string, data []byte) bool {
	if kind == channel.TypePing {
		_ = c.send(map[string]any{"type": channel.TypePong, "timestamp": c.server.now().UTC().Format(time.RFC3339)})
		return false
	}
	if kind == channel.TypeAuth {
		return !c.authenticate(data)
	}
	if c.user == nil {
		return false
	}

	switch kind {
	case channel.TypeVideoFrame:
		c.videoFrame()
	case channel.TypeAudioChunk:
		var msg channel.AudioChunkMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			c.audioChunk(msg)
		}
	case channel.TypeAnswer:
		var msg channel.AnswerMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			c.answer(msg)
		}
	case channel.TypeEndSession:
		c.endSession()
		return true
	default:
		c.log.WithField("type", kind).Debug("ignoring unknown message type")
	}
	return false
}

func (c *interviewConn) authenticate(data []byte) bool {
	var msg channel.AuthMessage
	_ = json.Unmarshal(data, &msg)

	s := c.server
	u, err := s.authenticate(msg.Token)
	if err != nil {
		c.log.WithError(err).Info("authentication failed")
		c.closeWith(websocket.ClosePolicyViolation, "Authentication failed")
		return false
	}

	s.mu.Lock()
	sess, err := s.sessionForLocked(u, c.sessionID)
	if err != nil {
		s.mu.Unlock()
		c.closeWith(websocket.ClosePolicyViolation, "Unauthorized")
		return false
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = s.now()
	}
	if sess.Status != statusCompleted {
		sess.Status = statusInProgress
	}
	total := len(sess.Questions)
	question, hasQuestion := sess.current()
	number := sess.Index + 1
	s.mu.Unlock()

	c.user = u
	c.log.WithField("user", u.Email).Info("interview authenticated")

	_ = c.send(map[string]any{"type": channel.TypeAuthSuccess, "user": u.FullName})
	_ = c.send(map[string]any{
		"type":            channel.TypeSessionStarted,
		"message":         "Welcome to your interview session!",
		"total_questions": total,
	})
	if hasQuestion {
		c.sendQuestion(question, number, total)
	} else {
		c.allAnswered()
	}
	return true
}

func (c *interviewConn) sendQuestion(q channel.WireQuestion, number, total int) {
	_ = c.send(map[string]any{
		"type":            channel.TypeNextQuestion,
		"question":        q,
		"question_number": number,
		"total_questions": total,
	})
}

func (c *interviewConn) allAnswered() {
	_ = c.send(map[string]any{
		"type":    channel.TypeAllQuestionsComplete,
		"message": "You've answered all questions! Generating your feedback report...",
	})
}

func (c *interviewConn) videoFrame() {
	s := c.server
	s.mu.Lock()
	sess := s.sessions[c.sessionID]
	if sess == nil {
		s.mu.Unlock()
		return
	}
	sess.FramesSeen++
	frames := sess.FramesSeen
	s.mu.Unlock()

	if frames%s.opts.AnalyticsEvery == 0 {
		_ = c.send(map[string]any{
			"type": channel.TypeAnalytics,
			"data": map[string]any{
				"video":     map[string]any{"frames_received": frames, "face_detected": true},
				"timestamp": s.now().UTC().Format(time.RFC3339),
			},
		})
	}
}

func (c *interviewConn) audioChunk(msg channel.AudioChunkMessage) {
	if msg.Transcript == nil {
		return
	}
	fillers := countFillers(*msg.Transcript)

	s := c.server
	s.mu.Lock()
	sess := s.sessions[c.sessionID]
	if sess == nil {
		s.mu.Unlock()
		return
	}
	sess.FillerWords += fillers
	intervene := fillers >= s.opts.FillerThreshold
	if intervene {
		sess.Interventions++
	}
	s.mu.Unlock()

	_ = c.send(map[string]any{
		"type": channel.TypeAnalytics,
		"data": map[string]any{
			"audio":     map[string]any{"filler_words": fillers, "words": len(strings.Fields(*msg.Transcript))},
			"timestamp": s.now().UTC().Format(time.RFC3339),
		},
	})
	if intervene {
		severity := "medium"
		if fillers >= 2*s.opts.FillerThreshold {
			severity = "high"
		}
		_ = c.send(map[string]any{
			"type": channel.TypeIntervention,
			"intervention": channel.WireIntervention{
				Message:  "Try pausing instead of using filler words.",
				Severity: severity,
				Type:     "filler_words",
			},
			"should_interrupt": false,
		})
	}
}

func (c *interviewConn) answer(msg channel.AnswerMessage) {
	score, feedback := scoreAnswer(msg.Answer)

	s := c.server
	s.mu.Lock()
	sess := s.sessions[c.sessionID]
	if sess == nil {
		s.mu.Unlock()
		return
	}
	sess.Answers = append(sess.Answers, answerRecord{
		Question: msg.Question,
		Answer:   msg.Answer,
		Duration: msg.Duration,
		Score:    score,
		Feedback: feedback,
		At:       s.now().UTC(),
	})
	sess.Index++
	total := len(sess.Questions)
	number := sess.Index + 1
	next, hasNext := sess.current()
	if hasNext && msg.RequestFollowUp {
		next = channel.WireQuestion{
			Question:   "Following up on that: what would you do differently next time?",
			Type:       "follow_up",
			Difficulty: "medium",
		}
		sess.Questions[sess.Index] = next
	}
	s.mu.Unlock()

	_ = c.send(map[string]any{"type": channel.TypeAnswerFeedback, "feedback": feedback, "score": score})
	if hasNext {
		c.sendQuestion(next, number, total)
	} else {
		c.allAnswered()
	}
}

func (c *interviewConn) endSession() {
	s := c.server
	s.mu.Lock()
	sess := s.sessions[c.sessionID]
	if sess == nil {
		s.mu.Unlock()
		return
	}
	minutes := 0.0
	if !sess.StartedAt.IsZero() {
		minutes = round2(s.now().Sub(sess.StartedAt).Minutes())
	}
	feedback := finalFeedback(sess, minutes)
	score, _ := feedback["overall_score"].(float64)
	sess.Status = statusCompleted
	sess.DurationMinutes = &minutes
	sess.OverallScore = &score
	sess.Feedback = feedback
	sess.Strengths, _ = feedback["strengths"].([]string)
	sess.Improvements, _ = feedback["improvements"].([]string)
	s.mu.Unlock()

	c.log.WithField("score", score).Info("session completed")
	if err := c.send(map[string]any{
		"type":       channel.TypeSessionComplete,
		"feedback":   feedback,
		"session_id": c.sessionID,
	}); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.log.WithError(err).Warn("failed to send session feedback")
	}
	c.closeWith(websocket.CloseNormalClosure, "Session completed")
}
