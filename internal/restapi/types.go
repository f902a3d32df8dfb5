package restapi

import (
	"time"

	"interviewcoach/internal/domain"
)

// LoginResponse is the body of /auth/login and /auth/register.
type LoginResponse struct {
	AccessToken string             `json:"access_token"`
	TokenType   string             `json:"token_type"`
	User        domain.UserProfile `json:"user"`
}

// Registration is the /auth/register request body.
type Registration struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// NewSession describes an interview session to create. It is sent as the
// JSON "session" form field.
type NewSession struct {
	JobDescription string `json:"job_description"`
	CompanyName    string `json:"company_name,omitempty"`
	Position       string `json:"position"`
	ResumeText     string `json:"resume_text,omitempty"`
}

// Session is the summary view of one interview session.
type Session struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	JobDescription  string    `json:"job_description"`
	CompanyName     string    `json:"company_name,omitempty"`
	Position        string    `json:"position"`
	SessionDate     time.Time `json:"session_date"`
	Status          string    `json:"status"`
	DurationMinutes *float64  `json:"duration_minutes"`
	OverallScore    *float64  `json:"overall_score"`
}

// SessionDetail adds the recorded answers and feedback.
type SessionDetail struct {
	Session
	Responses    []map[string]any `json:"responses"`
	Feedback     map[string]any   `json:"feedback"`
	Improvements []string         `json:"improvements"`
	Strengths    []string         `json:"strengths"`
}

// SessionRef is one side of a comparison.
type SessionRef struct {
	ID              string    `json:"id"`
	Date            time.Time `json:"date"`
	Position        string    `json:"position"`
	OverallScore    float64   `json:"overall_score"`
	DurationMinutes float64   `json:"duration_minutes"`
}

type MetricChange struct {
	Metric     string  `json:"metric"`
	Change     float64 `json:"change"`
	Percentage float64 `json:"percentage"`
}

type MetricComparison struct {
	Session1Value float64 `json:"session1_value"`
	Session2Value float64 `json:"session2_value"`
	Change        float64 `json:"change"`
	PercentChange float64 `json:"percent_change"`
}

// Comparison is the /sessions/compare result.
type Comparison struct {
	Session1           SessionRef                  `json:"session1"`
	Session2           SessionRef                  `json:"session2"`
	Improvements       []MetricChange              `json:"improvements"`
	Regressions        []MetricChange              `json:"regressions"`
	MetricsComparison  map[string]MetricComparison `json:"metrics_comparison"`
	OverallImprovement struct {
		ScoreChange float64 `json:"score_change"`
		Improved    bool    `json:"improved"`
	} `json:"overall_improvement"`
}

type TrendPoint struct {
	SessionNumber int       `json:"session_number"`
	Date          time.Time `json:"date"`
	Score         float64   `json:"score"`
	Position      string    `json:"position"`
}

// Progress is the /sessions/statistics/progress result.
type Progress struct {
	TotalSessions            int          `json:"total_sessions"`
	TotalPracticeTimeMinutes float64      `json:"total_practice_time_minutes"`
	AverageScore             float64      `json:"average_score"`
	HighestScore             float64      `json:"highest_score"`
	LowestScore              float64      `json:"lowest_score"`
	ImprovementRate          float64      `json:"improvement_rate"`
	ScoreTrend               []TrendPoint `json:"score_trend"`
	Message                  string       `json:"message,omitempty"`
}

// Summary is the /analytics/user/summary result.
type Summary struct {
	TotalSessions     int     `json:"total_sessions"`
	AverageScore      float64 `json:"average_score"`
	HighestScore      float64 `json:"highest_score"`
	LatestScore       float64 `json:"latest_score"`
	ImprovementTrend  float64 `json:"improvement_trend"`
	TotalPracticeTime float64 `json:"total_practice_time"`
	Message           string  `json:"message,omitempty"`
}

type WeakArea struct {
	Area             string  `json:"area"`
	AverageScore     float64 `json:"average_score"`
	SessionsAnalyzed int     `json:"sessions_analyzed"`
	Severity         string  `json:"severity"`
	Suggestion       string  `json:"suggestion"`
}

// WeakAreas is the /analytics/user/weak-areas result.
type WeakAreas struct {
	WeakAreas            []WeakArea `json:"weak_areas"`
	TotalAreasIdentified int        `json:"total_areas_identified"`
	SessionsAnalyzed     int        `json:"sessions_analyzed"`
	Message              string     `json:"message,omitempty"`
}

// Analytics is a free-form analytics document; its metric set depends on
// the backend version.
type Analytics map[string]any
