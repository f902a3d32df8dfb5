package mockserver

import (
	"fmt"
	"math"
	"strings"

	"interviewcoach/internal/channel"
)

// DefaultQuestions is the question set served when none is configured.
var DefaultQuestions = []channel.WireQuestion{
	{Question: "Tell me about yourself and what drew you to this role.", Type: "behavioral", Difficulty: "easy"},
	{Question: "Describe a project you led from start to finish. What was your part in it?", Type: "behavioral", Difficulty: "medium"},
	{Question: "How would you design a service that must stay available during a regional outage?", Type: "technical", Difficulty: "hard"},
	{Question: "Tell me about a time you disagreed with a teammate. How did you resolve it?", Type: "communication", Difficulty: "medium"},
	{Question: "What would you want to accomplish in your first ninety days here?", Type: "behavioral", Difficulty: "easy"},
}

var fillerWords = map[string]bool{
	"um": true, "uh": true, "erm": true, "hmm": true, "like": true, "basically": true, "actually": true,
}

// countFillers counts filler words in a transcript.
func countFillers(text string) int {
	n := 0
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if fillerWords[strings.Trim(word, ".,!?;:")] {
			n++
		}
	}
	return n
}

// scoreAnswer grades an answer by length and filler density.
func scoreAnswer(answer string) (float64, string) {
	words := strings.Fields(answer)
	if len(words) == 0 || strings.EqualFold(strings.TrimSpace(answer), "Skipped") {
		return 0, "This question was skipped."
	}

	score := 40 + math.Min(float64(len(words)), 120)/120*50
	fillers := countFillers(answer)
	score -= math.Min(float64(fillers)*3, 20)
	score = math.Round(math.Max(0, math.Min(100, score))*10) / 10

	switch {
	case len(words) < 15:
		return score, "Your answer was brief. Add a concrete example and the outcome."
	case fillers > 3:
		return score, fmt.Sprintf("Good content, but %d filler words diluted it. Pause instead.", fillers)
	default:
		return score, "Clear, structured answer with relevant detail."
	}
}

// finalFeedback builds the session_complete feedback object.
func finalFeedback(sess *session, minutes float64) map[string]any {
	total := 0.0
	answered := 0
	for _, a := range sess.Answers {
		total += a.Score
		if a.Score > 0 {
			answered++
		}
	}
	overall := 0.0
	if len(sess.Answers) > 0 {
		overall = math.Round(total/float64(len(sess.Answers))*10) / 10
	}

	fluency := math.Max(0, 100-float64(sess.FillerWords)*4)
	presence := 50.0
	if sess.FramesSeen > 0 {
		presence = 80
	}

	strengths := []string{}
	improvements := []string{}
	if overall >= 70 {
		strengths = append(strengths, "Answers were detailed and well structured")
	} else {
		improvements = append(improvements, "Use the STAR format to give fuller answers")
	}
	if sess.FillerWords <= 3 {
		strengths = append(strengths, "Few filler words")
	} else {
		improvements = append(improvements, "Reduce filler words by pausing between thoughts")
	}
	if answered < len(sess.Answers) {
		improvements = append(improvements, "Attempt every question, even briefly")
	}

	return map[string]any{
		"overall_score": overall,
		"component_scores": map[string]any{
			"content":  overall,
			"fluency":  fluency,
			"presence": presence,
		},
		"detailed_feedback": fmt.Sprintf("You answered %d of %d questions in %.1f minutes.",
			answered, len(sess.Questions), minutes),
		"strengths":    strengths,
		"improvements": improvements,
		"detailed_metrics": map[string]any{
			"filler_words":  sess.FillerWords,
			"frames":        sess.FramesSeen,
			"interventions": sess.Interventions,
		},
	}
}
