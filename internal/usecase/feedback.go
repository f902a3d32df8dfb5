package usecase

import (
	"encoding/json"

	"interviewcoach/internal/domain"
)

// parseFeedback reads the headline fields of a session_complete report and
// keeps the whole object in Raw. Fields of an unexpected type are left
// zero.
func parseFeedback(raw []byte) domain.Feedback {
	var feedback domain.Feedback
	if len(raw) == 0 || string(raw) == "null" {
		return feedback
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		var summary string
		if json.Unmarshal(raw, &summary) == nil {
			feedback.Summary = summary
		}
		return feedback
	}
	feedback.Raw = fields

	if score, ok := fields["overall_score"].(float64); ok {
		feedback.OverallScore = score
	}
	if scores, ok := fields["component_scores"].(map[string]any); ok {
		feedback.ComponentScores = map[string]float64{}
		for name, value := range scores {
			if score, ok := value.(float64); ok {
				feedback.ComponentScores[name] = score
			}
		}
	}
	for _, key := range []string{"detailed_feedback", "summary"} {
		if text, ok := fields[key].(string); ok && text != "" {
			feedback.Summary = text
			break
		}
	}
	feedback.Strengths = stringList(fields["strengths"])
	feedback.Improvements = stringList(fields["improvements"])
	return feedback
}

func stringList(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if text, ok := item.(string); ok {
			out = append(out, text)
		}
	}
	return out
}
