package agent

import (
	"encoding/json"
	"strings"
)

// completionCheckSchema forces the structured reply used to decide whether
// the task is done.
const completionCheckSchema = `{
	"type": "object",
	"properties": {
		"taskComplete": {
			"type": "boolean",
			"description": "Whether the task has been fully completed"
		},
		"finalSummary": {
			"type": "string",
			"description": "Final comprehensive summary of findings and results"
		},
		"reasoning": {
			"type": "string",
			"description": "Why the task is or is not complete"
		}
	},
	"required": ["taskComplete", "finalSummary", "reasoning"]
}`

type completionReply struct {
	TaskComplete *bool   `json:"taskComplete"`
	FinalSummary *string `json:"finalSummary"`
	Reasoning    string  `json:"reasoning"`
}

// interpretReply attempts to decode a reply as a completion-check object.
// On success it surfaces the final summary as the turn's content and the
// completion flag; any other reply passes through unchanged and counts as
// not complete. Parse failures are non-fatal by design.
func interpretReply(reply string) (content string, complete bool) {
	trimmed := strings.TrimSpace(reply)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return reply, false
	}

	var parsed completionReply
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return reply, false
	}
	if parsed.TaskComplete == nil && parsed.FinalSummary == nil {
		return reply, false
	}

	content = reply
	if parsed.FinalSummary != nil && *parsed.FinalSummary != "" {
		content = *parsed.FinalSummary
	}
	return content, parsed.TaskComplete != nil && *parsed.TaskComplete
}

// completionThreshold is the divisibility gate for requesting a completion
// check: generous early, tightening as the loop runs long.
func completionThreshold(iteration int) int {
	switch {
	case iteration < 3:
		return 1000
	case iteration < 10:
		return 10
	case iteration < 20:
		return 5
	case iteration < 30:
		return 3
	case iteration < 50:
		return 2
	default:
		return 1
	}
}
