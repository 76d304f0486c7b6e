package reasoner

import (
	"fmt"
	"strings"

	"github.com/vango-go/voiceboard/pkg/core/sketch"
)

// Role is the author of one prompt turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message after the system instruction.
type Turn struct {
	Role    Role
	Content string
}

// Prompt is everything a Generator needs for one call.
type Prompt struct {
	System string
	Turns  []Turn
}

// Request is the input to one reasoning pass.
type Request struct {
	Transcript   string
	GraphSummary string
	// History holds earlier commands, oldest first. Only the tail is shown.
	History []string
}

// HistoryShown is how many earlier commands the prompt includes.
const HistoryShown = 5

// SystemPrompt is the fixed instruction sent with every call.
func SystemPrompt() string {
	var b strings.Builder
	b.WriteString(`You are an intelligent whiteboard assistant that turns spoken descriptions into diagram edits.
Convert the user's command into a JSON object of the form {"actions": [...]} describing changes to the graph.

## ACTIONS
`)
	fmt.Fprintf(&b, "Each action is an object with an \"action\" field, one of: %s.\n", sketch.JoinVocab(sketch.Kinds))
	b.WriteString(`- create_node: id, label, type required; optional description, color, parent_id, position, relative_to, opacity.
- update_node: id required; any other node field to change.
- delete_node: id required. Removes the node and its edges.
- create_edge: id, source_id, target_id required; optional bidirectional.
- delete_edge: id required; source_id and target_id may identify the edge instead.

## VOCABULARY
`)
	fmt.Fprintf(&b, "Node types: %s.\n", sketch.JoinVocab(sketch.NodeTypes))
	fmt.Fprintf(&b, "Colors: %s.\n", sketch.JoinVocab(sketch.Colors))
	fmt.Fprintf(&b, "Positions (for text and notes, with relative_to): %s.\n", sketch.JoinVocab(sketch.Positions))
	b.WriteString(`
## RULES
1. Use snake_case ids made of letters, digits, "_" or "-", at most 50 characters.
2. Keep labels short (2-4 words, at most 100 characters). Descriptions at most 200 characters.
3. Prefer semantic types (database, server, client) over generic shapes.
4. Edges may only reference nodes that already exist in the graph or are created earlier in the same list.
5. Use parent_id with a frame node to group nodes.
6. If the command is ambiguous or asks for nothing, return {"actions": []}.
7. Respond with the JSON object only. No prose, no markdown.
`)
	return b.String()
}

// UserPrompt renders the graph, recent history and command for one request.
func UserPrompt(req Request) string {
	return fmt.Sprintf(`## CURRENT GRAPH STATE
%s

## CONVERSATION HISTORY
%s

## USER COMMAND
%q

## TASK
Analyze the user command and return the appropriate actions to modify the graph.
Return ONLY valid actions. Do not create edges to non-existent nodes.`,
		summaryOrEmpty(req.GraphSummary), HistorySummary(req.History), req.Transcript)
}

// HistorySummary renders the last HistoryShown commands.
func HistorySummary(history []string) string {
	if len(history) == 0 {
		return "No previous commands."
	}
	if len(history) > HistoryShown {
		history = history[len(history)-HistoryShown:]
	}
	var b strings.Builder
	b.WriteString("Recent commands:")
	for _, h := range history {
		b.WriteString("\n- ")
		b.WriteString(h)
	}
	return b.String()
}

// CorrectivePrompt asks the model to fix its previous output. failure is the
// parse or validation error for that output.
func CorrectivePrompt(failure error) string {
	return fmt.Sprintf(`Your previous response was rejected:
%s

Return a corrected JSON object {"actions": [...]} that fixes every problem listed above.
Use only the allowed action kinds, node types, colors and positions. Respond with JSON only.`, failure)
}

func summaryOrEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Empty graph - no nodes yet."
	}
	return s
}
