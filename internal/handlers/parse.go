package handlers

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Decision is the normalised form of a Strategic/Reactive model reply,
// ready to hand to the Action Dispatcher.
type Decision struct {
	Thought   string
	Action    string
	Params    map[string]any
	Goal      *string
	GoalSteps int
}

// CriticReply is the normalised form of a Critic model reply.
type CriticReply struct {
	Success      bool
	Thought      string
	NextAction   string
	NextParams   map[string]any
	GoalComplete bool
}

// hoistFields are copied into params when present at the top level and
// absent from params itself.
var hoistFields = []string{
	"direction", "item", "block", "blockType", "count", "skill", "task",
	"message", "x", "y", "z",
}

// actionAliases normalises colloquial action names the model tends to use
// in place of the canonical primitive/skill name.
var actionAliases = map[string]string{
	"go to":     "go_to",
	"goto":      "go_to",
	"mine":      "mine_block",
	"chop":      "gather_wood",
	"chop_wood": "gather_wood",
	"move":      "explore",
	"walk":      "explore",
	"travel":    "explore",
	"fight":     "attack",
	"kill":      "attack",
	"run":       "flee",
	"run_away":  "flee",
	"escape":    "flee",
	"talk":      "chat",
	"say":       "chat",
	"speak":     "chat",
	"rest":      "sleep",
	"nap":       "sleep",
	"wait":      "idle",
	"nothing":   "idle",
	"do_nothing": "idle",
}

// mineNamedRE matches mine_<blockname> repaired into mine_block.
var mineNamedRE = regexp.MustCompile(`^mine_(.+)$`)

// buildHouseRE catches any action naming a hand-built shelter.
var buildHouseRE = regexp.MustCompile(`^manually(build|construct)|^build.*(shelter|hut)|^construct.*(shelter|house)`)

// safeIdle is the fallback decision returned when a reply cannot be
// salvaged into valid JSON at all.
func safeIdle(thought string) Decision {
	if thought == "" {
		thought = "Brain buffering..."
	}
	return Decision{Thought: thought, Action: "idle", Params: map[string]any{}}
}

// ParseDecision runs the full shared reply pipeline and
// returns a Decision ready for dispatch. It never fails outright — an
// unsalvageable reply degrades to a safe idle.
func ParseDecision(raw string) Decision {
	m, ok := extractJSONObject(raw)
	if !ok {
		return safeIdle("")
	}
	m = repairShape(m)

	d := Decision{}
	d.Thought, _ = m["thought"].(string)

	action, _ := m["action"].(string)
	action = normalizeAction(action)
	if action == "" {
		return safeIdle(d.Thought)
	}

	params, _ := m["params"].(map[string]any)
	if params == nil {
		params = map[string]any{}
	}
	hoistInto(params, m)

	if sub := mineNamedRE.FindStringSubmatch(action); sub != nil && action != "mine_block" {
		action = "mine_block"
		if _, has := params["blockType"]; !has {
			params["blockType"] = sub[1]
		}
	}
	if buildHouseRE.MatchString(action) {
		action = "build_house"
	}

	d.Action = action
	d.Params = params

	if g, ok := m["goal"].(string); ok && g != "" {
		d.Goal = &g
	}
	if steps, ok := m["goal_steps"]; ok {
		d.GoalSteps = toInt(steps)
	}
	return d
}

// ParseCritic parses a critic reply into its own shape. next_action, when present, goes through the same action
// normalisation and repair pipeline as a primary decision.
func ParseCritic(raw string) CriticReply {
	m, ok := extractJSONObject(raw)
	if !ok {
		return CriticReply{Success: false, Thought: "could not parse critic reply"}
	}

	r := CriticReply{}
	r.Success, _ = m["success"].(bool)
	r.Thought, _ = m["thought"].(string)
	r.GoalComplete, _ = m["goal_complete"].(bool)

	next, _ := m["next_action"].(string)
	next = normalizeAction(next)
	if next != "" {
		params, _ := m["next_params"].(map[string]any)
		if params == nil {
			params = map[string]any{}
		}
		if sub := mineNamedRE.FindStringSubmatch(next); sub != nil && next != "mine_block" {
			next = "mine_block"
			if _, has := params["blockType"]; !has {
				params["blockType"] = sub[1]
			}
		}
		if buildHouseRE.MatchString(next) {
			next = "build_house"
		}
		r.NextAction = next
		r.NextParams = params
	}
	return r
}

func normalizeAction(action string) string {
	action = strings.ToLower(strings.TrimSpace(action))
	if alias, ok := actionAliases[action]; ok {
		return alias
	}
	return action
}

func hoistInto(params map[string]any, m map[string]any) {
	for _, f := range hoistFields {
		if _, has := params[f]; has {
			continue
		}
		if v, ok := m[f]; ok {
			params[f] = v
		}
	}
	if coords, ok := m["coordinates"].(map[string]any); ok {
		for _, f := range []string{"x", "y", "z"} {
			if _, has := params[f]; has {
				continue
			}
			if v, ok := coords[f]; ok {
				params[f] = v
			}
		}
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}

// repairShape handles the invoke_skill/generate_skill/neural_combat
// shorthand: a top-level key named after the action itself,
// rather than an {"action": ..., "params": ...} envelope.
func repairShape(m map[string]any) map[string]any {
	if _, ok := m["action"]; ok {
		return m
	}
	for _, key := range []string{"invoke_skill", "generate_skill", "neural_combat"} {
		v, ok := m[key]
		if !ok {
			continue
		}
		out := map[string]any{"action": key}
		if s, ok := v.(string); ok && s != "" && key != "neural_combat" {
			out["params"] = map[string]any{"skill": s}
		}
		for k, vv := range m {
			if k != key {
				out[k] = vv
			}
		}
		return out
	}
	return m
}

// extractJSONObject runs steps 1-3 of the shared pipeline: strip fences and
// think-blocks, locate the first balanced {...}, repair simple truncation.
func extractJSONObject(raw string) (map[string]any, bool) {
	text := stripWrappers(raw)

	candidate := ""
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		if b := extractBalanced(text[i:]); b != "" {
			candidate = b
			break
		}
	}
	if candidate == "" {
		// Unmatched braces: try a truncation repair against the first '{'.
		if idx := strings.IndexByte(text, '{'); idx >= 0 {
			candidate = repairTruncated(text[idx:])
		}
	}
	if candidate == "" {
		return nil, false
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(candidate), &m); err != nil {
		repaired := repairTruncated(candidate)
		if repaired == "" || json.Unmarshal([]byte(repaired), &m) != nil {
			return nil, false
		}
	}
	return m, true
}

var thinkBlockRE = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripWrappers removes <think>...</think> blocks and markdown code fences.
func stripWrappers(text string) string {
	text = thinkBlockRE.ReplaceAllString(text, "")
	trimmed := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(trimmed, "```json"):
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	case strings.HasPrefix(trimmed, "```"):
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	}
	return strings.TrimSpace(trimmed)
}

// extractBalanced returns the first balanced {...} substring starting at
// s[0], honoring string quotes and escapes, or "" if s never balances.
func extractBalanced(s string) string {
	if len(s) == 0 || s[0] != '{' {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

// repairTruncated heuristically recovers a valid object from a reply that
// was cut off mid-field: strip the last partial field back to the previous
// complete ",\"key\":value" boundary and append closing braces until the
// result parses.
func repairTruncated(s string) string {
	s = strings.TrimSpace(s)
	positions := topLevelCommaPositions(s)
	for i := len(positions) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(s[:positions[i]])
		closed := closeBraces(candidate)
		var m map[string]any
		if json.Unmarshal([]byte(closed), &m) == nil {
			return closed
		}
	}
	return ""
}

// topLevelCommaPositions returns the index of every comma that separates
// two fields directly inside s's outermost object (depth 1), ignoring
// commas nested deeper or inside string values.
func topLevelCommaPositions(s string) []int {
	var positions []int
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		case ',':
			if depth == 1 {
				positions = append(positions, i)
			}
		}
	}
	return positions
}

// closeBraces appends enough '}' (and a closing quote if left inside an
// unterminated string) to balance s's open '{'.
func closeBraces(s string) string {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		if ch == '{' {
			depth++
		} else if ch == '}' {
			depth--
		}
	}
	out := s
	if inString {
		out += `"`
	}
	out = strings.TrimRight(out, ", \t\n")
	for ; depth > 0; depth-- {
		out += "}"
	}
	return out
}
