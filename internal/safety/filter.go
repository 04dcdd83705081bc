package safety

import "strings"

// FilterResult is the outcome of one of the three filter entry points:
// {safe, cleaned, reason?}.
type FilterResult struct {
	Safe    bool
	Cleaned string
	Reason  string
}

// injectionReplacement is what a viewer message becomes when it trips an
// injection pattern. The placeholder, not the raw attempt, is what reaches
// any prompt downstream.
const injectionReplacement = "[nice try]"

// maxChatLen caps any outbound chat line before it reaches the dispatcher's
// own 200-char backstop, keeping the filter's notion of "clean" consistent
// with what actually gets spoken.
const maxChatLen = 200

// FilterContent scrubs content violations (slurs, TOS, self-harm, doxxing)
// out of model-generated text, replacing each match with [***]. Applied to
// thoughts before they are displayed.
func FilterContent(s *Sanitizer, text string) FilterResult {
	if s == nil {
		s = NewSanitizer()
	}
	cleaned, matched := s.CleanContent(text)
	return FilterResult{Safe: true, Cleaned: cleaned, Reason: strings.Join(matched, ",")}
}

// FilterChatMessage is FilterContent plus the 200-char outbound limit,
// applied to the agent's own in-game chat.
func FilterChatMessage(s *Sanitizer, text string) FilterResult {
	out := FilterContent(s, text)
	out.Cleaned = strings.TrimSpace(out.Cleaned)
	if len(out.Cleaned) > maxChatLen {
		out.Cleaned = out.Cleaned[:maxChatLen]
	}
	return out
}

// FilterViewerMessage applies the injection patterns on top of the content
// scrub for inbound viewer text. A detected
// injection yields {safe: false, cleaned: "[nice try]"}; the cleaned
// placeholder is still what flows into the strategic prompt.
func FilterViewerMessage(s *Sanitizer, text string) FilterResult {
	if s == nil {
		s = NewSanitizer()
	}
	if check := s.Check(text); check.Action == ActionBlock {
		return FilterResult{Safe: false, Cleaned: injectionReplacement, Reason: check.Reason}
	}
	return FilterChatMessage(s, text)
}
