// Package safety screens questions before they reach an agent.
//
// Questions arriving over the API are checked for prompt injection,
// size limits, banned phrases and, optionally, personal data. Benchmark
// questions come from curated banks and are not screened.
package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError reports a rejected question.
type ValidationError struct {
	Reason string
	// Score and Patterns are set for prompt injection rejections.
	Score    int
	Patterns []string
}

func (e *ValidationError) Error() string {
	if e.Score > 0 {
		return fmt.Sprintf("question rejected: %s (score %d)", e.Reason, e.Score)
	}
	return "question rejected: " + e.Reason
}

var injectionPatterns = compileAll([]string{
	`ignore\s+(?:(?:all|any|the)\s+)?(?:(?:previous|prior|above|earlier)\s+)?instructions?`,
	`disregard\s+(?:(?:all|any|the)\s+)?(?:previous|prior|above|earlier|instructions?|rules|all)\b`,
	`forget\s+(everything|all|previous)`,
	`new\s+instructions?:`,
	`system\s*(prompt|message)?:`,
	`you\s+are\s+now`,
	`act\s+as\s+(if|though)`,
	`pretend\s+(you|to)\s+(are|be)`,
	`roleplay\s+as`,
	`^sudo\s+`,
	`(admin|developer|god)\s+mode`,
	`jailbreak`,
	`</?\s*system\s*>`,
	`<\|.*?\|>`,
	`\[INST\]`,
	`\{system\}`,
})

var suspiciousKeywords = map[string]int{
	"ignore":       3,
	"disregard":    3,
	"override":     2,
	"bypass":       3,
	"jailbreak":    5,
	"prompt":       2,
	"injection":    4,
	"system":       2,
	"admin":        2,
	"sudo":         3,
	"privilege":    2,
	"instructions": 2,
}

var (
	wordRe     = regexp.MustCompile(`\w+`)
	specialRe  = regexp.MustCompile(`[<>{}[\]|]`)
	insistRe   = regexp.MustCompile(`(?i)(please|must|you (should|will|must))`)
	piiMatches = []struct {
		re   *regexp.Regexp
		name string
	}{
		{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "a social security number"},
		{regexp.MustCompile(`\b\d{16}\b`), "a card number"},
		{regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`), "an email address"},
	}
)

func compileAll(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile("(?i)" + p)
	}
	return compiled
}

// InjectionScore rates how much text looks like a prompt injection. Each
// matched pattern adds 10, suspicious keywords add their weight and a few
// obfuscation heuristics add small amounts. It returns the matched patterns.
func InjectionScore(text string) (int, []string) {
	lower := strings.ToLower(text)
	score := 0
	var matched []string

	for _, re := range injectionPatterns {
		if re.MatchString(lower) {
			score += 10
			matched = append(matched, re.String()[4:])
		}
	}
	for _, word := range wordRe.FindAllString(lower, -1) {
		score += suspiciousKeywords[word]
	}

	if len(specialRe.FindAllString(text, -1)) > 5 {
		score += 2
	}
	if len(text) > 5000 {
		score++
	}
	if len(insistRe.FindAllString(lower, -1)) > 5 {
		score += 2
	}
	return score, matched
}

// Config configures a Guard.
type Config struct {
	// MaxLength is the longest accepted question in bytes. Zero disables
	// the check.
	MaxLength int
	// InjectionThreshold is the score at which a question is rejected.
	// Zero disables injection screening.
	InjectionThreshold int
	// BannedPhrases are rejected case-insensitively.
	BannedPhrases []string
	// BlockPII rejects questions that look like they carry personal data.
	BlockPII bool
}

// Guard screens questions. A nil Guard accepts everything.
type Guard struct {
	config Config
	banned []string
}

// NewGuard creates a Guard.
func NewGuard(config Config) *Guard {
	banned := make([]string, 0, len(config.BannedPhrases))
	for _, p := range config.BannedPhrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			banned = append(banned, p)
		}
	}
	return &Guard{config: config, banned: banned}
}

// Check returns a *ValidationError when question must not be answered.
func (g *Guard) Check(question string) error {
	if g == nil {
		return nil
	}
	if strings.TrimSpace(question) == "" {
		return &ValidationError{Reason: "empty question"}
	}
	if g.config.MaxLength > 0 && len(question) > g.config.MaxLength {
		return &ValidationError{Reason: fmt.Sprintf("longer than %d bytes", g.config.MaxLength)}
	}

	lower := strings.ToLower(question)
	for _, phrase := range g.banned {
		if strings.Contains(lower, phrase) {
			return &ValidationError{Reason: fmt.Sprintf("contains banned phrase %q", phrase)}
		}
	}
	if g.config.BlockPII {
		for _, pii := range piiMatches {
			if pii.re.MatchString(question) {
				return &ValidationError{Reason: "may contain " + pii.name}
			}
		}
	}
	if g.config.InjectionThreshold > 0 {
		if score, matched := InjectionScore(question); score >= g.config.InjectionThreshold {
			return &ValidationError{Reason: "possible prompt injection", Score: score, Patterns: matched}
		}
	}
	return nil
}
