package monitor

import (
	"regexp"
	"strings"
)

// Crash signatures observed in provider harness output. Checked against the
// whole capture because dumps arrive in chunks.
var crashPatterns = []*regexp.Regexp{
	regexp.MustCompile(`RangeError: Maximum call stack size exceeded`),
	regexp.MustCompile(`FATAL ERROR: .*JavaScript heap out of memory`),
	regexp.MustCompile(`FATAL ERROR: .*Allocation failed`),
	regexp.MustCompile(`(?m)^node:internal/`),
	regexp.MustCompile(`Segmentation fault\s+\(core dumped\)`),
	regexp.MustCompile(`(?m)^panic: `),
}

// MatchCrash reports whether the capture carries a crash signature.
func MatchCrash(capture string) bool {
	for _, p := range crashPatterns {
		if p.MatchString(capture) {
			return true
		}
	}
	return false
}

// permissionPatterns match the provider's interactive approval prompts.
var permissionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`Do you want to (proceed|allow|make this edit|run this command)`),
	regexp.MustCompile(`❯ 1\. Yes`),
	regexp.MustCompile(`Allow .* to .*\?`),
	regexp.MustCompile(`\[y/n\]\s*$`),
}

// MatchPermissionPrompt returns the matched prompt line from the tail of
// the capture, or "".
func MatchPermissionPrompt(capture string) string {
	// Only the last screenful matters: an old prompt higher in scrollback
	// was already answered.
	tail := capture
	if lines := strings.Split(capture, "\n"); len(lines) > 15 {
		tail = strings.Join(lines[len(lines)-15:], "\n")
	}
	for _, p := range permissionPatterns {
		if m := p.FindString(tail); m != "" {
			return m
		}
	}
	return ""
}

// completionPhrases are informational end-of-task heuristics for providers
// without a stop hook.
var completionPhrases = []string{
	"Done.",
	"Complete",
	"All tests passing",
	"Task complete",
}

// MatchCompletion returns the first matched completion phrase, or "".
func MatchCompletion(capture string) string {
	for _, phrase := range completionPhrases {
		if strings.Contains(capture, phrase) {
			return phrase
		}
	}
	return ""
}
