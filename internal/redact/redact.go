package redact

import (
	"regexp"
	"strings"
)

// keyPatterns match credential values that agent CLIs occasionally echo
// into their transcripts (prompts embed file contents, and source files
// sometimes contain keys). Values, not variable names.
var keyPatterns = []*regexp.Regexp{
	// Groq keys: gsk_...
	regexp.MustCompile(`gsk_[a-zA-Z0-9]{20,}`),
	// OpenAI keys: sk-... (including sk-proj-...)
	regexp.MustCompile(`sk-[a-zA-Z0-9\-]{20,}`),
	// Anthropic keys: sk-ant-...
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9\-]{20,}`),
	// GitHub tokens
	regexp.MustCompile(`ghp_[a-zA-Z0-9]{36,}`),
	regexp.MustCompile(`github_pat_[a-zA-Z0-9_]{22,}`),
	// AWS access keys
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9\-_.]{20,}`),
}

// envLinePattern matches KEY=VALUE lines for known sensitive env vars,
// as produced by set / export -p.
var envLinePattern = regexp.MustCompile(
	`(?im)^(?:declare -x |export )?` +
		`(GROQ_\w*|OPENAI_\w*|ANTHROPIC_\w*|FIXFORGE_\w*|API_KEY|API_SECRET|AWS_SECRET\w*|GITHUB_TOKEN)` +
		`[= ].*$`,
)

const placeholder = "[REDACTED]"

// Transcript scrubs credential material from a verification or agent
// transcript before it is persisted or logged. Returns the scrubbed
// text and the number of redactions applied.
func Transcript(text string) (string, int) {
	count := 0
	result := text
	for _, re := range keyPatterns {
		if matches := re.FindAllString(result, -1); len(matches) > 0 {
			count += len(matches)
			result = re.ReplaceAllString(result, placeholder)
		}
	}

	if matches := envLinePattern.FindAllString(result, -1); len(matches) > 0 {
		count += len(matches)
		result = envLinePattern.ReplaceAllString(result, placeholder)
	}

	// Collapse runs of redacted lines.
	for strings.Contains(result, placeholder+"\n"+placeholder) {
		result = strings.ReplaceAll(result, placeholder+"\n"+placeholder, placeholder)
	}

	return result, count
}
