package credentials

import (
	"fmt"
	"regexp"
)

// Redacted is the literal substituted for sensitive values in log lines.
const Redacted = "[REDACTED]"

// sensitiveKeyExpr matches key names that carry secrets, in CLI flags, env
// assignments, URLs, and structured payloads. Case-insensitivity is applied
// by each pattern.
const sensitiveKeyExpr = `(?:pass(?:word|wd)?|pwd|secret|token|api[_-]?key|apikey|access[_-]?key|private[_-]?key|auth(?:orization)?|credentials?|client[_-]?secret)`

// compiledRedaction holds a pre-compiled redaction pattern with its replacement.
type compiledRedaction struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// redactionPatterns are applied in order. Ordering matters: quoted forms run
// before unquoted forms so quotes around redacted values are preserved.
var redactionPatterns = []*compiledRedaction{
	{
		name: "json_kv",
		regex: regexp.MustCompile(
			fmt.Sprintf(`(?i)("[\w-]*%s[\w-]*"\s*:\s*)"(?:[^"\\]|\\.)*"`, sensitiveKeyExpr)),
		replacement: `$1"` + Redacted + `"`,
	},
	{
		name: "xml_kv",
		regex: regexp.MustCompile(
			fmt.Sprintf(`(?i)(<(?:[\w-]*%s[\w-]*)>)[^<]*(</(?:[\w-]*%s[\w-]*)>)`, sensitiveKeyExpr, sensitiveKeyExpr)),
		replacement: `${1}` + Redacted + `${2}`,
	},
	{
		name: "url_query",
		regex: regexp.MustCompile(
			fmt.Sprintf(`(?i)([?&](?:[\w-]*%s[\w-]*|key)=)[^&\s"']+`, sensitiveKeyExpr)),
		replacement: `$1` + Redacted,
	},
	{
		name:        "connection_string",
		regex:       regexp.MustCompile(`(\w+://[^:/\s@]+):[^@/\s]+@`),
		replacement: `$1:` + Redacted + `@`,
	},
	{
		name: "env_assignment_quoted",
		regex: regexp.MustCompile(
			fmt.Sprintf(`(?i)(^|[;&\s])([A-Za-z_]*%s[A-Za-z_0-9]*=)"[^"]{4,}"`, sensitiveKeyExpr)),
		replacement: `$1$2"` + Redacted + `"`,
	},
	{
		name: "env_assignment",
		regex: regexp.MustCompile(
			fmt.Sprintf(`(?i)(^|[;&\s])([A-Za-z_]*%s[A-Za-z_0-9]*=)[^\s;&"'][^\s;&]{3,}`, sensitiveKeyExpr)),
		replacement: `$1$2` + Redacted,
	},
	{
		name: "cli_flag_double_quoted",
		regex: regexp.MustCompile(
			fmt.Sprintf(`(?i)(--?%s|-p)(\s+|=)"[^"]*"`, sensitiveKeyExpr)),
		replacement: `$1$2"` + Redacted + `"`,
	},
	{
		name: "cli_flag_single_quoted",
		regex: regexp.MustCompile(
			fmt.Sprintf(`(?i)(--?%s|-p)(\s+|=)'[^']*'`, sensitiveKeyExpr)),
		replacement: `$1$2'` + Redacted + `'`,
	},
	{
		name: "cli_flag",
		regex: regexp.MustCompile(
			fmt.Sprintf(`(?i)(--?%s|-p)(\s+|=)[^\s"'][^\s]*`, sensitiveKeyExpr)),
		replacement: `$1$2` + Redacted,
	},
}

// Redact scrubs sensitive values from a log line. Idempotent: redacting an
// already-redacted line changes nothing.
func Redact(line string) string {
	for _, p := range redactionPatterns {
		line = p.regex.ReplaceAllString(line, p.replacement)
	}
	return line
}

// RedactMap scrubs string values whose keys look sensitive, recursing into
// nested maps and slices. Used by CI clients before logging parameters.
func RedactMap(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if sensitiveKeyName.MatchString(k) {
			out[k] = Redacted
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return RedactMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	case string:
		return Redact(val)
	default:
		return v
	}
}

var sensitiveKeyName = regexp.MustCompile(`(?i)^[\w-]*` + sensitiveKeyExpr + `[\w-]*$`)
