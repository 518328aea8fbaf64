package security

import (
	"regexp"
)

type SecretMatch struct {
	Type     string
	Start    int
	End      int
	Redacted string
}

type SecretScanner struct {
	patterns []*secretPattern
}

type secretPattern struct {
	name       string
	regex      *regexp.Regexp
	redactWith string
}

// JWT first, the bearer and generic patterns would otherwise eat dashboard tokens with a
// less specific label
var defaultSecretPatterns = []struct {
	name       string
	pattern    string
	redactWith string
}{
	{"JWT Token", `eyJ[a-zA-Z0-9\-_]+\.eyJ[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+`, "eyJ****"},
	{"Bearer Token", `(?i)bearer\s+[a-zA-Z0-9\-_.~+/]{8,}=*`, "Bearer ****"},
	{"Telegram Bot Token", `[0-9]{8,10}:[a-zA-Z0-9_-]{35}`, "****:****"},
	{"Discord Token", `[MN][a-zA-Z\d]{23}\.[\w-]{6}\.[\w-]{27}`, "DISCORD_TOKEN****"},
	{"Private Key", `-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`, "PRIVATE_KEY****"},
	{"Generic API Key", `(?i)(api[_-]?key|apikey|access[_-]?key)['\"]?\s*[:=]\s*['\"]?[0-9a-zA-Z\-_]{20,}['\"]?`, "API_KEY****"},
	{"Generic Secret", `(?i)(client[_-]?secret|secret|password|passwd|token)['\"]?\s*[:=]\s*['\"]?[^\s'\",}]{8,}['\"]?`, "SECRET****"},
	{"Database URL", `(?i)(postgres|postgresql|mysql|mongodb|redis)://[^\s'\"]+:[^\s'\"]+@[^\s'\"]+`, "DB_URL****"},
}

func NewSecretScanner() *SecretScanner {
	scanner := &SecretScanner{
		patterns: make([]*secretPattern, 0, len(defaultSecretPatterns)),
	}

	for _, p := range defaultSecretPatterns {
		scanner.patterns = append(scanner.patterns, &secretPattern{
			name:       p.name,
			regex:      regexp.MustCompile(p.pattern),
			redactWith: p.redactWith,
		})
	}

	return scanner
}

func (s *SecretScanner) Scan(input string) []SecretMatch {
	var matches []SecretMatch

	for _, pattern := range s.patterns {
		for _, loc := range pattern.regex.FindAllStringIndex(input, -1) {
			matches = append(matches, SecretMatch{
				Type:     pattern.name,
				Start:    loc[0],
				End:      loc[1],
				Redacted: pattern.redactWith,
			})
		}
	}

	return matches
}

func (s *SecretScanner) HasSecrets(input string) bool {
	for _, pattern := range s.patterns {
		if pattern.regex.MatchString(input) {
			return true
		}
	}
	return false
}

// Redact replaces every match, patterns applied in order
func (s *SecretScanner) Redact(input string) string {
	result := input
	for _, pattern := range s.patterns {
		result = pattern.regex.ReplaceAllString(result, pattern.redactWith)
	}
	return result
}

var defaultScanner = NewSecretScanner()

func HasSecrets(input string) bool {
	return defaultScanner.HasSecrets(input)
}

func RedactSecrets(input string) string {
	return defaultScanner.Redact(input)
}

// SecretKind names the leftmost credential found in input, or returns ""
func SecretKind(input string) string {
	matches := defaultScanner.Scan(input)
	if len(matches) == 0 {
		return ""
	}
	first := matches[0]
	for _, m := range matches[1:] {
		if m.Start < first.Start {
			first = m
		}
	}
	return first.Type
}
