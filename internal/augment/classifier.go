package augment

import (
	"regexp"
	"sort"
	"strings"
)

// Classification carries the detected prompt attributes. Empty fields mean
// the heuristics found nothing; classification never fails.
type Classification struct {
	Language string
	TaskType string
}

var fencePattern = regexp.MustCompile("```([a-zA-Z][a-zA-Z0-9+#]*)")

// Per-language signal patterns, checked against the prompt body when no
// fence tag names the language outright.
var languagePatterns = map[string][]*regexp.Regexp{
	"python": {
		regexp.MustCompile(`(?m)^\s*def\s+\w+\s*\([^)]*\)\s*:`),
		regexp.MustCompile(`(?m)^\s*(?:from\s+[\w.]+\s+)?import\s+[\w.]+`),
		regexp.MustCompile(`(?m)^\s*class\s+\w+\s*(?:\([^)]*\))?\s*:`),
	},
	"go": {
		regexp.MustCompile(`(?m)^\s*func\s+(?:\(\w+ \*?\w+\) )?\w+\s*\(`),
		regexp.MustCompile(`(?m)^\s*package\s+\w+$`),
		regexp.MustCompile(`:=`),
	},
	"javascript": {
		regexp.MustCompile(`(?m)^\s*(?:const|let)\s+\w+\s*=\s*(?:async\s*)?\([^)]*\)\s*=>`),
		regexp.MustCompile(`(?m)^\s*function\s+\w+\s*\(`),
		regexp.MustCompile(`(?m)^\s*(?:import\s+.*?\s+from|const\s+.*?=\s*require)\s*`),
	},
	"typescript": {
		regexp.MustCompile(`(?m)^\s*interface\s+\w+\s*(?:extends\s+\w+\s*)?\{`),
		regexp.MustCompile(`(?m)^\s*type\s+\w+\s*=`),
		regexp.MustCompile(`:\s*(?:string|number|boolean)\b`),
	},
	"rust": {
		regexp.MustCompile(`(?m)^\s*(?:pub\s+)?(?:async\s+)?fn\s+\w+`),
		regexp.MustCompile(`(?m)^\s*use\s+[\w:]+;`),
		regexp.MustCompile(`let\s+mut\s+`),
	},
}

// fenceAliases maps fence tags to canonical language names.
var fenceAliases = map[string]string{
	"py":     "python",
	"js":     "javascript",
	"ts":     "typescript",
	"rs":     "rust",
	"golang": "go",
}

// Ordered so more specific task phrasings win over generic ones.
var taskKeywords = []struct {
	task     string
	keywords []string
}{
	{"debugging", []string{"fix", "bug", "error", "traceback", "doesn't work", "not working", "broken"}},
	{"testing", []string{"unit test", "test case", "write a test", "write tests", "add tests"}},
	{"refactoring", []string{"refactor", "clean up", "simplify", "restructure"}},
	{"explanation", []string{"explain", "what does", "what is", "how does", "why does"}},
	{"generation", []string{"write", "implement", "create", "build", "generate", "add a"}},
}

// Languages lists every language the classifier can detect, sorted.
func Languages() []string {
	out := make([]string, 0, len(languagePatterns))
	for lang := range languagePatterns {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// SupportedLanguage reports whether the classifier has patterns for name.
func SupportedLanguage(name string) bool {
	_, ok := languagePatterns[name]
	return ok
}

// Classify detects the programming language and task type of a prompt using
// cheap heuristics: fenced code block tags first, then per-language syntax
// patterns, then task keyword matching.
func Classify(prompt string) Classification {
	var c Classification

	if m := fencePattern.FindStringSubmatch(prompt); m != nil {
		tag := strings.ToLower(m[1])
		if canonical, ok := fenceAliases[tag]; ok {
			c.Language = canonical
		} else {
			c.Language = tag
		}
	}

	if c.Language == "" {
		for _, lang := range []string{"python", "go", "typescript", "javascript", "rust"} {
			for _, pat := range languagePatterns[lang] {
				if pat.MatchString(prompt) {
					c.Language = lang
					break
				}
			}
			if c.Language != "" {
				break
			}
		}
	}

	lower := strings.ToLower(prompt)
	for _, tk := range taskKeywords {
		for _, kw := range tk.keywords {
			if strings.Contains(lower, kw) {
				c.TaskType = tk.task
				break
			}
		}
		if c.TaskType != "" {
			break
		}
	}

	return c
}

// ContainsCode reports whether the text carries a fenced code block; it
// decides which collection an experience lands in.
func ContainsCode(text string) bool {
	return strings.Contains(text, "```")
}
