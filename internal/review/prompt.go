package review

import (
	"fmt"
	"path/filepath"
	"strings"
)

// BuildPrompt generates the review prompt for one unit of source code.
// Non-blank rules are inserted verbatim as a high-priority section.
func BuildPrompt(code, rules, language string) string {
	var b strings.Builder

	b.WriteString("You are 'CodeGuardian', an elite software engineering assistant.\n")
	b.WriteString("Return the response ONLY in Markdown format.\n")
	b.WriteString("Analyze the code on the following dimensions:\n\n")
	b.WriteString("* **Bugs & Security**\n")
	b.WriteString("* **Performance & Architecture**\n")
	b.WriteString("* **Standards & Clean Code**\n")
	b.WriteString("* **Documentation Suggestions**\n\n")

	b.WriteString("For EACH issue found, provide:\n\n")
	b.WriteString("* **[Issue]:** Description.\n")
	b.WriteString("* **[Explanation]:** Why it's a problem.\n")
	b.WriteString("* **[Remediation Effort]:** Low / Medium / High.\n")
	b.WriteString("* **[Suggested Fix (diff)]:** (if possible)\n")

	if strings.TrimSpace(rules) != "" {
		b.WriteString("\n---\n")
		b.WriteString("ADDITIONAL CUSTOM RULES:\n")
		b.WriteString("The following rules are critical for our team.\n")
		b.WriteString("Please enforce them with high priority:\n")
		b.WriteString(rules)
		if !strings.HasSuffix(rules, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("---\n")
	}

	b.WriteString("\nBegin analysis on the following code snippet:\n")
	b.WriteString("---\n")
	fmt.Fprintf(&b, "```%s\n", language)
	b.WriteString(code)
	if !strings.HasSuffix(code, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n")
	b.WriteString("---\n")

	return b.String()
}

var fenceLanguages = map[string]string{
	".py":   "python",
	".go":   "go",
	".js":   "javascript",
	".jsx":  "jsx",
	".ts":   "typescript",
	".tsx":  "tsx",
	".java": "java",
	".rb":   "ruby",
	".rs":   "rust",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cs":   "csharp",
	".php":  "php",
	".sh":   "bash",
	".sql":  "sql",
}

// LanguageFor returns the Markdown fence tag for a file path, or "" when unknown.
func LanguageFor(path string) string {
	return fenceLanguages[strings.ToLower(filepath.Ext(path))]
}
