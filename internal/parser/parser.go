// Package parser reads the YAML frontmatter of note files.
package parser

import (
	"bytes"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CompletedKey is the frontmatter key holding a note's done flag.
const CompletedKey = "completed?"

const delim = "---"

// Result holds the output of parsing a note.
type Result struct {
	Frontmatter map[string]any
	Body        string
	Title       string
	// Completed is nil when the note carries no completed? key.
	Completed *bool
}

// Parse splits frontmatter from body and derives the title and done flag.
// Content without valid frontmatter is returned as body only.
func Parse(data []byte) *Result {
	fm, body := splitFrontmatter(data)
	return &Result{
		Frontmatter: fm,
		Body:        body,
		Title:       deriveTitle(fm, body),
		Completed:   completed(fm),
	}
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]any, string) {
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, string(data)
	}
	if fm == nil {
		fm = map[string]any{}
	}
	return fm, body
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]any, body string) string {
	if s, ok := fm["title"].(string); ok && s != "" {
		return s
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

func completed(fm map[string]any) *bool {
	raw, ok := fm[CompletedKey]
	if !ok {
		return nil
	}
	var v bool
	switch t := raw.(type) {
	case bool:
		v = t
	case string:
		v = strings.EqualFold(strings.TrimSpace(t), "yes")
	}
	return &v
}

// ToggleCompleted flips the completed? flag of a note, adding the key (and a
// frontmatter block when missing) set to "yes". An "updated:" line is
// refreshed to now.
func ToggleCompleted(content string, now time.Time) string {
	stamp := now.UTC().Format("2006-01-02 15:04:05Z")
	lines := strings.Split(content, "\n")

	end := frontmatterEnd(lines)
	if end < 0 {
		header := []string{delim, CompletedKey + ": yes", "updated: " + stamp, delim}
		return strings.Join(append(header, lines...), "\n")
	}

	fm := make([]string, 0, end)
	found := false
	insertAt := -1
	for _, line := range lines[1:end] {
		key, value, _ := strings.Cut(strings.TrimSpace(line), ":")
		switch strings.TrimSpace(key) {
		case CompletedKey:
			found = true
			next := "yes"
			if strings.EqualFold(strings.TrimSpace(value), "yes") || strings.EqualFold(strings.TrimSpace(value), "true") {
				next = "no"
			}
			line = CompletedKey + ": " + next
		case "updated":
			line = "updated: " + stamp
		case "title":
			insertAt = len(fm) + 1
		}
		fm = append(fm, line)
	}
	if !found {
		if insertAt < 0 {
			insertAt = len(fm)
		}
		fm = append(fm[:insertAt], append([]string{CompletedKey + ": yes"}, fm[insertAt:]...)...)
	}

	out := append([]string{delim}, fm...)
	out = append(out, delim)
	return strings.Join(append(out, lines[end+1:]...), "\n")
}

// frontmatterEnd returns the index of the closing delimiter line, or -1.
func frontmatterEnd(lines []string) int {
	if len(lines) < 2 || strings.TrimSpace(lines[0]) != delim {
		return -1
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == delim {
			return i
		}
	}
	return -1
}
