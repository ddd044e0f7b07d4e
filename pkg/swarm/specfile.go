package swarm

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// SpecTask is one work item enumerated by a swarm spec document.
type SpecTask struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title,omitempty"`
}

// checkboxRe matches markdown task lines like "- [ ] T-3: wire the parser".
var checkboxRe = regexp.MustCompile(`^\s*[-*]\s*\[[ xX]\]\s+([A-Za-z0-9_.-]+):?\s*(.*)$`)

// Tasks lists the work items the spec document at path enumerates.
func (s *Store) Tasks(path string) ([]SpecTask, error) {
	return ParseSpecTasks(path)
}

// ParseSpecTasks extracts the task list from a spec document. A YAML
// frontmatter block with a tasks list is preferred; otherwise markdown
// checkboxes are scanned, so hand-written specs keep working.
func ParseSpecTasks(path string) ([]SpecTask, error) {
	data, err := os.ReadFile(path) //nolint:gosec // spec path comes from the caller's claim request
	if err != nil {
		return nil, fmt.Errorf("read spec %s: %w", path, err)
	}
	text := string(data)

	if tasks, ok := parseFrontmatter(text); ok {
		return tasks, nil
	}
	return parseCheckboxes(text), nil
}

// parseFrontmatter reads a leading "---" YAML block carrying a tasks list.
func parseFrontmatter(text string) ([]SpecTask, bool) {
	if !strings.HasPrefix(text, "---\n") {
		return nil, false
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, false
	}
	var fm struct {
		Tasks []SpecTask `yaml:"tasks"`
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return nil, false
	}
	if len(fm.Tasks) == 0 {
		return nil, false
	}
	return fm.Tasks, true
}

// parseCheckboxes collects task ids from markdown checkbox lines.
func parseCheckboxes(text string) []SpecTask {
	var tasks []SpecTask
	for _, line := range strings.Split(text, "\n") {
		m := checkboxRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		tasks = append(tasks, SpecTask{ID: m[1], Title: strings.TrimSpace(m[2])})
	}
	return tasks
}
