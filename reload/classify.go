package reload

import "path/filepath"

// FileKind identifies which validation/apply path a changed file takes.
// These four match spec.md §4.6's named config categories.
type FileKind string

const (
	KindAgents    FileKind = "agents"
	KindWorkflows FileKind = "workflows"
	KindModels    FileKind = "models"
	KindPolicies  FileKind = "policies"
)

// classifyRule matches a changed file's path to a FileKind. match
// always receives the full (possibly relative) path; exact-name rules
// compare its base name themselves. Rules are tried in registration
// order, and the defaults list the exact names before the pattern,
// mirroring the original manager's exact-name-then-pattern lookup order.
type classifyRule struct {
	kind  FileKind
	match func(path string) bool
}

// defaultRules reproduces the original manager's default callback
// registrations: agents.yaml, workflows.yaml, models.yaml by exact
// filename, and any *.json file inside a "policies" directory.
func defaultRules() []classifyRule {
	return []classifyRule{
		{kind: KindAgents, match: exactName("agents.yaml")},
		{kind: KindWorkflows, match: exactName("workflows.yaml")},
		{kind: KindModels, match: exactName("models.yaml")},
		{kind: KindPolicies, match: inDirWithExt("policies", ".json")},
	}
}

func exactName(name string) func(string) bool {
	return func(path string) bool { return filepath.Base(path) == name }
}

func inDirWithExt(dir, ext string) func(string) bool {
	return func(path string) bool {
		return filepath.Base(filepath.Dir(path)) == dir && filepath.Ext(path) == ext
	}
}

// classify returns the FileKind a changed path matches, in registration
// order, and false if nothing matched.
func (m *Monitor) classify(path string) (FileKind, bool) {
	for _, r := range m.rules {
		if r.match(path) {
			return r.kind, true
		}
	}
	return "", false
}
