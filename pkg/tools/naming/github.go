package naming

import "strings"

// TargetGitHubCopilot selects the GitHub Copilot naming scheme when
// resolving enablement lists.
const TargetGitHubCopilot = "github-copilot"

// githubToolAliases maps GitHub Copilot tool names to local names.
var githubToolAliases = map[string]string{
	"shell":        "runCommands",
	"bash":         "runCommands",
	"powershell":   "runCommands",
	"custom-agent": "runSubagent",
	"web":          "fetch",
	"todo":         "todos",
}

// githubPrefixRewrites maps GitHub Copilot MCP server prefixes to the
// qualified prefixes of the corresponding local tool sets.
var githubPrefixRewrites = []struct {
	from, to string
}{
	{"github/", "github/github-mcp-server/"},
	{"playwright/", "microsoft/playwright-mcp/"},
}

// usesGitHubAliases reports whether target accepts the GitHub Copilot
// names. An unset target accepts them too.
func usesGitHubAliases(target string) bool {
	return target == "" || target == TargetGitHubCopilot
}

// githubAlias returns the local spelling of a GitHub Copilot name.
func githubAlias(name string) (string, bool) {
	if alias, ok := githubToolAliases[name]; ok {
		return alias, true
	}
	for _, rw := range githubPrefixRewrites {
		if strings.HasPrefix(name, rw.from) && !strings.HasPrefix(name, rw.to) {
			return rw.to + strings.TrimPrefix(name, rw.from), true
		}
	}
	return "", false
}

// expandNames returns the set of input names, adding the local spelling of
// every GitHub Copilot name when target allows it.
func expandNames(names []string, target string) map[string]bool {
	set := make(map[string]bool, len(names))
	aliases := usesGitHubAliases(target)
	for _, n := range names {
		set[n] = true
		if !aliases {
			continue
		}
		if alias, ok := githubAlias(n); ok {
			set[alias] = true
		}
	}
	return set
}
