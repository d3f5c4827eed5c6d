// Package naming maps tools and tool sets to and from their qualified
// names, the stable external identifiers used in enablement lists.
//
// Naming rules:
//   - a tool set not sourced from user storage: its reference name, or
//     "<reference>/*" when it comes from an MCP server
//   - a tool inside such a set: "<set name without wildcard>/<tool name>"
//   - a standalone extension tool: "<extension id, lowercased>/<tool name>"
//   - any other standalone tool: its reference name or display name
package naming

import (
	"strings"

	"github.com/rhuss/toolgate/pkg/api"
)

// ToolSetQualifiedName returns the qualified name of a tool set.
func ToolSetQualifiedName(s api.ToolSet) string {
	if s.Source.Kind == api.SourceMCP {
		return s.ReferenceName + "/*"
	}
	return s.ReferenceName
}

// ToolQualifiedName returns the qualified name of a standalone tool.
func ToolQualifiedName(t api.ToolData) string {
	if t.Source.Kind == api.SourceExtension && t.Source.ExtensionID != "" {
		return strings.ToLower(t.Source.ExtensionID) + "/" + t.ReferenceName()
	}
	return t.ReferenceName()
}

// MemberQualifiedName returns the qualified name of a tool listed in s.
func MemberQualifiedName(s api.ToolSet, t api.ToolData) string {
	return strings.TrimSuffix(ToolSetQualifiedName(s), "/*") + "/" + t.ReferenceName()
}

// setNameVariants returns the spellings that select a tool set: its
// qualified name, and the same name with and without the wildcard.
func setNameVariants(qualified string) []string {
	base := strings.TrimSuffix(qualified, "/*")
	return []string{qualified, base, base + "/*"}
}

// legacyPrefix returns the tool-set portion of a legacy "set/tool" name.
func legacyPrefix(name string) (string, bool) {
	i := strings.LastIndex(name, "/")
	if i <= 0 {
		return "", false
	}
	return name[:i], true
}
