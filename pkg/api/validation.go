package api

import (
	"regexp"
)

var referenceNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// ValidateToolData checks ToolData before registration. It returns an
// *APIError describing the first problem, or nil.
func ValidateToolData(t ToolData) *APIError {
	if t.ID == "" {
		return NewInvalidRequestError("id", "tool id is required")
	}
	if t.ToolReferenceName == "" && t.DisplayName == "" {
		return NewInvalidRequestError("display_name", "tool "+t.ID+" needs a reference name or a display name")
	}
	if t.ToolReferenceName != "" && !referenceNamePattern.MatchString(t.ToolReferenceName) {
		return NewInvalidRequestError("tool_reference_name",
			"tool reference name "+t.ToolReferenceName+" may only contain letters, digits, '_', '.' and '-'")
	}
	if err := validateSource(t.Source); err != nil {
		return err
	}
	return nil
}

// ValidateToolSet checks a ToolSet before creation.
func ValidateToolSet(s ToolSet) *APIError {
	if s.ID == "" {
		return NewInvalidRequestError("id", "tool set id is required")
	}
	if s.ReferenceName == "" {
		return NewInvalidRequestError("reference_name", "tool set "+s.ID+" needs a reference name")
	}
	return validateSource(s.Source)
}

func validateSource(s ToolSource) *APIError {
	switch s.Kind {
	case SourceInternal, SourceUser:
	case SourceExtension:
		if s.ExtensionID == "" {
			return NewInvalidRequestError("source.extension_id", "extension sources require an extension id")
		}
	case SourceMCP:
		if s.ServerLabel == "" {
			return NewInvalidRequestError("source.server_label", "mcp sources require a server label")
		}
	default:
		return NewInvalidRequestError("source.type", "unknown source type "+string(s.Kind))
	}
	return nil
}
