package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ContentKind discriminates ContentPart.
type ContentKind string

const (
	ContentText ContentKind = "text"
	ContentData ContentKind = "data"
)

// ContentPart is one item of a tool result: text or binary data.
type ContentPart struct {
	Kind     ContentKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	MimeType string      `json:"mime_type,omitempty"`
	Data     []byte      `json:"data,omitempty"`
}

// TextPart returns a text content part.
func TextPart(s string) ContentPart {
	return ContentPart{Kind: ContentText, Text: s}
}

// DataPart returns a binary content part.
func DataPart(mimeType string, data []byte) ContentPart {
	return ContentPart{Kind: ContentData, MimeType: mimeType, Data: data}
}

// IOPart is an embedded input/output entry shown alongside a result.
type IOPart struct {
	Type     string `json:"type"`
	IsText   bool   `json:"is_text,omitempty"`
	Value    string `json:"value"`
	MimeType string `json:"mime_type,omitempty"`
}

// IODetails holds the formatted input and output of a call for tools that
// always display them.
type IODetails struct {
	Input   string   `json:"input"`
	Output  []IOPart `json:"output"`
	IsError bool     `json:"is_error,omitempty"`
}

// ToolResult is returned by a ToolImplementation.
type ToolResult struct {
	Content           []ContentPart `json:"content"`
	ToolResultError   string        `json:"tool_result_error,omitempty"`
	ToolResultDetails *IODetails    `json:"tool_result_details,omitempty"`

	// PostConfirmation, when set, asks the user to approve sharing the
	// result before it is returned to the caller.
	PostConfirmation *ConfirmationMessages `json:"post_confirmation,omitempty"`
}

// TextResult returns a result holding a single text part.
func TextResult(s string) *ToolResult {
	return &ToolResult{Content: []ContentPart{TextPart(s)}}
}

// FormatInput renders parameters as two-space indented JSON.
func FormatInput(params map[string]any) string {
	if params == nil {
		return "{}"
	}
	b, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return fmt.Sprint(params)
	}
	return string(b)
}

// OutputParts converts result content to embedded IO entries: text passes
// through, data is base64 encoded with its mime type.
func OutputParts(content []ContentPart) []IOPart {
	out := make([]IOPart, 0, len(content))
	for _, c := range content {
		switch c.Kind {
		case ContentText:
			out = append(out, IOPart{Type: "embed", IsText: true, Value: c.Text})
		case ContentData:
			out = append(out, IOPart{
				Type:     "embed",
				Value:    base64.StdEncoding.EncodeToString(c.Data),
				MimeType: c.MimeType,
			})
		}
	}
	return out
}
