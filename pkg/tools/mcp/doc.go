// Package mcp publishes the tools of MCP (Model Context Protocol) servers
// into the tool registry.
//
// Each configured server becomes a tool set with an mcp source whose
// reference name is the server's qualified prefix, and each server tool
// becomes a registry tool with id "mcp_<server>_<tool>". The tool
// implementation forwards the call through the official MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk) and converts the returned
// content into result parts.
//
// Tools ask for confirmation with editable input unless the server marks
// them read-only. Connections use SSE or streamable HTTP with optional
// static headers and OAuth 2.0 client credentials.
package mcp
