// Package api defines the core types shared by the toolgate packages.
//
// This package provides the data model for language-model tools: tool
// metadata ([ToolData]), tool sets ([ToolSet]), the implementation
// contract ([ToolImplementation], [ToolPreparer]), invocations and their
// results, confirmation state, the call state machine, and the structured
// error types.
//
// The package performs no I/O. All types produce JSON suitable for the
// HTTP control API.
//
// Core types:
//   - [ToolData]: immutable metadata registered for a tool id
//   - [ToolSet]: a named, sourced group of tools
//   - [Invocation]: one call of a tool with its parameters
//   - [ToolResult]: content returned by an implementation
//   - [ToolError]: typed registry and invocation failures
package api
