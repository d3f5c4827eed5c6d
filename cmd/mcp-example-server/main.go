// Command mcp-example-server runs a small MCP server for trying out the
// toolgate MCP integration. It serves a read-only "get_time" tool, an
// "echo" tool that needs confirmation, and a "fail" tool whose result is
// flagged as an error.
//
// Add it to the toolgate configuration with:
//
//	mcp:
//	  servers:
//	    - name: example
//	      transport: streamable-http
//	      url: http://localhost:8090/mcp
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type echoInput struct {
	Message string `json:"message" jsonschema:"the message to echo back"`
}

type failInput struct {
	Reason string `json:"reason,omitempty" jsonschema:"error text to report"`
}

func newServer(now func() time.Time) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{Name: "toolgate-example-mcp", Version: "v1.0.0"},
		nil,
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_time",
		Title:       "Get Time",
		Description: "Returns the current UTC time",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, struct{}, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Current time: %s", now().UTC().Format(time.RFC3339))},
			},
		}, struct{}{}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Echoes the provided message back",
	}, func(_ context.Context, _ *mcp.CallToolRequest, input echoInput) (*mcp.CallToolResult, struct{}, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Echo: %s", input.Message)},
			},
		}, struct{}{}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fail",
		Description: "Always reports a tool error",
	}, func(_ context.Context, _ *mcp.CallToolRequest, input failInput) (*mcp.CallToolResult, struct{}, error) {
		reason := input.Reason
		if reason == "" {
			reason = "requested failure"
		}
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: reason}},
		}, struct{}{}, nil
	})

	return server
}

// newHandler serves the MCP endpoint on /mcp (streamable HTTP) and /sse.
func newHandler(server *mcp.Server) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil))
	mux.Handle("/sse", mcp.NewSSEHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	})
	return mux
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newHandler(newServer(time.Now)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("MCP example server starting", "port", port)
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
