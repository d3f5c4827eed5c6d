package builtins

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/debug"
)

// FetchToolID is the id of the web page fetch tool. It is always eligible
// for auto approval.
const FetchToolID = "fetch_webpage_internal"

// Fetch defaults.
const (
	DefaultFetchMaxBytes = 1 << 20
	DefaultFetchTimeout  = 30 * time.Second
)

// FetchConfig configures the fetch tool.
type FetchConfig struct {
	// TrustedHosts can be fetched without confirmation. Subdomains of a
	// trusted host are trusted too.
	TrustedHosts []string

	// MaxBytes limits the body read per page.
	MaxBytes int64

	// Timeout bounds each page request.
	Timeout time.Duration

	HTTPClient *http.Client
}

type fetchInput struct {
	URLs  []string `json:"urls" jsonschema:"description=URLs of the pages to fetch"`
	Query string   `json:"query,omitempty" jsonschema:"description=What to look for in the pages"`
}

// FetchTool fetches web pages and returns their content as markdown.
type FetchTool struct {
	cfg FetchConfig
}

var (
	_ api.ToolImplementation = (*FetchTool)(nil)
	_ api.ToolPreparer       = (*FetchTool)(nil)
)

// NewFetchTool creates a fetch tool, filling in defaults.
func NewFetchTool(cfg FetchConfig) *FetchTool {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultFetchMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &FetchTool{cfg: cfg}
}

// Data returns the tool metadata.
func (f *FetchTool) Data() api.ToolData {
	return api.ToolData{
		ID:                      FetchToolID,
		ToolReferenceName:       "fetch",
		DisplayName:             "Fetch Web Page",
		ModelDescription:        "Fetches the main content of web pages. Use it to summarize or analyze the content of a URL.",
		UserDescription:         "Fetch the main content from a web page",
		Source:                  api.InternalSource,
		CanBeReferencedInPrompt: true,
		RunsInWorkspace:         api.Bool(false),
		InputSchema:             schemaFor[fetchInput](),
	}
}

// PrepareToolInvocation validates the URLs and asks for confirmation when
// one of them is not on a trusted host.
func (f *FetchTool) PrepareToolInvocation(_ context.Context, pctx api.PrepareContext) (*api.PreparedInvocation, error) {
	input, err := decodeParams[fetchInput](pctx.Parameters)
	if err != nil {
		return nil, err
	}
	if len(input.URLs) == 0 {
		return nil, errors.New("no urls given")
	}

	var untrusted []string
	for _, raw := range input.URLs {
		u, err := parseWebURL(raw)
		if err != nil {
			return nil, err
		}
		if !f.trusted(u.Hostname()) {
			untrusted = append(untrusted, raw)
		}
	}

	p := &api.PreparedInvocation{
		InvocationMessage: fmt.Sprintf("Fetching %s", describeURLs(input.URLs)),
		PastTenseMessage:  fmt.Sprintf("Fetched %s", describeURLs(input.URLs)),
	}
	if len(untrusted) > 0 {
		p.ConfirmationMessages = &api.ConfirmationMessages{
			Title:   "Fetch untrusted web page?",
			Message: "Web content may contain malicious instructions. Fetch:\n- " + strings.Join(untrusted, "\n- "),
		}
	}
	return p, nil
}

func (f *FetchTool) Invoke(ctx context.Context, inv *api.Invocation, _ api.CountTokensFunc, progress api.ProgressReporter) (*api.ToolResult, error) {
	input, err := decodeParams[fetchInput](inv.Parameters)
	if err != nil {
		return nil, err
	}

	result := &api.ToolResult{}
	failed := 0
	for _, raw := range input.URLs {
		progress.Report(api.ProgressStep{
			Message:   fmt.Sprintf("Fetching %s", raw),
			Increment: 100 / float64(len(input.URLs)),
		})
		page, err := f.fetch(ctx, raw)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			debug.Log("invoke", "fetch failed", "url", raw, "error", err)
			result.Content = append(result.Content, api.TextPart(fmt.Sprintf("Failed to fetch %s: %v", raw, err)))
			continue
		}
		if len(input.URLs) > 1 {
			page = fmt.Sprintf("## %s\n\n%s", raw, page)
		}
		result.Content = append(result.Content, api.TextPart(page))
	}
	if failed == len(input.URLs) {
		return nil, fmt.Errorf("fetching %s failed", describeURLs(input.URLs))
	}
	return result, nil
}

// fetch downloads one page and converts HTML to markdown.
func (f *FetchTool) fetch(ctx context.Context, raw string) (string, error) {
	u, err := parseWebURL(raw)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.5")

	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		conv := md.NewConverter(u.Host, true, nil)
		out, err := conv.ConvertString(string(body))
		if err != nil {
			return "", fmt.Errorf("converting html: %w", err)
		}
		return strings.TrimSpace(out), nil
	case strings.HasPrefix(mediaType, "text/") || mediaType == "application/json" || mediaType == "":
		return string(body), nil
	default:
		return "", fmt.Errorf("unsupported content type %q", mediaType)
	}
}

func (f *FetchTool) trusted(host string) bool {
	host = strings.ToLower(host)
	return slices.ContainsFunc(f.cfg.TrustedHosts, func(h string) bool {
		h = strings.ToLower(h)
		return host == h || strings.HasSuffix(host, "."+h)
	})
}

func parseWebURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid url %q: only http and https are supported", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: missing host", raw)
	}
	return u, nil
}

func describeURLs(urls []string) string {
	if len(urls) == 1 {
		return urls[0]
	}
	return fmt.Sprintf("%d pages", len(urls))
}
