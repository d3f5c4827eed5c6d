package registry

import (
	"cmp"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/event"
	"github.com/rhuss/toolgate/pkg/when"
)

// DefaultChangeDelay is the coalescing window for tools-changed notifications.
const DefaultChangeDelay = 750 * time.Millisecond

// Prometheus metrics for registry contents and change notifications.
var (
	registeredTools = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "toolgate_registered_tools",
			Help: "Registered tools",
		},
	)

	registeredToolSets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "toolgate_registered_tool_sets",
			Help: "Registered tool sets",
		},
	)

	toolsChangedNotifications = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "toolgate_tools_changed_notifications_total",
			Help: "Debounced tools-changed notifications fired",
		},
	)
)

func init() {
	prometheus.MustRegister(
		registeredTools,
		registeredToolSets,
		toolsChangedNotifications,
	)
}

type toolEntry struct {
	data    api.ToolData
	impl    api.ToolImplementation
	implSeq uint64
	seq     uint64
}

type toolSetEntry struct {
	set     api.ToolSet
	members []string
	seq     uint64
}

// Registry owns tool metadata, implementations and tool-set membership.
//
// All methods are safe for concurrent use. Mutations hold the write lock
// for their whole critical section, so readers never observe a partially
// applied registration or disposal.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*toolEntry
	toolSets map[string]*toolSetEntry
	seq      uint64

	extensionToolsEnabled bool

	whenCtx   *when.Context
	ctxSub    event.Disposable
	scheduler *event.Debouncer

	onDidChangeTools    event.Emitter[struct{}]
	onDidChangeToolSets event.Emitter[struct{}]

	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithChangeDelay sets the coalescing window for tools-changed events.
func WithChangeDelay(d time.Duration) Option {
	return func(r *Registry) { r.scheduler = event.NewDebouncer(d, r.fireToolsChanged) }
}

// WithExtensionToolsEnabled sets the initial state of the extension switch.
func WithExtensionToolsEnabled(enabled bool) Option {
	return func(r *Registry) { r.extensionToolsEnabled = enabled }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates an empty Registry evaluating enablement predicates against
// whenCtx. A nil whenCtx gets an empty context.
func New(whenCtx *when.Context, opts ...Option) *Registry {
	if whenCtx == nil {
		whenCtx = when.NewContext(nil)
	}
	r := &Registry{
		tools:                 make(map[string]*toolEntry),
		toolSets:              make(map[string]*toolSetEntry),
		extensionToolsEnabled: true,
		whenCtx:               whenCtx,
		logger:                slog.Default(),
	}
	r.scheduler = event.NewDebouncer(DefaultChangeDelay, r.fireToolsChanged)
	for _, opt := range opts {
		opt(r)
	}
	r.ctxSub = whenCtx.OnDidChange(r.onContextChange)
	return r
}

// Close detaches from the predicate context and drops a pending notification.
func (r *Registry) Close() {
	r.ctxSub.Dispose()
	r.scheduler.Stop()
}

// WhenContext returns the predicate context.
func (r *Registry) WhenContext() *when.Context {
	return r.whenCtx
}

// OnDidChangeTools subscribes to the debounced tools-changed notification.
func (r *Registry) OnDidChangeTools(fn func()) event.Disposable {
	return r.onDidChangeTools.Subscribe(func(struct{}) { fn() })
}

// OnDidChangeToolSets subscribes to tool-set creation, disposal and
// membership changes.
func (r *Registry) OnDidChangeToolSets(fn func()) event.Disposable {
	return r.onDidChangeToolSets.Subscribe(func(struct{}) { fn() })
}

// FlushChanges delivers a pending tools-changed notification immediately.
func (r *Registry) FlushChanges() {
	r.scheduler.Flush()
}

// RegisterToolData registers tool metadata. The returned handle unregisters
// it; disposing it more than once is harmless.
func (r *Registry) RegisterToolData(data api.ToolData) (event.Disposable, error) {
	if apiErr := api.ValidateToolData(data); apiErr != nil {
		return nil, apiErr
	}

	r.mu.Lock()
	if _, ok := r.tools[data.ID]; ok {
		r.mu.Unlock()
		return nil, api.AlreadyRegisteredError(data.ID)
	}
	r.seq++
	e := &toolEntry{data: data.Clone(), seq: r.seq}
	r.tools[data.ID] = e
	registeredTools.Set(float64(len(r.tools)))
	r.mu.Unlock()

	debug.Log("registry", "tool registered", "id", data.ID, "source", data.Source.Kind)
	r.scheduler.Schedule()

	return event.DisposeFunc(func() { r.unregisterTool(e) }), nil
}

func (r *Registry) unregisterTool(e *toolEntry) {
	id := e.data.ID
	membershipChanged := false

	r.mu.Lock()
	if cur, ok := r.tools[id]; !ok || cur != e {
		r.mu.Unlock()
		return
	}
	delete(r.tools, id)
	for _, ts := range r.toolSets {
		if i := slices.Index(ts.members, id); i >= 0 {
			ts.members = slices.Delete(ts.members, i, i+1)
			membershipChanged = true
		}
	}
	registeredTools.Set(float64(len(r.tools)))
	r.mu.Unlock()

	debug.Log("registry", "tool unregistered", "id", id)
	r.scheduler.Schedule()
	if membershipChanged {
		r.onDidChangeToolSets.Fire(struct{}{})
	}
}

// RegisterToolImplementation attaches impl to a registered tool id.
func (r *Registry) RegisterToolImplementation(id string, impl api.ToolImplementation) (event.Disposable, error) {
	r.mu.Lock()
	e, ok := r.tools[id]
	if !ok {
		r.mu.Unlock()
		return nil, api.NotContributedError(id)
	}
	if e.impl != nil {
		r.mu.Unlock()
		return nil, api.AlreadyImplementedError(id)
	}
	r.seq++
	e.impl = impl
	e.implSeq = r.seq
	implSeq := e.implSeq
	r.mu.Unlock()

	debug.Log("registry", "implementation attached", "id", id)

	return event.DisposeFunc(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.tools[id]; ok && cur == e && e.implSeq == implSeq {
			e.impl = nil
			e.implSeq = 0
		}
	}), nil
}

// RegisterTool registers metadata and implementation together. Disposing
// the handle removes both.
func (r *Registry) RegisterTool(data api.ToolData, impl api.ToolImplementation) (event.Disposable, error) {
	dataHandle, err := r.RegisterToolData(data)
	if err != nil {
		return nil, err
	}
	implHandle, err := r.RegisterToolImplementation(data.ID, impl)
	if err != nil {
		dataHandle.Dispose()
		return nil, err
	}
	return event.DisposeFunc(func() {
		implHandle.Dispose()
		dataHandle.Dispose()
	}), nil
}

// SetExtensionToolsEnabled toggles visibility of extension-contributed tools.
func (r *Registry) SetExtensionToolsEnabled(enabled bool) {
	r.mu.Lock()
	changed := r.extensionToolsEnabled != enabled
	r.extensionToolsEnabled = enabled
	r.mu.Unlock()
	if changed {
		slog.Info("extension tools switch changed", "enabled", enabled)
		r.scheduler.Schedule()
	}
}

// ExtensionToolsEnabled reports the state of the extension switch.
func (r *Registry) ExtensionToolsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.extensionToolsEnabled
}

// GetTools returns a lazy sequence of tools in registration order. Unless
// includeDisabled is set, tools whose predicate is false or that are gated
// off by the extension switch are omitted. The sequence iterates a
// snapshot taken when iteration starts.
func (r *Registry) GetTools(includeDisabled bool) iter.Seq[api.ToolData] {
	return func(yield func(api.ToolData) bool) {
		for _, t := range r.toolList(includeDisabled) {
			if !yield(t) {
				return
			}
		}
	}
}

func (r *Registry) toolList(includeDisabled bool) []api.ToolData {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.toolListLocked(includeDisabled)
}

func (r *Registry) toolListLocked(includeDisabled bool) []api.ToolData {
	entries := make([]*toolEntry, 0, len(r.tools))
	for _, e := range r.tools {
		if includeDisabled || r.visibleLocked(e) {
			entries = append(entries, e)
		}
	}
	slices.SortFunc(entries, func(a, b *toolEntry) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]api.ToolData, len(entries))
	for i, e := range entries {
		out[i] = e.data.Clone()
	}
	return out
}

func (r *Registry) visibleLocked(e *toolEntry) bool {
	if e.data.Source.Kind == api.SourceExtension && !r.extensionToolsEnabled {
		return false
	}
	return when.Evaluate(e.data.When, r.whenCtx)
}

// GetTool returns a tool by id regardless of its enablement.
func (r *Registry) GetTool(id string) (api.ToolData, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[id]
	if !ok {
		return api.ToolData{}, false
	}
	return e.data.Clone(), true
}

// GetToolByName returns the first tool whose reference name matches.
func (r *Registry) GetToolByName(refName string, includeDisabled bool) (api.ToolData, bool) {
	for t := range r.GetTools(includeDisabled) {
		if t.ToolReferenceName == refName {
			return t, true
		}
	}
	return api.ToolData{}, false
}

// Lookup returns a tool's metadata and its implementation, which is nil
// when none is attached.
func (r *Registry) Lookup(id string) (api.ToolData, api.ToolImplementation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[id]
	if !ok {
		return api.ToolData{}, nil, api.NotContributedError(id)
	}
	return e.data.Clone(), e.impl, nil
}

func (r *Registry) onContextChange(c when.Change) {
	r.mu.RLock()
	affected := false
	for _, e := range r.tools {
		if e.data.When != nil && c.Affects(e.data.When.Keys()) {
			affected = true
			break
		}
	}
	r.mu.RUnlock()
	if affected {
		debug.Log("registry", "predicate context change affects tools", "keys", c.Keys)
		r.scheduler.Schedule()
	}
}

func (r *Registry) fireToolsChanged() {
	toolsChangedNotifications.Inc()
	r.onDidChangeTools.Fire(struct{}{})
}
