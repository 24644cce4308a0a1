// Package tools implements the aggregation tools exposed over MCP. Every
// tool follows the same contract: validate arguments, consult the shared
// response cache, execute against the upstream client, store with a
// tool-specific TTL, and return a structured payload.
package tools

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/mohammad-safakhou/sefaria-gateway/internal/cache"
	"github.com/mohammad-safakhou/sefaria-gateway/internal/sefaria"
)

// Handler executes one tool call and returns its structured payload.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool describes a single MCP tool, including input and output schemas.
type Tool struct {
	Name         string
	Description  string
	InputSchema  map[string]any
	OutputSchema map[string]any
	Handler      Handler
}

// Registry holds tools in registration order for tools/list.
type Registry struct {
	order []string
	byName map[string]*Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Tool)}
}

// Register adds a tool; a duplicate name panics at wiring time.
func (r *Registry) Register(t *Tool) {
	if _, dup := r.byName[t.Name]; dup {
		panic(fmt.Sprintf("tools: duplicate registration of %q", t.Name))
	}
	r.order = append(r.order, t.Name)
	r.byName[t.Name] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Deps carries the shared collaborators every corpus tool uses.
type Deps struct {
	Client   *sefaria.Client
	Resolver *sefaria.Resolver
	Cache    *cache.Cache
	Logger   *log.Logger
}

func (d *Deps) logf(format string, args ...any) {
	if d.Logger != nil {
		d.Logger.Printf(format, args...)
	}
}

// Cache TTLs per tool family.
const (
	ttlDefault  = 0 // cache default
	ttlText     = 10 * time.Minute
	ttlSugya    = 3 * time.Minute
	ttlCalendar = time.Hour
)

// NewCorpusRegistry wires all corpus aggregation tools.
func NewCorpusRegistry(d *Deps) *Registry {
	r := NewRegistry()
	r.Register(searchTool(d))
	r.Register(fetchTool(d))
	r.Register(commentariesTool(d))
	r.Register(compareVersionsTool(d))
	r.Register(dailyLearningsTool(d))
	r.Register(findRefsTool(d))
	r.Register(sugyaExplorerTool(d))
	r.Register(topicsSearchTool(d))
	r.Register(parshaPackTool(d))
	r.Register(topicSheetCuratorTool(d))
	r.Register(insightLayersTool(d))
	r.Register(calendarInsightsTool(d))
	return r
}

// cached wraps a handler with the shared-cache consult/store step.
func (d *Deps) cached(ttl time.Duration, key string, compute func() (map[string]any, error)) (map[string]any, error) {
	if v, ok := d.Cache.Get(key); ok {
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	}
	out, err := compute()
	if err != nil {
		return nil, err
	}
	d.Cache.Set(key, out, ttl)
	return out, nil
}

// cacheKey derives a deterministic key from the tool name and all inputs.
func cacheKey(tool string, parts ...any) string {
	b := strings.Builder{}
	b.WriteString(tool)
	for _, p := range parts {
		b.WriteString("|")
		fmt.Fprintf(&b, "%v", p)
	}
	return b.String()
}

// ---- argument coercion ----

func stringArg(args map[string]any, key string) string {
	if s, ok := args[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func requireString(args map[string]any, key string) (string, error) {
	s := stringArg(args, key)
	if s == "" {
		return "", fmt.Errorf("missing required field %q", key)
	}
	return s, nil
}

// intArg coerces a numeric argument, applying def when absent. Values below
// min are rejected, values above max are clamped.
func intArg(args map[string]any, key string, def, min, max int) (int, error) {
	v, present := args[key]
	if !present || v == nil {
		return def, nil
	}
	var n int
	switch t := v.(type) {
	case float64:
		n = int(t)
	case int:
		n = t
	default:
		return 0, fmt.Errorf("field %q must be a number", key)
	}
	if n < min {
		return 0, fmt.Errorf("field %q out of range: %d < %d", key, n, min)
	}
	if n > max {
		n = max
	}
	return n, nil
}

func boolArg(args map[string]any, key string, def bool) bool {
	if b, ok := args[key].(bool); ok {
		return b
	}
	return def
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// ---- schema builders ----

func obj(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func num(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func boolean(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func arr(items map[string]any, desc string) map[string]any {
	return map[string]any{"type": "array", "items": items, "description": desc}
}

// sortLinksByScore orders links by the fixed ranking, descending, stable for
// equal scores.
func sortLinksByScore(links []sefaria.Link) {
	sort.SliceStable(links, func(i, j int) bool {
		return links[i].Score() > links[j].Score()
	})
}
