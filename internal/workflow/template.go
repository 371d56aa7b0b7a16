package workflow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// nodeKind distinguishes the three leaf forms a compiled template can
// contain: literal text, a {{name}} variable reference, and a {name:args}
// magic-value call.
type nodeKind int

const (
	nodeLiteral nodeKind = iota
	nodeVarRef
	nodeMagic
)

type templateNode struct {
	kind nodeKind
	text string   // literal text, or the raw var/magic name
	args []string // magic call arguments
}

// CompiledTemplate is the parsed form of a template string: a flat sequence
// of literal/var-ref/magic-call nodes, produced once and rendered cheaply
// many times. This replaces hot-path regex substitution with a single parse
// pass per distinct template string.
type CompiledTemplate struct {
	raw   string
	nodes []templateNode
}

var varRefPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.\[\]]*)\s*\}\}`)

// Compile parses a template string into its literal/var-ref/magic-call AST.
// Magic tokens ({uuid}, {random_string:10}, ...) are recognized here but
// expanded at render time since their output is non-deterministic.
func Compile(template string) *CompiledTemplate {
	return &CompiledTemplate{raw: template, nodes: parseNodes(template)}
}

// compiledTemplateCache memoizes Compile by raw template string, so a step
// field rendered across many repeat/foreach/while_condition iterations only
// pays the parse cost once instead of on every iteration.
var compiledTemplateCache sync.Map // map[string]*CompiledTemplate

// compileCached returns the cached compile of template, compiling and
// storing it on first use. Safe for concurrent use by the fuzz/bench
// adapters' parallel dispatch.
func compileCached(template string) *CompiledTemplate {
	if v, ok := compiledTemplateCache.Load(template); ok {
		return v.(*CompiledTemplate)
	}
	compiled := Compile(template)
	actual, _ := compiledTemplateCache.LoadOrStore(template, compiled)
	return actual.(*CompiledTemplate)
}

func parseNodes(s string) []templateNode {
	var nodes []templateNode
	type span struct {
		start, end int
		node       templateNode
	}
	var spans []span

	for _, m := range varRefPattern.FindAllStringSubmatchIndex(s, -1) {
		spans = append(spans, span{m[0], m[1], templateNode{kind: nodeVarRef, text: s[m[2]:m[3]]}})
	}
	for _, m := range magicPattern.FindAllStringSubmatchIndex(s, -1) {
		name := s[m[2]:m[3]]
		if _, ok := magicGenerators[name]; !ok {
			continue
		}
		var args []string
		if m[4] != -1 {
			argStr := strings.TrimPrefix(s[m[4]:m[5]], ":")
			args = strings.Split(argStr, ":")
		}
		spans = append(spans, span{m[0], m[1], templateNode{kind: nodeMagic, text: name, args: args}})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	pos := 0
	for _, sp := range spans {
		if sp.start < pos {
			continue // overlapping match, e.g. a magic token nested oddly; keep the first
		}
		if sp.start > pos {
			nodes = append(nodes, templateNode{kind: nodeLiteral, text: s[pos:sp.start]})
		}
		nodes = append(nodes, sp.node)
		pos = sp.end
	}
	if pos < len(s) {
		nodes = append(nodes, templateNode{kind: nodeLiteral, text: s[pos:]})
	}
	return nodes
}

// Render expands the template against the store. strict mode errors on
// unknown variable names (execution); lenient mode (dry-run) renders
// unknown names as "<name>" placeholders. Magic nodes are expanded first;
// if a magic expansion's own output contains "{{", that output is
// re-scanned once for variable references, per the documented stability
// contract that magic precedes substitution.
func (c *CompiledTemplate) Render(store *VariableStore, strict bool) (string, error) {
	var sb strings.Builder
	for _, n := range c.nodes {
		switch n.kind {
		case nodeLiteral:
			sb.WriteString(n.text)
		case nodeMagic:
			gen := magicGenerators[n.text]
			val, err := gen(n.args)
			if err != nil {
				return "", newErr(KindTemplate, "", "", err)
			}
			if strings.Contains(val, "{{") {
				rendered, err := Compile(val).Render(store, strict)
				if err != nil {
					return "", err
				}
				sb.WriteString(rendered)
			} else {
				sb.WriteString(val)
			}
		case nodeVarRef:
			val, ok := store.Lookup(n.text)
			if !ok {
				if strict {
					return "", newErrf(KindTemplate, "", n.text,
						"undefined variable %q (known variables: %s)", n.text, strings.Join(store.Keys(), ", "))
				}
				sb.WriteString("<" + n.text + ">")
				continue
			}
			sb.WriteString(stringifyValue(val))
		}
	}
	return sb.String(), nil
}

// RenderString renders template against store, reusing a cached compile of
// the raw template string across repeated calls (e.g. one per iteration of
// a repeat/foreach/while_condition step) instead of re-parsing every time.
// Magic tokens are resolved by CompiledTemplate.Render itself, at render
// time, so caching the AST never staled-cache a {uuid}/{random_string:N}
// value across iterations.
func RenderString(template string, store *VariableStore, strict bool) (string, error) {
	return compileCached(template).Render(store, strict)
}

// RenderJSONTemplate serializes a JSON body to a string, then runs strict
// substitution on the resulting text — the "serialize then substitute"
// variant used for json_body steps, per §4.2 point 4. String values already
// carried in the store are inserted as-is since the surrounding JSON text
// supplies the quoting.
func RenderJSONTemplate(raw []byte, store *VariableStore) (string, error) {
	return RenderString(string(raw), store, true)
}

func stringifyValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
