package modules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/itsmostafa/rerequire/internal/resolve"
)

// GraphEdge means "From depends on To".
type GraphEdge struct {
	From resolve.Key `json:"from"`
	To   resolve.Key `json:"to"`
}

// Graph is a point-in-time copy of the loader's dependency graph. Nodes are
// the cached modules, sorted. Edges from RootKey are requires issued from the
// shell.
type Graph struct {
	Nodes []resolve.Key `json:"nodes"`
	Edges []GraphEdge   `json:"edges"`
}

// Graph snapshots the dependency graph. Edges pointing at evicted modules are
// left out.
func (l *Loader) Graph() Graph {
	g := Graph{Nodes: make([]resolve.Key, 0, len(l.cache))}
	for key := range l.cache {
		g.Nodes = append(g.Nodes, key)
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i] < g.Nodes[j] })

	from := append([]resolve.Key{RootKey}, g.Nodes...)
	for _, key := range from {
		m, _ := l.Module(key)
		for _, child := range m.Children {
			if _, ok := l.cache[child]; ok {
				g.Edges = append(g.Edges, GraphEdge{From: key, To: child})
			}
		}
	}
	return g
}

// DOT exports Graphviz DOT text.
func (g Graph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph rerequire {\n")
	b.WriteString("  rankdir=LR;\n")

	aliases := make(map[resolve.Key]string, len(g.Nodes)+1)
	aliases[RootKey] = "root"
	b.WriteString(fmt.Sprintf("  root [label=\"%s\", shape=box];\n", escapeDOT(RootKey.String())))
	for i, n := range g.Nodes {
		alias := fmt.Sprintf("n%d", i)
		aliases[n] = alias
		b.WriteString(fmt.Sprintf("  %s [label=\"%s\"];\n", alias, escapeDOT(n.String())))
	}
	for _, e := range g.Edges {
		from, okFrom := aliases[e.From]
		to, okTo := aliases[e.To]
		if !okFrom || !okTo {
			continue
		}
		b.WriteString(fmt.Sprintf("  %s -> %s;\n", from, to))
	}
	b.WriteString("}\n")
	return b.String()
}

func escapeDOT(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
