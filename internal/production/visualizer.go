package production

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/comalice/valuechange/internal/core"
)

// DefaultVisualizer renders a contract snapshot.
type DefaultVisualizer struct{}

// ExportDOT generates Graphviz DOT source for the contract's two independent
// machines: the value toggle and the score counter. The active value is highlighted.
func (v *DefaultVisualizer) ExportDOT(snap core.Snapshot) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `digraph %q {
  rankdir=LR;
  node [shape=box, fontsize=10, style=rounded];
  edge [fontsize=9];
`, snap.ContractID)

	// Value toggle
	buf.WriteString("  subgraph cluster_value {\n    label=\"value\";\n")
	for _, state := range []bool{false, true} {
		style := ""
		if state == snap.Storage.Value {
			style = ` style=filled fillcolor=lightgreen`
		}
		fmt.Fprintf(&buf, "    \"%t\" [label=\"%t\"%s];\n", state, state, style)
	}
	buf.WriteString("    \"false\" -> \"true\" [label=\"flip\"];\n")
	buf.WriteString("    \"true\" -> \"false\" [label=\"flip\"];\n")
	buf.WriteString("  }\n")

	// Score counter
	buf.WriteString("  subgraph cluster_score {\n    label=\"score\";\n")
	fmt.Fprintf(&buf, "    \"score\" [label=\"score=%d\" shape=ellipse style=filled fillcolor=lightblue];\n", snap.Storage.Score)
	buf.WriteString("    \"score\" -> \"score\" [label=\"add_score / ScoreReturn\"];\n")
	buf.WriteString("  }\n")

	fmt.Fprintf(&buf, "  label=\"block %d\";\n", snap.Block)
	buf.WriteString("}\n")
	return buf.String()
}

// ExportJSON serializes the snapshot to JSON.
func (v *DefaultVisualizer) ExportJSON(snap core.Snapshot) ([]byte, error) {
	return json.MarshalIndent(snap, "", "  ")
}
