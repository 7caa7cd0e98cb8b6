package trace

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/diagrun/internal/ir"
)

// Node is one scope of a run tree.
type Node struct {
	ID       string         `json:"id"`
	Kind     ir.ScopeKind   `json:"kind"`
	Name     string         `json:"name"`
	Start    *ir.ScopeStart `json:"start"`
	End      *ir.ScopeEnd   `json:"end,omitempty"`
	Records  []ir.Record    `json:"records,omitempty"`
	Children []*Node        `json:"children,omitempty"`
}

// Tree groups a verified stream into one tree per run.
func Tree(records []ir.Record) ([]*Node, error) {
	if err := Verify(records); err != nil {
		return nil, err
	}

	var roots []*Node
	var stack []*Node
	for _, r := range records {
		switch r.Kind {
		case ir.KindScopeStart:
			n := &Node{ID: r.ScopeID, Kind: r.Start.Scope, Name: r.Start.Name, Start: r.Start}
			if len(stack) == 0 {
				roots = append(roots, n)
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
		case ir.KindScopeEnd:
			stack[len(stack)-1].End = r.End
			stack = stack[:len(stack)-1]
		default:
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i].ID == r.ScopeID {
					stack[i].Records = append(stack[i].Records, r)
					break
				}
			}
		}
	}
	return roots, nil
}

// Render writes an indented text view of the trees.
func Render(w io.Writer, roots []*Node) error {
	for _, n := range roots {
		if err := render(w, n, 0); err != nil {
			return err
		}
	}
	return nil
}

func render(w io.Writer, n *Node, depth int) error {
	indent := strings.Repeat("  ", depth)
	outcome := "OPEN"
	if n.End != nil {
		outcome = n.End.Outcome.String()
	}
	if _, err := fmt.Fprintf(w, "%s%s %q [%s] %s\n", indent, n.Kind, n.Name, n.ID, outcome); err != nil {
		return err
	}
	for _, r := range n.Records {
		if _, err := fmt.Fprintf(w, "%s  - %s\n", indent, Describe(r)); err != nil {
			return err
		}
	}
	for _, c := range n.Children {
		if err := render(w, c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// Describe renders a non-scope record on one line.
func Describe(r ir.Record) string {
	switch r.Kind {
	case ir.KindLog:
		return fmt.Sprintf("log %s: %s", r.Log.Severity, r.Log.Message)
	case ir.KindError:
		if r.Error.Message != "" {
			return fmt.Sprintf("error %s: %s", r.Error.Symptom, r.Error.Message)
		}
		return "error " + r.Error.Symptom
	case ir.KindMeasurement:
		m := r.Measurement
		if m.SeriesID != "" {
			return fmt.Sprintf("measurement %s[%d] = %g %s", m.Name, m.Index, m.Value, m.Unit)
		}
		return fmt.Sprintf("measurement %s = %g %s", m.Name, m.Value, m.Unit)
	case ir.KindDiagnosis:
		return fmt.Sprintf("diagnosis %s (%s)", r.Diagnosis.Verdict, r.Diagnosis.Type)
	case ir.KindExtension:
		content, err := ir.MarshalCanonical(r.Extension.Content)
		if err != nil {
			content = []byte("<invalid>")
		}
		return fmt.Sprintf("extension %s %s", r.Extension.Name, content)
	case ir.KindFile:
		return fmt.Sprintf("file %s -> %s", r.File.Name, r.File.URI)
	}
	return string(r.Kind)
}
