package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/vmi"
	"github.com/chrschn/insightgo/vmi/instance"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newQueryCmd())
}

func newQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <dump> <symbols> <specs> <path>",
		Short: "Resolve a dotted instance path against the loaded type graph",
		Long: `The query command starts from a named global variable and walks a
dotted path of member accesses, "->" pointer dereferences, and "[n]" array
indices, printing the resulting instance's address, type, and decoded
value (§8 end-to-end scenario 1).

Example:
  vmictl query vmcore.img symbols.bin memspecs.txt init_task.comm
  vmictl query vmcore.img symbols.bin memspecs.txt "init_task.children.next"`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(args)
		},
	}
}

// pathStep is one parsed hop of a query path: a field name, optionally
// preceded by a pointer dereference ("->") and followed by one or more
// array indices ("[n]").
type pathStep struct {
	deref   bool
	field   string
	indices []int64
}

// parsePath splits "root.field->other[0][1]" into its root variable name
// and an ordered list of steps. A bare "->" with no following field name
// dereferences without accessing a member (e.g. "root->").
func parsePath(path string) (root string, steps []pathStep, err error) {
	// Normalise "->" to ".>" so the two separators ('.' and the literal
	// "->") can be scanned with a single split on '.', then peeling a
	// leading '>' back off as the deref marker for that step.
	normalized := strings.ReplaceAll(path, "->", ".>")
	parts := strings.Split(normalized, ".")
	if len(parts) == 0 || parts[0] == "" {
		return "", nil, fmt.Errorf("empty query path")
	}
	root = parts[0]
	for _, p := range parts[1:] {
		step := pathStep{}
		if strings.HasPrefix(p, ">") {
			step.deref = true
			p = p[1:]
		}
		field, idx, err := splitIndices(p)
		if err != nil {
			return "", nil, err
		}
		step.field = field
		step.indices = idx
		steps = append(steps, step)
	}
	return root, steps, nil
}

// splitIndices peels a field name's trailing "[n][m]..." index chain off,
// e.g. "tasks[0][1]" -> ("tasks", [0, 1]).
func splitIndices(s string) (string, []int64, error) {
	open := strings.IndexByte(s, '[')
	if open < 0 {
		return s, nil, nil
	}
	field := s[:open]
	rest := s[open:]
	var indices []int64
	for len(rest) > 0 {
		if rest[0] != '[' {
			return "", nil, fmt.Errorf("malformed index in %q", s)
		}
		closeIdx := strings.IndexByte(rest, ']')
		if closeIdx < 0 {
			return "", nil, fmt.Errorf("unterminated index in %q", s)
		}
		n, err := strconv.ParseInt(rest[1:closeIdx], 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("bad array index in %q: %w", s, err)
		}
		indices = append(indices, n)
		rest = rest[closeIdx+1:]
	}
	return field, indices, nil
}

func runQuery(args []string) error {
	dumpPath, symbolPath, specPath, path := args[0], args[1], args[2], args[3]

	e, err := openEngine(dumpPath, symbolPath, specPath, vmi.EngineOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	root, steps, err := parsePath(path)
	if err != nil {
		return err
	}

	view, err := instance.Root(e.Graph, e.Mem, root)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if step.deref {
			view, err = view.Dereference(instance.DerefOptions{Transparent: true})
			if err != nil {
				return fmt.Errorf("dereferencing %q: %w", root, err)
			}
		}
		if step.field != "" {
			view, err = view.Member(step.field)
			if err != nil {
				return err
			}
		}
		for _, idx := range step.indices {
			view, err = view.ArrayElem(idx)
			if err != nil {
				return err
			}
		}
	}

	return printQueryResult(e, view)
}

func printQueryResult(e *vmi.Engine, view instance.View) error {
	t, err := view.Type()
	if err != nil {
		return err
	}
	size, _ := view.Size()

	result := map[string]interface{}{
		"address": fmt.Sprintf("0x%x", view.Address()),
		"type":    t.Name,
		"size":    size,
		"null":    view.IsNull(),
	}
	if decoded, ok := decodeForDisplay(view, t); ok {
		result["value"] = decoded
	}

	if jsonOut {
		return printJSON(result)
	}
	printInfo("Address: 0x%x\n", view.Address())
	printInfo("Type:    %s\n", t.Name)
	printInfo("Size:    %d\n", size)
	if decoded, ok := decodeForDisplay(view, t); ok {
		printInfo("Value:   %v\n", decoded)
	}
	return nil
}

// decodeForDisplay best-effort decodes a leaf instance's value for the
// query command's human-readable output; aggregates and unresolved types
// print address/type only.
func decodeForDisplay(view instance.View, t *types.Type) (interface{}, bool) {
	switch {
	case t.Kind == types.KindArray:
		// char arrays print as a C string (§8 scenario 1's comm field);
		// other element kinds fail ToString and fall through to no value.
		if s, err := view.ToString(int(t.Size)); err == nil {
			return s, true
		}
		return nil, false
	case t.Kind == types.KindPointer, t.Kind == types.KindFuncPointer:
		p, err := view.ToPointer()
		if err != nil {
			return nil, false
		}
		return fmt.Sprintf("0x%x", p), true
	case t.Kind == types.KindFloat, t.Kind == types.KindDouble:
		f, err := view.ToFloat()
		if err != nil {
			return nil, false
		}
		return f, true
	case t.Kind.IsNumeric():
		n, err := view.ToInt64()
		if err != nil {
			return nil, false
		}
		return n, true
	default:
		return nil, false
	}
}
