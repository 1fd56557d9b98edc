package ruleengine

import "fmt"

// Formula is the polymorphic formula AST (spec.md §9: "tagged variant").
// Each concrete node implements eval against an EvalContext and String
// for pretty-printing (used in parse↔print↔reparse round trips, §8.2).
type Formula interface {
	eval(ctx *EvalContext) (bool, error)
	String() string
}

type orNode struct{ terms []Formula }

func (n *orNode) eval(ctx *EvalContext) (bool, error) {
	for _, t := range n.terms {
		ok, err := t.eval(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (n *orNode) String() string {
	s := n.terms[0].String()
	for _, t := range n.terms[1:] {
		s += " | " + t.String()
	}
	if len(n.terms) > 1 {
		return "(" + s + ")"
	}
	return s
}

type andNode struct{ terms []Formula }

func (n *andNode) eval(ctx *EvalContext) (bool, error) {
	for _, t := range n.terms {
		ok, err := t.eval(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (n *andNode) String() string {
	s := n.terms[0].String()
	for _, t := range n.terms[1:] {
		s += " & " + t.String()
	}
	if len(n.terms) > 1 {
		return "(" + s + ")"
	}
	return s
}

type signedByNode struct{ path string }

func (n *signedByNode) eval(ctx *EvalContext) (bool, error) {
	return ctx.Signers.Contains(n.path), nil
}
func (n *signedByNode) String() string { return fmt.Sprintf("signed_by(%s)", n.path) }

type signedByNNode struct {
	n     int
	paths []string
}

func (node *signedByNNode) eval(ctx *EvalContext) (bool, error) {
	if node.n > len(node.paths) {
		return false, fmt.Errorf("%w: signed_by_n(%d, ...) requires more signers than paths listed", ErrInvalidFormula, node.n)
	}
	count := 0
	for _, p := range node.paths {
		if ctx.Signers.Contains(p) {
			count++
		}
	}
	return count >= node.n, nil
}
func (node *signedByNNode) String() string {
	s := fmt.Sprintf("signed_by_n(%d, [", node.n)
	for i, p := range node.paths {
		if i > 0 {
			s += ", "
		}
		s += p
	}
	return s + "])"
}

type allSignedNode struct{ path string }

func (n *allSignedNode) eval(ctx *EvalContext) (bool, error) {
	members := ctx.resolveMembers(n.path)
	for _, m := range members {
		if !ctx.Signers.Contains(m) {
			return false, nil
		}
	}
	return true, nil // vacuously true if empty
}
func (n *allSignedNode) String() string { return fmt.Sprintf("all_signed(%s)", n.path) }

type anySignedNode struct{ path string }

func (n *anySignedNode) eval(ctx *EvalContext) (bool, error) {
	members := ctx.resolveMembers(n.path)
	if len(members) == 0 {
		// Resolved Open Question #1 (spec.md §9 / SPEC_FULL.md §9):
		// any_signed on empty membership is vacuously true, matching
		// observed source behavior.
		return true, nil
	}
	for _, m := range members {
		if ctx.Signers.Contains(m) {
			return true, nil
		}
	}
	return false, nil
}
func (n *anySignedNode) String() string { return fmt.Sprintf("any_signed(%s)", n.path) }

type modifiesNode struct{ prefix string }

func (n *modifiesNode) eval(ctx *EvalContext) (bool, error) {
	prefix := normalizeLeadingSlash(n.prefix)
	for _, p := range ctx.ModifiedPaths.ToSlice() {
		mp := normalizeLeadingSlash(p.(string))
		if mp == prefix || (prefix != "" && len(mp) > len(prefix) && mp[:len(prefix)] == prefix && mp[len(prefix)] == '/') {
			return true, nil
		}
		if prefix == "" {
			return true, nil
		}
	}
	return false, nil
}
func (n *modifiesNode) String() string { return fmt.Sprintf("modifies(%s)", n.prefix) }

func normalizeLeadingSlash(p string) string {
	if len(p) > 0 && p[0] == '/' {
		return p[1:]
	}
	return p
}
