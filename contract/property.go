package contract

import (
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set"
	"github.com/modality-org/modality-core/pathstore"
)

// PropertyContext is the state a transition's required properties are
// checked against: the set of signer identifiers present on the
// attempted action, and the contract's path store.
type PropertyContext struct {
	Signers mapset.Set
	Store   *pathstore.Store
}

// evaluateProperty parses and evaluates one of the four predicate forms
// named in spec.md §4.3: signed_by(<path>), has_balance(<path>),
// has_min_balance(<path>[,amount]), exists(<path>).
func evaluateProperty(predicate string, ctx *PropertyContext) (bool, error) {
	name, args, err := splitPredicate(predicate)
	if err != nil {
		return false, err
	}
	switch name {
	case "signed_by":
		if len(args) != 1 {
			return false, ErrUnknownPredicate
		}
		return ctx.Signers.Contains(args[0]), nil
	case "has_balance":
		if len(args) != 1 {
			return false, ErrUnknownPredicate
		}
		bal, _ := ctx.Store.GetBalance(args[0])
		return bal > 0, nil
	case "has_min_balance":
		if len(args) < 1 {
			return false, ErrUnknownPredicate
		}
		bal, _ := ctx.Store.GetBalance(args[0])
		min := uint64(1)
		if len(args) >= 2 {
			if n, err := strconv.ParseUint(args[1], 10, 64); err == nil {
				min = n
			}
		}
		return bal >= min, nil
	case "exists":
		if len(args) != 1 {
			return false, ErrUnknownPredicate
		}
		return ctx.Store.Exists(args[0]), nil
	default:
		return false, ErrUnknownPredicate
	}
}

// splitPredicate parses "name(arg1,arg2)" into ("name", ["arg1","arg2"]).
func splitPredicate(s string) (string, []string, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return "", nil, ErrUnknownPredicate
	}
	name := s[:open]
	inner := s[open+1 : len(s)-1]
	if strings.TrimSpace(inner) == "" {
		return name, nil, nil
	}
	parts := strings.Split(inner, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return name, parts, nil
}
