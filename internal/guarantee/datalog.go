package guarantee

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"grafema/internal/graph"
	"grafema/internal/logging"
)

// violationPredicate is the head every rule guarantee must derive.
const violationPredicate = "violation"

// baseSchema declares the extensional predicates rules see. The graph
// is projected into node/2, edge/3 and node_attr/3 before evaluation.
const baseSchema = `
Decl node(Id, Type) bound [/string, /string].
Decl edge(Src, Dst, Type) bound [/string, /string, /string].
Decl node_attr(Id, Key, Value) bound [/string, /string, /string].
Decl violation(Id, Message) bound [/string, /string].
`

// datalogRun is one isolated evaluation: its own fact store and its
// own compiled program, so concurrent guarantee checks (and multiple
// definitions of violation/2 across guarantees) never interfere.
type datalogRun struct {
	programInfo    *analysis.ProgramInfo
	store          factstore.ConcurrentFactStore
	predicateIndex map[string]ast.PredicateSym
}

// compileRule parses the base schema plus one guarantee's rule source
// into a program. Parse or analysis failure is a declaration error,
// reported against the guarantee, not a runtime fault.
func compileRule(ruleSource string) (*datalogRun, error) {
	var clauses []ast.Clause
	var decls []ast.Decl
	for _, src := range []string{baseSchema, ruleSource} {
		unit, err := parse.Unit(bytes.NewReader([]byte(src)))
		if err != nil {
			return nil, fmt.Errorf("parse rule: %w", err)
		}
		clauses = append(clauses, unit.Clauses...)
		decls = append(decls, unit.Decls...)
	}

	programInfo, err := analysis.AnalyzeOneUnit(parse.SourceUnit{Clauses: clauses, Decls: decls}, nil)
	if err != nil {
		return nil, fmt.Errorf("analyze rule: %w", err)
	}

	run := &datalogRun{
		programInfo:    programInfo,
		store:          factstore.NewConcurrentFactStore(factstore.NewSimpleInMemoryStore()),
		predicateIndex: make(map[string]ast.PredicateSym, len(programInfo.Decls)),
	}
	for sym := range programInfo.Decls {
		run.predicateIndex[sym.Symbol] = sym
	}
	if _, ok := run.predicateIndex[violationPredicate]; !ok {
		return nil, fmt.Errorf("rule does not declare %s/2", violationPredicate)
	}
	return run, nil
}

// addFact inserts one extensional fact. All base predicates take
// string arguments.
func (r *datalogRun) addFact(predicate string, args ...string) error {
	sym, ok := r.predicateIndex[predicate]
	if !ok {
		return fmt.Errorf("predicate %s is not declared", predicate)
	}
	if len(args) != sym.Arity {
		return fmt.Errorf("predicate %s expects %d args, got %d", predicate, sym.Arity, len(args))
	}
	terms := make([]ast.BaseTerm, len(args))
	for i, a := range args {
		terms[i] = ast.String(a)
	}
	r.store.Add(ast.Atom{Predicate: sym, Args: terms})
	return nil
}

// hydrate projects the whole graph into the fact store.
func (r *datalogRun) hydrate(store graph.Store) error {
	ids, err := store.FindByType("*")
	if err != nil {
		return fmt.Errorf("list nodes: %w", err)
	}
	sort.Strings(ids)

	for _, id := range ids {
		n, err := store.GetNode(id)
		if err != nil {
			return err
		}
		if n == nil {
			continue
		}
		if err := r.addFact("node", n.ID, n.Type); err != nil {
			return err
		}
		if err := r.addFact("node_attr", n.ID, "name", n.Name); err != nil {
			return err
		}
		if err := r.addFact("node_attr", n.ID, "file", n.File); err != nil {
			return err
		}
		if err := r.addFact("node_attr", n.ID, "line", strconv.Itoa(n.Line)); err != nil {
			return err
		}
		for key, value := range n.Metadata {
			if err := r.addFact("node_attr", n.ID, key, metadataString(value)); err != nil {
				return err
			}
		}

		edges, err := store.OutgoingEdges(id, nil)
		if err != nil {
			return err
		}
		for _, e := range edges {
			if err := r.addFact("edge", e.Src, e.Dst, e.Type); err != nil {
				return err
			}
		}
	}
	return nil
}

// evaluate runs the program to fixpoint and collects derived
// violation/2 facts.
func (r *datalogRun) evaluate(ctx context.Context) ([]Violation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats, err := mengine.EvalProgramWithStats(r.programInfo, r.store)
	if err != nil {
		return nil, fmt.Errorf("evaluate rule: %w", err)
	}
	logging.GuaranteeDebug("Datalog evaluation stats: %+v", stats)

	sym := r.predicateIndex[violationPredicate]
	var out []Violation
	err = r.store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		if len(atom.Args) != 2 {
			return nil
		}
		out = append(out, Violation{
			NodeID:  termString(atom.Args[0]),
			Message: termString(atom.Args[1]),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].NodeID != out[j].NodeID {
			return out[i].NodeID < out[j].NodeID
		}
		return out[i].Message < out[j].Message
	})
	return out, nil
}

func termString(term ast.BaseTerm) string {
	if c, ok := term.(ast.Constant); ok {
		switch c.Type {
		case ast.StringType, ast.NameType, ast.BytesType:
			return c.Symbol
		case ast.NumberType:
			return strconv.FormatInt(c.NumValue, 10)
		}
	}
	return term.String()
}

func metadataString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case []string:
		return strings.Join(v, ",")
	default:
		return fmt.Sprintf("%v", v)
	}
}
