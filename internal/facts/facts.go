// Package facts keeps a deductive record of session events. Behavioral
// signals and page anomalies are asserted as Mangle facts and evaluated
// against diagnostic rules, so operators can query why the session
// looks distressed.
package facts

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"
)

// DefaultRules declares the session predicates and a few diagnostic
// derivations over them.
const DefaultRules = `
Decl behavioral_signal(Kind, Element, Url).
Decl page_anomaly(Kind, Classification, Url).
Decl help_offer(OfferId, Url).
Decl help_dismissed(OfferId).
Decl page_visit(Url, Context).

Decl struggling_page(Url).
Decl error_page(Url).
Decl ignored_help(OfferId).

struggling_page(Url) :-
    behavioral_signal("rapid_click", _, Url),
    behavioral_signal("form_abandonment", _, Url).

error_page(Url) :-
    page_anomaly(_, "server_error", Url).

error_page(Url) :-
    page_anomaly(_, "network_error", Url).

ignored_help(OfferId) :-
    help_offer(OfferId, _),
    help_dismissed(OfferId).
`

// Fact is one asserted event.
type Fact struct {
	Predicate string    `json:"predicate"`
	Args      []any     `json:"args"`
	Timestamp time.Time `json:"timestamp"`
}

// QueryResult binds query variables to values.
type QueryResult map[string]any

// Store wraps a Mangle program with a bounded temporal fact buffer.
// The buffer supports time-window queries; the Mangle store supports
// rule derivation.
type Store struct {
	logger *zap.Logger
	limit  int

	mu          sync.RWMutex
	programInfo *analysis.ProgramInfo
	loaded      bool
	store       factstore.FactStore
	buffer      []Fact
	index       map[string][]int
}

// NewStore creates a store with the given buffer limit and loads the
// default diagnostic rules.
func NewStore(limit int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit < 1 {
		limit = 1000
	}
	s := &Store{
		logger: logger,
		limit:  limit,
		store:  factstore.NewSimpleInMemoryStore(),
		buffer: make([]Fact, 0, limit),
		index:  make(map[string][]int),
	}
	if err := s.LoadRules(DefaultRules); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadRules parses and analyzes Mangle source, merging its declarations
// into the current program.
func (s *Store) LoadRules(source string) error {
	sourceUnit, err := parse.Unit(bytes.NewReader([]byte(source)))
	if err != nil {
		return fmt.Errorf("parse rules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[ast.PredicateSym]ast.Decl)
	if s.programInfo != nil {
		for k, v := range s.programInfo.Decls {
			if v != nil {
				existing[k] = *v
			}
		}
	}

	info, err := analysis.AnalyzeOneUnit(sourceUnit, existing)
	if err != nil {
		return fmt.Errorf("analyze rules: %w", err)
	}

	if s.programInfo == nil {
		s.programInfo = info
	} else {
		for k, v := range info.Decls {
			s.programInfo.Decls[k] = v
		}
		for k, v := range info.EdbPredicates {
			s.programInfo.EdbPredicates[k] = v
		}
		for k, v := range info.IdbPredicates {
			s.programInfo.IdbPredicates[k] = v
		}
		s.programInfo.Rules = append(s.programInfo.Rules, info.Rules...)
		s.programInfo.InitialFacts = append(s.programInfo.InitialFacts, info.InitialFacts...)
	}
	s.loaded = true
	return nil
}

// Assert adds facts to the buffer and the Mangle store, then re-derives
// the program.
func (s *Store) Assert(ctx context.Context, facts ...Fact) error {
	if len(facts) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	base := len(s.buffer)
	s.buffer = append(s.buffer, facts...)
	if len(s.buffer) > s.limit {
		s.buffer = s.buffer[len(s.buffer)-s.limit:]
		s.rebuildIndex()
		s.logger.Debug("fact buffer trimmed", zap.Int("limit", s.limit))
	} else {
		for i, f := range facts {
			s.index[f.Predicate] = append(s.index[f.Predicate], base+i)
		}
	}

	for _, f := range facts {
		s.store.Add(factToAtom(f))
	}

	if s.loaded && s.programInfo != nil {
		if err := engine.EvalProgram(s.programInfo, s.store); err != nil {
			return fmt.Errorf("eval program: %w", err)
		}
	}
	return nil
}

// Query evaluates a single query atom against the store and returns all
// variable bindings.
func (s *Store) Query(ctx context.Context, queryStr string) ([]QueryResult, error) {
	sourceUnit, err := parse.Unit(bytes.NewReader([]byte(queryStr)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(sourceUnit.Clauses) == 0 {
		return nil, fmt.Errorf("no query found")
	}
	queryAtom := sourceUnit.Clauses[0].Head

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]QueryResult, 0)
	err = s.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		result := make(QueryResult)
		for i, arg := range queryAtom.Args {
			if i >= len(atom.Args) {
				break
			}
			if v, ok := arg.(ast.Variable); ok {
				result[v.Symbol] = fromConstant(atom.Args[i])
			}
		}
		results = append(results, result)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return results, nil
}

// Derived re-evaluates the program and returns every fact of the named
// predicate, base and derived alike.
func (s *Store) Derived(ctx context.Context, predicate string) ([]Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded && s.programInfo != nil {
		if err := engine.EvalProgram(s.programInfo, s.store); err != nil {
			return nil, fmt.Errorf("eval program: %w", err)
		}
	}

	arity := -1
	for sym := range s.programInfo.Decls {
		if sym.Symbol == predicate {
			arity = sym.Arity
			break
		}
	}

	var queryAtom ast.Atom
	predSym := ast.PredicateSym{Symbol: predicate, Arity: arity}
	if arity >= 0 {
		args := make([]ast.BaseTerm, arity)
		for i := range args {
			args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
		}
		queryAtom = ast.Atom{Predicate: predSym, Args: args}
	} else {
		queryAtom = ast.Atom{Predicate: predSym}
	}

	out := make([]Fact, 0)
	err := s.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		out = append(out, atomToFact(atom))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return out, nil
}

// Window returns buffered facts of a predicate within (after, before).
// A zero bound is open.
func (s *Store) Window(predicate string, after, before time.Time) []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Fact, 0)
	for _, idx := range s.index[predicate] {
		if idx < 0 || idx >= len(s.buffer) {
			continue
		}
		f := s.buffer[idx]
		if (after.IsZero() || f.Timestamp.After(after)) &&
			(before.IsZero() || f.Timestamp.Before(before)) {
			out = append(out, f)
		}
	}
	return out
}

// All returns a copy of the buffer in assertion order.
func (s *Store) All() []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Fact, len(s.buffer))
	copy(out, s.buffer)
	return out
}

// ByPredicate returns all buffered facts of a predicate.
func (s *Store) ByPredicate(predicate string) []Fact {
	return s.Window(predicate, time.Time{}, time.Time{})
}

// Len returns the number of buffered facts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buffer)
}

func (s *Store) rebuildIndex() {
	s.index = make(map[string][]int)
	for i, f := range s.buffer {
		s.index[f.Predicate] = append(s.index[f.Predicate], i)
	}
}

func factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{
		Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)},
		Args:      args,
	}
}

func atomToFact(atom ast.Atom) Fact {
	args := make([]any, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = fromConstant(arg)
	}
	return Fact{
		Predicate: atom.Predicate.Symbol,
		Args:      args,
		Timestamp: time.Now(),
	}
}

func toConstant(v any) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func fromConstant(c ast.BaseTerm) any {
	switch term := c.(type) {
	case ast.Constant:
		switch term.Type {
		case ast.StringType:
			val, _ := term.StringValue()
			return val
		case ast.NumberType:
			return term.NumberValue
		case ast.Float64Type:
			if val, err := term.Float64Value(); err == nil {
				return val
			}
		}
		return term.String()
	case ast.Variable:
		return term.Symbol
	default:
		return fmt.Sprintf("%v", c)
	}
}
