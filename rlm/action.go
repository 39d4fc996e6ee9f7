// Action Interpreter - parses one model turn into a typed directive.
//
// Information Hiding:
// - Directive extraction from free-form model prose
// - Per-kind argument validation
//
// Parsing is strict: a turn must contain exactly one recognizable directive
// object or it is rejected. Rejection is recoverable at the session level
// (the model gets a grammar reminder), never a guess.

package rlm

import (
	"encoding/json"
	"fmt"

	"github.com/richinex/daedalus/internal/jsonutil"
)

// Kind identifies a directive variant.
type Kind string

const (
	KindPeek      Kind = "peek"
	KindGrep      Kind = "grep"
	KindPartition Kind = "partition"
	KindRecurse   Kind = "recurse"
	KindMap       Kind = "map"
	KindSummarize Kind = "summarize"
	KindFinal     Kind = "final"
)

// Action is one parsed model directive.
type Action struct {
	Kind Kind

	// peek
	Offset int
	Length int

	// grep
	Pattern string

	// partition, map
	N int

	// recurse, map
	Query string

	// recurse: literal sub-context overriding the region
	Context    string
	HasContext bool

	// region selector for grep, partition, recurse, summarize
	Region Region

	// final
	Answer string
}

// directive mirrors the wire shape of one model-emitted JSON object.
// Pointer fields distinguish "absent" from zero values.
type directive struct {
	Action  string  `json:"action"`
	Offset  *int    `json:"offset"`
	Length  *int    `json:"length"`
	Pattern *string `json:"pattern"`
	N       *int    `json:"n"`
	Query   *string `json:"query"`
	Start   *int    `json:"start"`
	End     *int    `json:"end"`
	Context *string `json:"context"`
	Answer  *string `json:"answer"`
}

// region assembles the directive's region selector; absent bounds mean
// "from the beginning" and "to the end".
func (d *directive) region() Region {
	r := WholeContext()
	if d.Start != nil {
		r.Start = *d.Start
	}
	if d.End != nil {
		r.End = *d.End
	}
	return r
}

// ParseAction extracts and validates the single directive in a model turn.
// Surrounding prose and code fences are tolerated; zero or multiple directive
// objects are not.
func ParseAction(response string) (Action, error) {
	if n := jsonutil.CountObjects(response); n > 1 {
		return Action{}, fmt.Errorf("expected exactly one directive, found %d objects", n)
	}

	raw, err := jsonutil.ExtractObject(response)
	if err != nil {
		return Action{}, fmt.Errorf("no directive found: %w", err)
	}

	var d directive
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Action{}, fmt.Errorf("malformed directive: %w", err)
	}

	switch Kind(d.Action) {
	case KindPeek:
		act := Action{Kind: KindPeek}
		if d.Offset != nil {
			act.Offset = *d.Offset
		}
		if d.Length != nil {
			act.Length = *d.Length
		}
		return act, nil

	case KindGrep:
		if d.Pattern == nil || *d.Pattern == "" {
			return Action{}, fmt.Errorf("grep requires a pattern")
		}
		return Action{Kind: KindGrep, Pattern: *d.Pattern, Region: d.region()}, nil

	case KindPartition:
		if d.N == nil || *d.N < 1 {
			return Action{}, fmt.Errorf("partition requires n >= 1")
		}
		return Action{Kind: KindPartition, N: *d.N, Region: d.region()}, nil

	case KindRecurse:
		if d.Query == nil || *d.Query == "" {
			return Action{}, fmt.Errorf("recurse requires a query")
		}
		act := Action{Kind: KindRecurse, Query: *d.Query, Region: d.region()}
		if d.Context != nil {
			act.Context = *d.Context
			act.HasContext = true
		}
		return act, nil

	case KindMap:
		if d.Query == nil || *d.Query == "" {
			return Action{}, fmt.Errorf("map requires a query")
		}
		if d.N == nil || *d.N < 1 {
			return Action{}, fmt.Errorf("map requires n >= 1")
		}
		return Action{Kind: KindMap, Query: *d.Query, N: *d.N, Region: d.region()}, nil

	case KindSummarize:
		return Action{Kind: KindSummarize, Region: d.region()}, nil

	case KindFinal:
		if d.Answer == nil {
			return Action{}, fmt.Errorf("final requires an answer")
		}
		return Action{Kind: KindFinal, Answer: *d.Answer}, nil

	case "":
		return Action{}, fmt.Errorf("directive has no action field")

	default:
		return Action{}, fmt.Errorf("unknown action %q", d.Action)
	}
}
