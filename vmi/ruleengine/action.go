package ruleengine

import (
	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/vmi/script"
)

// ActionKind discriminates a TypeRule's action variant (§4.4 "Action").
type ActionKind uint8

const (
	ActionExpression ActionKind = iota
	ActionInlineScript
	ActionScriptFunction
)

// Action is the rewrite a matched rule applies. An expression action
// declares source/target type names resolved once at rule-check time; a
// script action defers to the embedded scripting host.
type Action struct {
	Kind ActionKind

	// ActionExpression
	SourceTypeName string
	TargetTypeName string
	SourceType     types.TypeID // resolved during Check; 0 until then
	TargetType     types.TypeID
	Expr           *types.Expr

	// ActionInlineScript / ActionScriptFunction
	ScriptBody string
	ScriptFile string
	FuncName   string
}

// Evaluate runs the action against src, returning the decoded target
// address and whether the action claims the match. Expression failures are
// always recoverable (§7 "expression_eval ... always recovered"): a false
// ok return, never an error.
func (a *Action) Evaluate(host script.Host, eval Evaluator, src types.Instance) (addr uint64, ok bool) {
	switch a.Kind {
	case ActionExpression:
		v, evalOK := eval.Eval(a.Expr, src)
		if !evalOK {
			return 0, false
		}
		return uint64(v), true
	case ActionInlineScript:
		if host == nil {
			return 0, false
		}
		return host.RunInline(a.ScriptBody, src)
	case ActionScriptFunction:
		if host == nil {
			return 0, false
		}
		return host.CallFunction(a.ScriptFile, a.FuncName, src)
	default:
		return 0, false
	}
}
