package ruleengine

import (
	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/vmi/instance"
	"github.com/chrschn/insightgo/vmi/typegraph"
	"github.com/chrschn/insightgo/vmi/vmem"
)

// Evaluator evaluates an action's expression tree against a source
// instance. Failure is never an error (§7 "expression_eval ... always
// recovered"): a false ok return lowers a probability score or drops the
// rule, but never aborts a traversal.
type Evaluator interface {
	Eval(e *types.Expr, src types.Instance) (value int64, ok bool)
}

// ExprEvaluator is the in-process evaluator for expression actions (§9
// "the expression variant evaluates in-process"). An empty VarName in a
// variable-reference node means "the source instance itself", the usual
// case for a rule bound to the symbol the action rewrites; any other name
// is looked up as a global.
type ExprEvaluator struct {
	Graph *typegraph.Graph
	Mem   *vmem.Translator
}

func (ev *ExprEvaluator) Eval(e *types.Expr, src types.Instance) (int64, bool) {
	if e.IsUndefined() {
		return 0, false
	}
	switch e.Op {
	case types.ExprLiteral:
		if e.LiteralIsReal {
			return int64(e.LiteralReal), true
		}
		return e.LiteralInt, true
	case types.ExprEnumerator:
		return e.EnumValue, true
	case types.ExprVariableRef:
		return ev.evalVariableRef(e, src)
	case types.ExprUnary:
		return ev.evalUnary(e, src)
	case types.ExprBinary:
		return ev.evalBinary(e, src)
	default:
		return 0, false
	}
}

func (ev *ExprEvaluator) evalVariableRef(e *types.Expr, src types.Instance) (int64, bool) {
	var view instance.View
	if e.VarName == "" {
		view = instance.New(ev.Graph, ev.Mem, src)
	} else {
		v, ok := ev.Graph.Variable(e.VarName)
		if !ok {
			return 0, false
		}
		view = instance.New(ev.Graph, ev.Mem, types.Instance{Address: v.Address, Type: v.Referent, Origin: types.OriginManual})
	}

	for _, tr := range e.Transforms {
		var err error
		switch tr.Kind {
		case types.TransformField:
			view, err = view.Member(tr.Field)
		case types.TransformDeref:
			view, err = view.Dereference(instance.DerefOptions{Transparent: true})
		case types.TransformIndex:
			if tr.Index < 0 {
				return 0, false // index itself runtime-computed; not supported by the static evaluator
			}
			view, err = view.ArrayElem(tr.Index)
		case types.TransformCallCoercion:
			// Function-call type coercion carries no runtime effect on the
			// decoded address; it only narrows the declared type, which the
			// caller applies when re-binding the action's target type.
		}
		if err != nil {
			return 0, false
		}
	}

	t, err := view.Type()
	if err != nil {
		return 0, false
	}
	if t.Kind == types.KindPointer || t.Kind == types.KindFuncPointer {
		p, err := view.ToPointer()
		if err != nil {
			return 0, false
		}
		return int64(p), true
	}
	if t.Kind.IsAggregate() {
		return int64(view.Address()), true
	}
	n, err := view.ToInt64()
	if err != nil {
		return 0, false
	}
	return n, true
}

func (ev *ExprEvaluator) evalUnary(e *types.Expr, src types.Instance) (int64, bool) {
	operand, ok := ev.Eval(e.Operand, src)
	if !ok {
		return 0, false
	}
	switch e.UnOp {
	case types.UnaryNeg:
		return -operand, true
	case types.UnaryNot:
		if operand == 0 {
			return 1, true
		}
		return 0, true
	case types.UnaryBitNot:
		return ^operand, true
	case types.UnaryDeref:
		addr, err := ev.Mem.ReadU64(uint64(operand))
		if err != nil {
			return 0, false
		}
		return int64(addr), true
	default:
		return 0, false
	}
}

func (ev *ExprEvaluator) evalBinary(e *types.Expr, src types.Instance) (int64, bool) {
	left, ok := ev.Eval(e.Left, src)
	if !ok {
		return 0, false
	}
	right, ok := ev.Eval(e.Right, src)
	if !ok {
		return 0, false
	}
	switch e.BinOp {
	case types.BinaryAdd:
		return left + right, true
	case types.BinarySub:
		return left - right, true
	case types.BinaryMul:
		return left * right, true
	case types.BinaryDiv:
		if right == 0 {
			return 0, false
		}
		return left / right, true
	case types.BinaryShl:
		return left << uint64(right), true
	case types.BinaryShr:
		return left >> uint64(right), true
	case types.BinaryAnd:
		return left & right, true
	case types.BinaryOr:
		return left | right, true
	case types.BinaryXor:
		return left ^ right, true
	case types.BinaryEq:
		return boolInt(left == right), true
	case types.BinaryNe:
		return boolInt(left != right), true
	case types.BinaryLt:
		return boolInt(left < right), true
	case types.BinaryLe:
		return boolInt(left <= right), true
	case types.BinaryGt:
		return boolInt(left > right), true
	case types.BinaryGe:
		return boolInt(left >= right), true
	default:
		return 0, false
	}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
