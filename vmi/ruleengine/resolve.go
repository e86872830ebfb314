package ruleengine

import (
	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/vmi/instance"
	"github.com/chrschn/insightgo/vmi/script"
	"github.com/chrschn/insightgo/vmi/typegraph"
	"github.com/chrschn/insightgo/vmi/vmem"
)

// ResolveAction runs ar's action against src and builds the resulting
// instance. When the action's target address overlaps src itself, it is a
// self-referential list anchor (an empty-list sentinel) rather than a real
// out-of-line pointee: the result is rebased onto the member of src that
// contains the target address via find_member_by_offset, so callers get a
// correctly typed container hop instead of a bogus self-pointer (§4.4 "An
// expression action that returns an instance overlapping the source
// instance ...").
func ResolveAction(g *typegraph.Graph, mem *vmem.Translator, host script.Host, eval Evaluator, ar *ActiveRule, src types.Instance) (types.Instance, bool) {
	addr, ok := ar.Rule.Action.Evaluate(host, eval, src)
	if !ok {
		return types.Instance{}, false
	}

	targetType := ar.Rule.Action.TargetType
	if targetType == 0 {
		targetType = src.Type
	}
	candidate := types.Instance{Address: addr, Type: targetType, Origin: types.OriginRuleEngine}

	srcView := instance.New(g, mem, src)
	candView := instance.New(g, mem, candidate)
	if srcView.Overlaps(candView) && addr >= src.Address {
		if member, ok := srcView.FindMemberByOffset(addr - src.Address); ok {
			return member.Instance(), true
		}
	}
	return candidate, true
}
