// Package script defines the boundary between the rule engine and a
// pluggable scripting runtime (§9 "Dynamic dispatch into a script host").
// No concrete host ships here: the scripting bridge itself is named out of
// scope in §1 ("the scripting bridge ... are external collaborators").
package script

import "github.com/chrschn/insightgo/pkg/types"

// Host is implemented by an embedded scripting runtime capable of running a
// rule's inline script body or calling a named function in a script file
// against a source instance. Both methods return the decoded target address
// and whether the script claimed the match, mirroring the expression
// action's (addr, ok) shape so Action.Evaluate can treat every variant
// uniformly.
type Host interface {
	RunInline(body string, src types.Instance) (addr uint64, ok bool)
	CallFunction(file, funcName string, src types.Instance) (addr uint64, ok bool)
}

// NullHost is a Host that never claims a match, used when no scripting
// runtime is configured; inline/function actions simply fall through to
// "no match" rather than panicking.
type NullHost struct{}

func (NullHost) RunInline(string, types.Instance) (uint64, bool)          { return 0, false }
func (NullHost) CallFunction(string, string, types.Instance) (uint64, bool) { return 0, false }
