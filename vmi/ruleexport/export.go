// Package ruleexport serialises a checked rule set back into the XML
// catalogue format internal/rulexml decodes (§4.7 "XML rule emission") —
// the write side of the round trip a driver needs to persist rules it
// built or edited in memory. Every wire tag below is taken straight from
// rulexml's own xmlCatalog/xmlRule/xmlFilter/xmlAction structs so a
// document this package writes decodes back through rulexml.Decode
// unchanged. A Filter's member path is flattened to the flat
// <members><member> list rulexml's grammar actually has; a PathStep's
// Inner filter has no element to land in there and is dropped rather than
// invented, the same caution govar's dumper applies with its
// visitedPointers seen-set before it walks into a nested value it has no
// safe representation for (see convertFilter).
package ruleexport

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/chrschn/insightgo/internal/memspecs"
	"github.com/chrschn/insightgo/vmi/ruleengine"
)

type xmlCatalog struct {
	XMLName      xml.Name     `xml:"typeknowledge"`
	Comment      string       `xml:",comment,omitempty"`
	Version      string       `xml:"version,attr,omitempty"`
	OS           string       `xml:"os,attr,omitempty"`
	Architecture string       `xml:"architecture,attr,omitempty"`
	MinVer       string       `xml:"minver,attr,omitempty"`
	MaxVer       string       `xml:"maxver,attr,omitempty"`
	Includes     []xmlInclude `xml:"ruleincludes>include,omitempty"`
	Rules        []xmlRule    `xml:"rule"`
}

type xmlInclude struct {
	Path string `xml:",chardata"`
}

type xmlRule struct {
	Comment     string    `xml:",comment,omitempty"`
	Priority    int       `xml:"priority,attr"`
	Name        string    `xml:"name"`
	Description string    `xml:"description,omitempty"`
	Filter      xmlFilter `xml:"filter"`
	Action      xmlAction `xml:"action"`
}

type xmlFilter struct {
	VariableName string      `xml:"variablename,omitempty"`
	DataType     string      `xml:"datatype,omitempty"`
	TypeName     string      `xml:"type_name,omitempty"`
	TypeID       int64       `xml:"type_id,omitempty"`
	Members      []xmlMember `xml:"members>member,omitempty"`
}

type xmlMember struct {
	Match string `xml:"match,attr,omitempty"`
	Name  string `xml:",chardata"`
}

type xmlAction struct {
	Type       string `xml:"type,attr"`
	SrcType    string `xml:"srcType,omitempty"`
	TargetType string `xml:"targetType,omitempty"`
	Expression string `xml:"expression,omitempty"`
	ScriptFile string `xml:"scriptFile,omitempty"`
	FuncName   string `xml:"function,omitempty"`
	Body       string `xml:"body,omitempty"`
}

// Encode writes rules (and an optional catalogue-wide OS filter) as one XML
// document, indented the way a hand-maintained catalogue on disk is.
func Encode(w io.Writer, rules []*ruleengine.TypeRule, osFilter *ruleengine.OsFilter) error {
	doc := xmlCatalog{
		Version: "1",
		Comment: escapeComment(fmt.Sprintf("generated ruleset\n%d rule(s)", len(rules))),
		Rules:   make([]xmlRule, 0, len(rules)),
	}
	if osFilter != nil {
		doc.Architecture = string(osFilter.Arch)
		doc.MinVer = formatVersion(osFilter.MinVersion)
		doc.MaxVer = formatVersion(osFilter.MaxVersion)
	}
	for _, r := range rules {
		doc.Rules = append(doc.Rules, convertRule(r))
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n"))
	return err
}

func convertRule(r *ruleengine.TypeRule) xmlRule {
	comment := ""
	if r.Action != nil && r.Action.TargetTypeName != "" {
		comment = fmt.Sprintf("Target type: %s", r.Action.TargetTypeName)
	}
	return xmlRule{
		Comment:     escapeComment(comment),
		Priority:    r.Priority,
		Name:        r.Name,
		Description: r.Description,
		Filter:      convertFilter(r.Filter),
		Action:      convertAction(r.Action),
	}
}

// escapeComment prepares free text for emission as a raw XML comment the way
// the original rule writer does (avoid "--" in comments): encoding/xml
// refuses to marshal a `,comment` field whose text contains "--" or ends in
// "-", so every "--" run is first split apart, then the text is padded with
// a leading/trailing space unless it already starts with one.
func escapeComment(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "--", "- - ")
	if strings.HasPrefix(s, " ") || strings.HasPrefix(s, "\n") {
		return s
	}
	return " " + s + " "
}

// convertFilter flattens a Filter's top-level predicates and its ordered
// member-name path. rulexml's <members><member match="..."> element has no
// slot for a nested <filter> of its own (convertMemberPattern only ever
// reads the match mode and pattern text), so a PathStep's Inner filter —
// used internally to narrow a member's own type during live dispatch — has
// no wire representation here and is intentionally dropped rather than
// invented.
func convertFilter(f *ruleengine.Filter) xmlFilter {
	if f == nil {
		return xmlFilter{}
	}
	out := xmlFilter{
		VariableName: patternString(f.VariableName),
		DataType:     maskString(f.DataMask),
		TypeName:     patternString(f.TypeName),
		TypeID:       int64(f.TypeID),
	}
	for _, step := range f.MemberPath {
		out.Members = append(out.Members, convertMemberPattern(step.FieldPattern))
	}
	return out
}

func convertMemberPattern(p ruleengine.NamePattern) xmlMember {
	switch p.Kind {
	case ruleengine.NameGlob:
		return xmlMember{Match: "wildcard", Name: p.Pattern}
	case ruleengine.NameRegex:
		return xmlMember{Match: "regex", Name: p.Pattern}
	case ruleengine.NameLiteral:
		// rulexml's grammar has no "literal" match mode; a field pattern
		// built as Literal still round-trips correctly as a wildcard since
		// path.Match treats a pattern with no glob metacharacters as an
		// exact match.
		return xmlMember{Match: "wildcard", Name: p.Pattern}
	default:
		return xmlMember{Match: "any"}
	}
}

func convertAction(a *ruleengine.Action) xmlAction {
	if a == nil {
		return xmlAction{}
	}
	out := xmlAction{SrcType: a.SourceTypeName, TargetType: a.TargetTypeName}
	switch a.Kind {
	case ruleengine.ActionExpression:
		out.Type = "expression"
		out.Expression = exprString(a.Expr)
	case ruleengine.ActionInlineScript:
		out.Type = "inline"
		out.Body = a.ScriptBody
	case ruleengine.ActionScriptFunction:
		out.Type = "function"
		out.ScriptFile = a.ScriptFile
		out.FuncName = a.FuncName
	}
	return out
}

// patternString renders a NamePattern back to the single string rulexml's
// type_name/variablename elements hold — literal text, a glob, or a regex
// body — losing only the Kind discriminator when it is NameAny, which
// round-trips as "".
func patternString(p ruleengine.NamePattern) string {
	if p.Kind == ruleengine.NameAny {
		return ""
	}
	return p.Pattern
}

// maskString renders a KindMask back to one of the single datatype tokens
// parseDataTypeMask recognises. rulexml's grammar has no combinator syntax
// for a mask spanning more than one category, so a multi-bit mask emits its
// first recognised bit only.
func maskString(m ruleengine.KindMask) string {
	names := []struct {
		bit  ruleengine.KindMask
		name string
	}{
		{ruleengine.MaskNumeric, "numeric"},
		{ruleengine.MaskPointer, "pointer"},
		{ruleengine.MaskArray, "array"},
		{ruleengine.MaskAggregate, "struct"},
		{ruleengine.MaskEnum, "enum"},
		{ruleengine.MaskFuncPointer, "function-pointer"},
	}
	for _, n := range names {
		if m&n.bit != 0 {
			return n.name
		}
	}
	return ""
}

func formatVersion(v memspecs.KernelVersion) string {
	if (v == memspecs.KernelVersion{}) {
		return ""
	}
	return v.Release
}
