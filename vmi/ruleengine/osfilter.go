package ruleengine

import (
	"github.com/chrschn/insightgo/internal/memspecs"
)

// OsFilter restricts a rule to a kernel version/architecture range (§6 "rule
// catalogue"; semantics made explicit per SPEC_FULL.md §12 "OS filter on
// rules"). A zero-value field on either bound disables that bound's check.
type OsFilter struct {
	MinVersion memspecs.KernelVersion
	MaxVersion memspecs.KernelVersion
	Arch       memspecs.Arch // "" = any
}

// Match reports whether specs falls inside the filter's version range and
// matches its architecture, comparing the sysname/release/version/machine
// quadruple component-wise the way insightd's OsFilter::match does.
func (f *OsFilter) Match(specs *memspecs.Specs) bool {
	if f == nil {
		return true
	}
	if f.Arch != "" && f.Arch != specs.Arch {
		return false
	}
	if !versionZero(f.MinVersion) && compareVersion(specs.Version, f.MinVersion) < 0 {
		return false
	}
	if !versionZero(f.MaxVersion) && compareVersion(specs.Version, f.MaxVersion) > 0 {
		return false
	}
	return true
}

func versionZero(v memspecs.KernelVersion) bool {
	return v == memspecs.KernelVersion{}
}

// compareVersion orders two KernelVersions component-wise: sysname, release,
// version, machine, each a plain string comparison. Returns -1/0/1.
func compareVersion(a, b memspecs.KernelVersion) int {
	if c := compareStr(a.Sysname, b.Sysname); c != 0 {
		return c
	}
	if c := compareStr(a.Release, b.Release); c != 0 {
		return c
	}
	if c := compareStr(a.Version, b.Version); c != 0 {
		return c
	}
	return compareStr(a.Machine, b.Machine)
}

func compareStr(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
