package ruleengine

// TypeRule is one entry from the external rule catalogue (§4.4): a named,
// prioritized filter+action pair, optionally restricted to a kernel version
// range.
type TypeRule struct {
	Name        string
	Description string
	OsFilter    *OsFilter
	Filter      *Filter
	Action      *Action
	Priority    int
	SourceFile  string
	Line        int
}

// ActiveRule is a TypeRule bound into the rules_per_type index, paired with
// its original catalogue position (the order Engine.Stats reports in;
// Dispatch does not consult it, and tied priorities are reported as
// match-ambiguous) and per-rule hit counters (SPEC_FULL.md §12 supplemented
// feature).
type ActiveRule struct {
	Index int
	Rule  *TypeRule
	Stats Stats
}
