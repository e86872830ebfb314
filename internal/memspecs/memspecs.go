// Package memspecs parses the memory specification record (§6) that tells
// virtual-address translation where the kernel's linear mapping, vmalloc
// arena, and page-table root live. It is a plain key-value record, the same
// shape as the teacher's OpenOptions: a handful of named fields gating
// behaviour rather than a schema-validated document.
package memspecs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chrschn/insightgo/pkg/vmierr"
)

// Arch identifies the supported CPU architectures.
type Arch string

const (
	ArchX86    Arch = "x86"
	ArchX86PAE Arch = "x86-PAE"
	ArchX86_64 Arch = "x86_64"
)

// KernelVersion is the sysname/release/version/machine quadruple reported by
// uname(2) at dump time, used for OS-filter matching in the rule engine.
type KernelVersion struct {
	Sysname string
	Release string
	Version string
	Machine string
}

// Specs is the fully-parsed memory specification.
type Specs struct {
	PageOffset          uint64
	VmallocStart        uint64
	VmallocEnd          uint64
	VmallocOffset       uint64
	VmemmapStart        uint64
	VmemmapEnd          uint64
	ModulesVaddr        uint64
	ModulesEnd          uint64
	StartKernelMap      uint64
	InitLevel4Pgt       uint64 // swapper_pg_dir on 32-bit
	HighMemory          uint64
	VmallocEarlyReserve uint64
	ListPoison1         uint64
	ListPoison2         uint64
	MaxErrno            int64
	SizeofLong          int
	SizeofPointer       int
	Arch                Arch
	Version             KernelVersion
	Symbols             map[string]uint64
}

var requiredKeys = []string{
	"page_offset", "vmalloc_start", "vmalloc_end", "vmalloc_offset",
	"vmemmap_start", "vmemmap_end", "modules_vaddr", "modules_end",
	"start_kernel_map", "high_memory", "vmalloc_early_reserve",
	"list_poison_1", "list_poison_2", "max_errno",
	"sizeof_long", "sizeof_pointer", "arch",
	"sysname", "release", "version", "machine",
}

// Parse builds a Specs from a key-value record. Either init_level4_pgt or
// swapper_pg_dir must be present depending on Arch; missing required keys
// fail with ErrIncompleteSpecs (§6).
func Parse(kv map[string]string, symbols map[string]uint64) (*Specs, error) {
	for _, k := range requiredKeys {
		if _, ok := kv[k]; !ok {
			return nil, vmierr.Wrap(vmierr.KindFormat, "memspecs: missing required key "+k, vmierr.ErrIncompleteSpecs)
		}
	}

	s := &Specs{Symbols: symbols}
	var err error
	if s.PageOffset, err = parseU64(kv, "page_offset"); err != nil {
		return nil, err
	}
	if s.VmallocStart, err = parseU64(kv, "vmalloc_start"); err != nil {
		return nil, err
	}
	if s.VmallocEnd, err = parseU64(kv, "vmalloc_end"); err != nil {
		return nil, err
	}
	if s.VmallocOffset, err = parseU64(kv, "vmalloc_offset"); err != nil {
		return nil, err
	}
	if s.VmemmapStart, err = parseU64(kv, "vmemmap_start"); err != nil {
		return nil, err
	}
	if s.VmemmapEnd, err = parseU64(kv, "vmemmap_end"); err != nil {
		return nil, err
	}
	if s.ModulesVaddr, err = parseU64(kv, "modules_vaddr"); err != nil {
		return nil, err
	}
	if s.ModulesEnd, err = parseU64(kv, "modules_end"); err != nil {
		return nil, err
	}
	if s.StartKernelMap, err = parseU64(kv, "start_kernel_map"); err != nil {
		return nil, err
	}
	if s.HighMemory, err = parseU64(kv, "high_memory"); err != nil {
		return nil, err
	}
	if s.VmallocEarlyReserve, err = parseU64(kv, "vmalloc_early_reserve"); err != nil {
		return nil, err
	}
	if s.ListPoison1, err = parseU64(kv, "list_poison_1"); err != nil {
		return nil, err
	}
	if s.ListPoison2, err = parseU64(kv, "list_poison_2"); err != nil {
		return nil, err
	}

	maxErrno, err := strconv.ParseInt(kv["max_errno"], 0, 64)
	if err != nil {
		return nil, vmierr.Wrap(vmierr.KindFormat, "memspecs: max_errno", err)
	}
	s.MaxErrno = maxErrno

	sl, err := strconv.Atoi(kv["sizeof_long"])
	if err != nil {
		return nil, vmierr.Wrap(vmierr.KindFormat, "memspecs: sizeof_long", err)
	}
	s.SizeofLong = sl

	sp, err := strconv.Atoi(kv["sizeof_pointer"])
	if err != nil {
		return nil, vmierr.Wrap(vmierr.KindFormat, "memspecs: sizeof_pointer", err)
	}
	s.SizeofPointer = sp

	s.Arch = Arch(kv["arch"])
	switch s.Arch {
	case ArchX86, ArchX86PAE, ArchX86_64:
	default:
		return nil, vmierr.New(vmierr.KindFormat, "memspecs: unknown arch "+string(s.Arch))
	}

	pgtKey := "init_level4_pgt"
	if s.Arch != ArchX86_64 {
		pgtKey = "swapper_pg_dir"
	}
	pgt, ok := kv[pgtKey]
	if !ok {
		return nil, vmierr.Wrap(vmierr.KindFormat, "memspecs: missing "+pgtKey, vmierr.ErrIncompleteSpecs)
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(pgt, "0x"), 16, 64)
	if err != nil {
		return nil, vmierr.Wrap(vmierr.KindFormat, "memspecs: "+pgtKey, err)
	}
	s.InitLevel4Pgt = v

	s.Version = KernelVersion{
		Sysname: kv["sysname"],
		Release: kv["release"],
		Version: kv["version"],
		Machine: kv["machine"],
	}

	return s, nil
}

func parseU64(kv map[string]string, key string) (uint64, error) {
	raw := strings.TrimPrefix(kv[key], "0x")
	v, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		return 0, vmierr.Wrap(vmierr.KindFormat, fmt.Sprintf("memspecs: %s", key), err)
	}
	return v, nil
}

// PageSizeSentinel is the page-size value Translate returns for an address
// served by the linear window rather than a page-table walk: "the whole
// contiguous linear mapping" (§4.2).
const PageSizeSentinel = 0
