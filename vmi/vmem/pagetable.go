package vmem

import (
	"github.com/chrschn/insightgo/pkg/vmierr"
)

const (
	presentBit  = 1 << 0
	hugePageBit = 1 << 7 // PS bit at the PUD/PMD (or PDE for non-PAE) level

	pageSize4K = 1 << 12
	pageSize2M = 1 << 21
	pageSize1G = 1 << 30
	pageSize4M = 1 << 22

	pfnMask = uint64(0x000f_ffff_ffff_f000) // bits 12..51, ignoring NX/flags
)

// walkX86_64 walks the 4-level (PML4/PGD -> PUD -> PMD -> PTE) page tables
// starting at specs.InitLevel4Pgt, extracting 9-bit index groups per level
// (§4.2 "Page table walk").
func (t *Translator) walkX86_64(vaddr uint64) (uint64, uint64, error) {
	pml4Idx := (vaddr >> 39) & 0x1ff
	pudIdx := (vaddr >> 30) & 0x1ff
	pmdIdx := (vaddr >> 21) & 0x1ff
	pteIdx := (vaddr >> 12) & 0x1ff
	pageOff := vaddr & (pageSize4K - 1)

	pml4Entry, err := t.readEntry(t.specs.InitLevel4Pgt, pml4Idx, 8)
	if err != nil {
		return 0, 0, err
	}
	if pml4Entry&presentBit == 0 {
		return 0, 0, vmierr.ErrPageNotPresent
	}
	pudBase := pml4Entry & pfnMask

	pudEntry, err := t.readEntry(pudBase, pudIdx, 8)
	if err != nil {
		return 0, 0, err
	}
	if pudEntry&presentBit == 0 {
		return 0, 0, vmierr.ErrPageNotPresent
	}
	if pudEntry&hugePageBit != 0 {
		paddr := (pudEntry & pfnMask) | (vaddr & (pageSize1G - 1))
		return paddr, pageSize1G, nil
	}
	pmdBase := pudEntry & pfnMask

	pmdEntry, err := t.readEntry(pmdBase, pmdIdx, 8)
	if err != nil {
		return 0, 0, err
	}
	if pmdEntry&presentBit == 0 {
		return 0, 0, vmierr.ErrPageNotPresent
	}
	if pmdEntry&hugePageBit != 0 {
		paddr := (pmdEntry & pfnMask) | (vaddr & (pageSize2M - 1))
		return paddr, pageSize2M, nil
	}
	pteBase := pmdEntry & pfnMask

	pteEntry, err := t.readEntry(pteBase, pteIdx, 8)
	if err != nil {
		return 0, 0, err
	}
	if pteEntry&presentBit == 0 {
		return 0, 0, vmierr.ErrPageNotPresent
	}
	paddr := (pteEntry & pfnMask) | pageOff
	return paddr, pageSize4K, nil
}

// walkX86PAE walks the 3-level (PDPT -> PD -> PT) PAE page tables.
func (t *Translator) walkX86PAE(vaddr uint64) (uint64, uint64, error) {
	pdptIdx := (vaddr >> 30) & 0x3
	pdIdx := (vaddr >> 21) & 0x1ff
	ptIdx := (vaddr >> 12) & 0x1ff
	pageOff := vaddr & (pageSize4K - 1)

	pdptEntry, err := t.readEntry(t.specs.InitLevel4Pgt, pdptIdx, 8)
	if err != nil {
		return 0, 0, err
	}
	if pdptEntry&presentBit == 0 {
		return 0, 0, vmierr.ErrPageNotPresent
	}
	pdBase := pdptEntry & pfnMask

	pdEntry, err := t.readEntry(pdBase, pdIdx, 8)
	if err != nil {
		return 0, 0, err
	}
	if pdEntry&presentBit == 0 {
		return 0, 0, vmierr.ErrPageNotPresent
	}
	if pdEntry&hugePageBit != 0 {
		paddr := (pdEntry & pfnMask) | (vaddr & (pageSize2M - 1))
		return paddr, pageSize2M, nil
	}
	ptBase := pdEntry & pfnMask

	ptEntry, err := t.readEntry(ptBase, ptIdx, 8)
	if err != nil {
		return 0, 0, err
	}
	if ptEntry&presentBit == 0 {
		return 0, 0, vmierr.ErrPageNotPresent
	}
	paddr := (ptEntry & pfnMask) | pageOff
	return paddr, pageSize4K, nil
}

// walkX86 walks the 2-level (PGD -> PTE) non-PAE 32-bit page tables, 4-byte
// entries, with a 10-bit index per level and optional 4 MiB PSE pages.
func (t *Translator) walkX86(vaddr uint64) (uint64, uint64, error) {
	pgdIdx := (vaddr >> 22) & 0x3ff
	pteIdx := (vaddr >> 12) & 0x3ff
	pageOff := vaddr & (pageSize4K - 1)

	pgdEntry, err := t.readEntry(t.specs.InitLevel4Pgt, pgdIdx, 4)
	if err != nil {
		return 0, 0, err
	}
	if pgdEntry&presentBit == 0 {
		return 0, 0, vmierr.ErrPageNotPresent
	}
	if pgdEntry&hugePageBit != 0 {
		paddr := (pgdEntry & 0xffc0_0000) | (vaddr & (pageSize4M - 1))
		return paddr, pageSize4M, nil
	}
	pteBase := pgdEntry & 0xffff_f000

	pteEntry, err := t.readEntry(pteBase, pteIdx, 4)
	if err != nil {
		return 0, 0, err
	}
	if pteEntry&presentBit == 0 {
		return 0, 0, vmierr.ErrPageNotPresent
	}
	paddr := (pteEntry & 0xffff_f000) | pageOff
	return paddr, pageSize4K, nil
}

// readEntry reads the idx'th table entry (entrySize bytes) at physical
// address tableBase, translating the *physical* table base directly (page
// tables live at physical addresses already -- no recursive translation
// needed) through the underlying dump.
func (t *Translator) readEntry(tableBase uint64, idx uint64, entrySize int) (uint64, error) {
	off := int64(tableBase) + int64(idx)*int64(entrySize)
	if entrySize == 8 {
		v, err := t.dump.U64(off)
		if err != nil {
			return 0, wrapMemAccess(err)
		}
		return v, nil
	}
	v, err := t.dump.U32(off)
	if err != nil {
		return 0, wrapMemAccess(err)
	}
	return uint64(v), nil
}

func wrapMemAccess(err error) error {
	return vmierr.Wrap(vmierr.KindMemoryAccess, "vmem: page table entry read failed", err)
}
