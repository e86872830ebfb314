package memspecs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validKV() map[string]string {
	return map[string]string{
		"page_offset":           "0xffff880000000000",
		"vmalloc_start":         "0xffffc90000000000",
		"vmalloc_end":           "0xffffe8ffffffffff",
		"vmalloc_offset":        "0x10000000",
		"vmemmap_start":         "0xffffea0000000000",
		"vmemmap_end":           "0xffffeaffffffffff",
		"modules_vaddr":         "0xffffffffa0000000",
		"modules_end":           "0xffffffffff000000",
		"start_kernel_map":      "0xffffffff81000000",
		"init_level4_pgt":       "0xffffffff81c18000",
		"high_memory":           "0xffff880100000000",
		"vmalloc_early_reserve": "0x0",
		"list_poison_1":         "0x100",
		"list_poison_2":         "0x122",
		"max_errno":             "4095",
		"sizeof_long":           "8",
		"sizeof_pointer":        "8",
		"arch":                  "x86_64",
		"sysname":               "Linux",
		"release":               "5.10.0",
		"version":               "#1 SMP",
		"machine":               "x86_64",
	}
}

func TestParse_Valid(t *testing.T) {
	s, err := Parse(validKV(), map[string]uint64{"init_task": 0xffffffff81c18440})
	require.NoError(t, err)
	require.Equal(t, ArchX86_64, s.Arch)
	require.EqualValues(t, 0xffff880000000000, s.PageOffset)
	require.EqualValues(t, 0xffffffff81c18000, s.InitLevel4Pgt)
	require.Equal(t, "Linux", s.Version.Sysname)
	require.EqualValues(t, 4095, s.MaxErrno)
}

func TestParse_MissingKeyFails(t *testing.T) {
	kv := validKV()
	delete(kv, "vmalloc_start")
	_, err := Parse(kv, nil)
	require.Error(t, err)
}

func TestParse_32BitUsesSwapperPgDir(t *testing.T) {
	kv := validKV()
	kv["arch"] = "x86"
	delete(kv, "init_level4_pgt")
	kv["swapper_pg_dir"] = "0xc0001000"
	s, err := Parse(kv, nil)
	require.NoError(t, err)
	require.EqualValues(t, 0xc0001000, s.InitLevel4Pgt)
}

func TestParse_UnknownArch(t *testing.T) {
	kv := validKV()
	kv["arch"] = "arm64"
	_, err := Parse(kv, nil)
	require.Error(t, err)
}
