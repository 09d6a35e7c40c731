// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flowtable

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flowplane/internal/errors"
)

func testType(family Family) *Type {
	return &Type{
		Family: family,
		Params: HashParams{Seed: 42},
		GC:     func(ft *FlowTable) int { return 0 },
		Hook:   func(ft *FlowTable, pkt *Packet) Verdict { return VerdictPass },
		Owner:  &Module{Name: "test"},
	}
}

func TestGenMaskVisibility(t *testing.T) {
	gen := uint32(0)
	ft := New("tf1", testType(FamilyIPv4), 1, 0, gen)

	// Staged create: inactive in the current generation, active in the next.
	assert.False(t, ft.Visible(GenMask(gen)))
	assert.True(t, ft.Visible(GenMask(NextGen(gen))))

	// Commit: generation flips, genmask clears.
	gen = NextGen(gen)
	ft.ClearGenmask()
	assert.True(t, ft.Visible(GenMask(gen)))

	// Staged delete: inactive in next, still active in current.
	ft.Deactivate(GenMask(NextGen(gen)))
	assert.True(t, ft.Visible(GenMask(gen)))
	assert.False(t, ft.Visible(GenMask(NextGen(gen))))

	// Abort: visibility restored.
	ft.Activate(GenMask(NextGen(gen)))
	assert.True(t, ft.Visible(GenMask(NextGen(gen))))
}

func TestParseFamily(t *testing.T) {
	f, err := ParseFamily("ipv4")
	require.NoError(t, err)
	assert.Equal(t, FamilyIPv4, f)

	f, err = ParseFamily("ip6")
	require.NoError(t, err)
	assert.Equal(t, FamilyIPv6, f)

	_, err = ParseFamily("decnet")
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestTableLookupHonorsGenmask(t *testing.T) {
	tbl := NewTable("filter", FamilyIPv4)
	gen := uint32(0)

	ft := New("tf1", testType(FamilyIPv4), 1, 0, gen)
	tbl.Add(ft)

	// Invisible to current-generation readers while staged.
	_, err := tbl.Lookup("tf1", GenMask(gen))
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))

	// Visible to next-generation readers (transaction engine).
	got, err := tbl.Lookup("tf1", GenMask(NextGen(gen)))
	require.NoError(t, err)
	assert.Same(t, ft, got)

	ft.ClearGenmask()
	got, err = tbl.Lookup("tf1", GenMask(gen))
	require.NoError(t, err)
	assert.Same(t, ft, got)
}

func TestTableAddRemoveKeepsOrder(t *testing.T) {
	tbl := NewTable("filter", FamilyIPv4)
	a := New("a", testType(FamilyIPv4), 1, 0, 0)
	b := New("b", testType(FamilyIPv4), 1, 0, 0)
	c := New("c", testType(FamilyIPv4), 1, 0, 0)
	for _, ft := range []*FlowTable{a, b, c} {
		ft.ClearGenmask()
		tbl.Add(ft)
	}

	tbl.Remove(b)
	visible := tbl.FlowTables(GenMask(0))
	require.Len(t, visible, 2)
	assert.Equal(t, "a", visible[0].Name())
	assert.Equal(t, "c", visible[1].Name())
}

func TestUseCount(t *testing.T) {
	ft := New("tf1", testType(FamilyIPv4), 1, 0, 0)
	assert.Equal(t, 0, ft.Use())
	ft.Ref()
	ft.Ref()
	assert.Equal(t, 2, ft.Use())
	ft.Unref()
	assert.Equal(t, 1, ft.Use())
	ft.Unref()
	ft.Unref() // does not go negative
	assert.Equal(t, 0, ft.Use())
}

func TestDestroyReleasesTypeAndRegistry(t *testing.T) {
	reg := NewTypeRegistry()
	typ := testType(FamilyIPv4)
	require.NoError(t, reg.Register(typ))

	pinned, err := reg.Get(FamilyIPv4)
	require.NoError(t, err)
	assert.Equal(t, int64(1), typ.Owner.Refs())

	ft := New("tf1", pinned, 1, 0, 0)
	_, err = ft.Registry().Insert([]byte("k"), nil)
	require.NoError(t, err)

	ft.Destroy()
	assert.Equal(t, int64(0), typ.Owner.Refs())
	assert.Equal(t, 0, ft.Registry().Len())
	assert.NoError(t, reg.Unregister(typ))
}

func TestUseCountConcurrentRefUnref(t *testing.T) {
	ft := New("tf1", testType(FamilyIPv4), 1, 0, 0)
	var wg sync.WaitGroup

	// Balanced ref/unref pairs racing bare releases: an over-release may
	// only ever no-op, so the count ends exactly balanced and no
	// concurrent Ref is lost to the zero floor.
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				ft.Ref()
				ft.Unref()
			}
		}()
	}
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				ft.Unref()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, ft.Use())
}
