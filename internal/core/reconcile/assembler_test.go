package reconcile

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolvedEntity(name string, confidence Confidence) ResolvedEntity {
	return ResolvedEntity{
		Name:       name,
		SourceName: name,
		Confidence: confidence,
		MatchTier:  MatchExact,
		identity:   NormalizeName(name),
	}
}

func unresolvedEntity(name string) ResolvedEntity {
	return ResolvedEntity{Name: name, SourceName: name, MatchTier: MatchNone}
}

func entities(n int) []ResolvedEntity {
	out := make([]ResolvedEntity, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, resolvedEntity(fmt.Sprintf("Wine %d", i), ConfidenceHigh))
	}
	return out
}

func countSentinels(es []ResolvedEntity) int {
	n := 0
	for _, e := range es {
		if e.Sentinel {
			n++
		}
	}
	return n
}

func TestAssembler_Cardinality(t *testing.T) {
	a := NewAssembler(Window{Min: 2, Max: 4})

	tests := []struct {
		name          string
		resolved      int
		wantLen       int
		wantSentinels int
	}{
		{"none", 0, 2, 2},
		{"one", 1, 2, 1},
		{"exactly min", 2, 2, 0},
		{"exactly max", 4, 4, 0},
		{"above max", 6, 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := a.Assemble([]PendingGroup{{
				Parent:   ParentRecord{Kind: KindDish, Name: "Steak"},
				Entities: entities(tt.resolved),
			}})
			require.Len(t, groups, 1)
			got := groups[0].Entities
			assert.Len(t, got, tt.wantLen)
			assert.Equal(t, tt.wantSentinels, countSentinels(got))
			assert.GreaterOrEqual(t, len(got), a.Window().Min)
			assert.LessOrEqual(t, len(got), a.Window().Max)
		})
	}

	t.Run("truncation keeps leading entries", func(t *testing.T) {
		groups := a.Assemble([]PendingGroup{{Entities: entities(6)}})
		names := make([]string, 0, 4)
		for _, e := range groups[0].Entities {
			names = append(names, e.Name)
		}
		assert.Equal(t, []string{"Wine 0", "Wine 1", "Wine 2", "Wine 3"}, names)
	})
}

func TestAssembler_ThreeSlotsOneMatch(t *testing.T) {
	a := NewAssembler(Window{Min: 3, Max: 3})
	groups := a.Assemble([]PendingGroup{{
		Parent: ParentRecord{Kind: KindDish, Name: "Oysters"},
		Entities: []ResolvedEntity{
			unresolvedEntity("Imaginary Chablis"),
			resolvedEntity("Sancerre", ConfidenceHigh),
			unresolvedEntity("Made Up Muscadet"),
		},
	}})

	got := groups[0].Entities
	require.Len(t, got, 3)
	assert.Equal(t, "Sancerre", got[0].Name)
	assert.False(t, got[0].Sentinel)
	for _, e := range got[1:] {
		assert.True(t, e.Sentinel)
		assert.Equal(t, SentinelName, e.Name)
		assert.Equal(t, MatchSentinel, e.MatchTier)
	}
}

func TestAssembler_Dedupe(t *testing.T) {
	a := NewAssembler(Window{Min: 1, Max: 5})
	groups := a.Assemble([]PendingGroup{{
		Entities: []ResolvedEntity{
			resolvedEntity("Opus One", ConfidenceLow),
			resolvedEntity("Sancerre", ConfidenceMedium),
			resolvedEntity("opus one", ConfidenceHigh),
			resolvedEntity("Sancerre", ConfidenceMedium),
		},
	}})

	got := groups[0].Entities
	require.Len(t, got, 2)
	assert.Equal(t, "Sancerre", got[0].Name)
	assert.Equal(t, "opus one", got[1].Name)
	assert.Equal(t, ConfidenceHigh, got[1].Confidence)
}

func TestAssembler_ExplicitSentinelsKept(t *testing.T) {
	a := NewAssembler(Window{Min: 1, Max: 3})
	groups := a.Assemble([]PendingGroup{{
		Entities: []ResolvedEntity{
			NewSentinel("No suitable match"),
			resolvedEntity("Sancerre", ConfidenceHigh),
			NewSentinel("none"),
		},
	}})

	got := groups[0].Entities
	require.Len(t, got, 3)
	assert.Equal(t, 2, countSentinels(got))
	assert.Equal(t, "Sancerre", got[1].Name)
}

func TestAssembler_ZeroMinimum(t *testing.T) {
	t.Run("empty group still gets one sentinel", func(t *testing.T) {
		groups := NewAssembler(Window{Min: 0, Max: 3}).Assemble([]PendingGroup{{}})
		require.Len(t, groups[0].Entities, 1)
		assert.True(t, groups[0].Entities[0].Sentinel)
	})

	t.Run("zero maximum stays empty", func(t *testing.T) {
		groups := NewAssembler(Window{Min: 0, Max: 0}).Assemble([]PendingGroup{{Entities: entities(2)}})
		assert.Empty(t, groups[0].Entities)
	})

	t.Run("non empty group is not padded", func(t *testing.T) {
		groups := NewAssembler(Window{Min: 0, Max: 3}).Assemble([]PendingGroup{{Entities: entities(1)}})
		require.Len(t, groups[0].Entities, 1)
		assert.False(t, groups[0].Entities[0].Sentinel)
	})
}

func TestAssembler_WindowNormalized(t *testing.T) {
	assert.Equal(t, Window{Min: 0, Max: 0}, NewAssembler(Window{Min: -2, Max: -1}).Window())
	assert.Equal(t, Window{Min: 3, Max: 3}, NewAssembler(Window{Min: 3, Max: 1}).Window())
}

func TestAssembler_PreservesGroupOrder(t *testing.T) {
	a := NewAssembler(Window{Min: 1, Max: 3})
	groups := a.Assemble([]PendingGroup{
		{Parent: ParentRecord{Name: "First"}},
		{Parent: ParentRecord{Name: "Second"}, Entities: entities(1)},
	})
	require.Len(t, groups, 2)
	assert.Equal(t, "First", groups[0].Parent.Name)
	assert.Equal(t, "Second", groups[1].Parent.Name)
}
