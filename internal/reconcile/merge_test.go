package reconcile

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matheus3301/smsdesk/internal/model"
)

func msgs(names ...string) []model.Message {
	out := make([]model.Message, len(names))
	for i, n := range names {
		out[i] = model.Message{ID: n}
	}
	return out
}

func rng(from, to int) []string {
	var out []string
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf("m%d", i))
	}
	return out
}

func idsOf(ms []model.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func TestMergeWindowOverlap(t *testing.T) {
	existing := msgs(rng(1, 10)...)
	fresh := msgs(rng(8, 11)...)

	got := MergeWindow(existing, fresh)
	require.Equal(t, rng(1, 11), idsOf(got))
}

func TestMergeWindowEmpty(t *testing.T) {
	require.Equal(t, rng(1, 3), idsOf(MergeWindow(nil, msgs(rng(1, 3)...))))
	require.Equal(t, rng(1, 3), idsOf(MergeWindow(msgs(rng(1, 3)...), nil)))
}

func TestMergeWindowKeepsTransientRows(t *testing.T) {
	tmp := model.TransientPrefix + "a"
	existing := msgs("m1", "m2", tmp)
	got := MergeWindow(existing, msgs("m2", "m3"))
	require.Equal(t, []string{"m1", tmp, "m2", "m3"}, idsOf(got))
}

func TestMergeWindowDoesNotMutateInputs(t *testing.T) {
	existing := msgs("m1", "m2")
	fresh := msgs("m2", "m3")
	_ = MergeWindow(existing, fresh)
	require.Equal(t, []string{"m1", "m2"}, idsOf(existing))
	require.Equal(t, []string{"m2", "m3"}, idsOf(fresh))
}

func TestMergeWindowNeverDuplicates(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		existing := randomIDs(r, 15)
		fresh := randomIDs(r, 6)

		merged := MergeWindow(msgs(existing...), msgs(fresh...))

		seen := map[string]bool{}
		for _, m := range merged {
			require.False(t, seen[m.ID], "duplicate %s in round %d", m.ID, round)
			seen[m.ID] = true
		}
		for _, id := range append(existing, fresh...) {
			require.True(t, seen[id], "lost %s in round %d", id, round)
		}
	}
}

func randomIDs(r *rand.Rand, n int) []string {
	seen := map[string]bool{}
	var out []string
	for len(out) < n {
		id := fmt.Sprintf("m%d", r.Intn(30))
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func TestSupersedeTransients(t *testing.T) {
	tmpA := model.TransientPrefix + "a"
	tmpB := model.TransientPrefix + "b"
	in := []model.Message{
		{ID: "m1"},
		{ID: tmpA, Body: "hi"},
		{ID: tmpB, Body: "there"},
		{ID: "m2", Body: "hi", ClientRef: tmpA},
	}

	kept, gone := SupersedeTransients(in)
	require.Equal(t, []string{"m1", tmpB, "m2"}, idsOf(kept))
	require.Equal(t, []string{tmpA}, idsOf(gone))

	kept, gone = SupersedeTransients(kept)
	require.Len(t, kept, 3)
	require.Empty(t, gone)
}

func TestNewestDurable(t *testing.T) {
	m, ok := newestDurable(msgs("m1", "m2", model.TransientPrefix+"x"))
	require.True(t, ok)
	require.Equal(t, "m2", m.ID)

	_, ok = newestDurable(msgs(model.TransientPrefix + "x"))
	require.False(t, ok)
}
