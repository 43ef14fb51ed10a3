package view

import (
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/modsync/internal/types"
)

func at(day int) types.Timestamp {
	return types.NewTimestamp(time.Date(2024, 5, day, 9, 0, 0, 0, time.UTC))
}

func score(v float64) *float64 { return &v }

func fixture() []types.Post {
	return []types.Post{
		{ID: 1, CreatedAt: at(3), OriginalText: "Выборы", TranslatedText: "Election results announced", ChannelName: "news", Status: types.StatusPending, QualityScore: score(0.9), Priority: 1},
		{ID: 2, CreatedAt: at(1), OriginalText: "Weather today", ChannelName: "daily", SenderName: "bot", Status: types.StatusPosted, QualityScore: score(0.4), Priority: 3},
		{ID: 3, CreatedAt: at(5), OriginalText: "Sports roundup", ChannelName: "ELECTronics fans", Status: types.StatusRejected, Priority: 2},
		{ID: 4, CreatedAt: at(2), OriginalText: "Market update", ChannelName: "finance", Status: types.StatusArchived, QualityScore: score(0.7), Priority: 2},
	}
}

func ids(posts []types.Post) []int64 {
	out := make([]int64, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

func TestAscThenDescIsReversed(t *testing.T) {
	posts := fixture()
	asc := Project(posts, Query{SortBy: SortDate, Order: Asc})
	desc := Project(posts, Query{SortBy: SortDate, Order: Desc})

	assert.Equal(t, []int64{2, 4, 1, 3}, ids(asc))
	reversed := slices.Clone(asc)
	slices.Reverse(reversed)
	if diff := cmp.Diff(reversed, desc); diff != "" {
		t.Fatalf("desc is not reversed asc (-want +got):\n%s", diff)
	}
}

func TestProjectIsIdempotent(t *testing.T) {
	queries := []Query{
		{},
		{Search: "e", SortBy: SortQuality, Order: Asc},
		{SortBy: SortPriority},
		Rejected(),
	}
	for _, q := range queries {
		once := Project(fixture(), q)
		twice := Project(once, q)
		assert.Equal(t, once, twice)
	}
}

func TestProjectDoesNotMutateInput(t *testing.T) {
	posts := fixture()
	orig := slices.Clone(posts)
	out := Project(posts, Query{SortBy: SortPriority, Order: Asc})
	require.NotEmpty(t, out)

	assert.Equal(t, orig, posts)
	out[0].ChannelName = "changed"
	assert.Equal(t, orig, posts)
}

func TestSearchMatchesAnyTextField(t *testing.T) {
	got := Project(fixture(), Query{Search: "elect", Order: Asc})
	assert.Equal(t, []int64{1, 3}, ids(got), "translated text and channel name both match")

	got = Project(fixture(), Query{Search: "BOT"})
	assert.Equal(t, []int64{2}, ids(got))

	assert.Empty(t, Project(fixture(), Query{Search: "nothing like this"}))
}

func TestSearchKeepsSurroundingSpaces(t *testing.T) {
	posts := []types.Post{
		{ID: 1, CreatedAt: at(1), OriginalText: "Polls open for the reelection"},
		{ID: 2, CreatedAt: at(2), OriginalText: "Turnout in the election was high"},
	}
	assert.Equal(t, []int64{2}, ids(Project(posts, Query{Search: " elect"})))
	assert.Equal(t, []int64{2, 1}, ids(Project(posts, Query{Search: "   "})), "blank search does not filter")
}

func TestMissingQualitySortsAsZero(t *testing.T) {
	got := Project(fixture(), Query{SortBy: SortQuality, Order: Asc})
	assert.Equal(t, []int64{3, 2, 4, 1}, ids(got))
}

func TestDescendingKeepsTiesInInputOrder(t *testing.T) {
	got := Project(fixture(), Query{SortBy: SortPriority, Order: Desc})
	assert.Equal(t, []int64{2, 3, 4, 1}, ids(got))

	got = Project(fixture(), Query{SortBy: SortPriority, Order: Asc})
	assert.Equal(t, []int64{1, 3, 4, 2}, ids(got))
}

func TestDefaultQueryIsNewestFirst(t *testing.T) {
	assert.Equal(t, []int64{3, 1, 4, 2}, ids(Project(fixture(), Query{})))
}

func TestPresetQueries(t *testing.T) {
	assert.Equal(t, []int64{2}, ids(Project(fixture(), Confirmed())))
	assert.Equal(t, []int64{3, 4}, ids(Project(fixture(), Rejected())))
}

func TestParseSortFlags(t *testing.T) {
	k, err := ParseSortKey(" Quality ")
	require.NoError(t, err)
	assert.Equal(t, SortQuality, k)

	k, err = ParseSortKey("")
	require.NoError(t, err)
	assert.Equal(t, SortDate, k)

	_, err = ParseSortKey("views")
	assert.Error(t, err)

	o, err := ParseSortOrder("ASC")
	require.NoError(t, err)
	assert.Equal(t, Asc, o)

	_, err = ParseSortOrder("sideways")
	assert.Error(t, err)
}
