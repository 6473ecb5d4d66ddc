package layout

import (
	"math/rand"
	"testing"

	"collaborative-page-builder/internal/domain"
	apiError "collaborative-page-builder/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func band(id, page uint64, typ domain.ComponentType, start int) Band {
	return Band{ComponentID: id, PageID: page, Type: typ, RowStart: start, RowEnd: start + BandHeight - 1}
}

// apply folds a plan back into the band set, the way the component service
// persists it.
func apply(t *testing.T, plan Plan) []Band {
	t.Helper()
	require.NoError(t, Validate(plan.Result))
	return plan.Result
}

func rows(bands []Band) map[uint64][2]int {
	out := make(map[uint64][2]int, len(bands))
	for _, b := range bands {
		out[b.ComponentID] = [2]int{b.RowStart, b.RowEnd}
	}
	return out
}

func TestPlaceStructural_BuildsStackAndRemovalCloses(t *testing.T) {
	bands := []Band{
		band(1, 10, domain.TypeHeader, 1),
		band(2, 10, domain.TypeSection, 3),
	}

	plan, err := PlaceStructural(bands, Band{ComponentID: 3, PageID: 10, Type: domain.TypeSection})
	require.NoError(t, err)
	assert.Equal(t, 5, plan.Band.RowStart)
	assert.Equal(t, 6, plan.Band.RowEnd)
	assert.Empty(t, plan.Shifts)
	bands = apply(t, plan)

	plan, err = PlaceStructural(bands, Band{ComponentID: 4, PageID: 10, Type: domain.TypeFooter})
	require.NoError(t, err)
	assert.Equal(t, [2]int{7, 8}, [2]int{plan.Band.RowStart, plan.Band.RowEnd})
	assert.Empty(t, plan.Superseded)
	bands = apply(t, plan)

	plan, err = RemoveStructural(bands, 2)
	require.NoError(t, err)
	bands = apply(t, plan)

	assert.Equal(t, map[uint64][2]int{
		1: {1, 2},
		3: {3, 4},
		4: {5, 6},
	}, rows(bands))
	assert.Len(t, plan.Shifts, 2)
}

func TestPlaceStructural_HeaderPushesSectionsDown(t *testing.T) {
	bands := []Band{
		band(1, 10, domain.TypeSection, 1),
		band(2, 11, domain.TypeSection, 3),
	}

	plan, err := PlaceStructural(bands, Band{ComponentID: 3, PageID: 12, Type: domain.TypeHeader})
	require.NoError(t, err)

	assert.Equal(t, 1, plan.Band.RowStart)
	require.Len(t, plan.Shifts, 2)
	for _, s := range plan.Shifts {
		assert.Equal(t, s.FromStart+BandHeight, s.RowStart)
	}
	assert.Equal(t, []uint64{10, 11, 12}, plan.Pages())
}

func TestPlaceStructural_SectionPushesFooter(t *testing.T) {
	bands := []Band{
		band(1, 10, domain.TypeHeader, 1),
		band(2, 10, domain.TypeFooter, 3),
	}

	plan, err := PlaceStructural(bands, Band{ComponentID: 3, PageID: 10, Type: domain.TypeSection})
	require.NoError(t, err)

	assert.Equal(t, 3, plan.Band.RowStart)
	require.Len(t, plan.Shifts, 1)
	assert.Equal(t, Shift{ComponentID: 2, PageID: 10, Type: domain.TypeFooter, FromStart: 3, RowStart: 5, RowEnd: 6}, plan.Shifts[0])
}

func TestPlaceStructural_FooterSupersedesPrevious(t *testing.T) {
	bands := []Band{
		band(1, 10, domain.TypeHeader, 1),
		band(2, 10, domain.TypeSection, 3),
		band(3, 10, domain.TypeFooter, 5),
	}

	plan, err := PlaceStructural(bands, Band{ComponentID: 4, PageID: 11, Type: domain.TypeFooter})
	require.NoError(t, err)

	assert.Equal(t, 5, plan.Band.RowStart)
	require.Len(t, plan.Superseded, 1)
	assert.Equal(t, uint64(3), plan.Superseded[0].ComponentID)
	assert.Empty(t, plan.Shifts)
	assert.NotContains(t, rows(plan.Result), uint64(3))
}

func TestPlaceStructural_RejectsSecondHeader(t *testing.T) {
	bands := []Band{band(1, 10, domain.TypeHeader, 1)}

	_, err := PlaceStructural(bands, Band{ComponentID: 2, PageID: 10, Type: domain.TypeHeader})
	assert.ErrorIs(t, err, ErrDuplicateHeader)
}

func TestPlaceStructural_RejectsLeaf(t *testing.T) {
	_, err := PlaceStructural(nil, Band{ComponentID: 1, PageID: 10, Type: domain.TypeText})
	assert.ErrorIs(t, err, ErrNotStructural)
}

func TestPlaceStructural_FirstSectionOnEmptySite(t *testing.T) {
	plan, err := PlaceStructural(nil, Band{ComponentID: 1, PageID: 10, Type: domain.TypeSection})
	require.NoError(t, err)
	assert.Equal(t, Band{ComponentID: 1, PageID: 10, Type: domain.TypeSection, RowStart: 1, RowEnd: 2}, plan.Band)
	assert.Equal(t, Rect{RowStart: 1, RowEnd: 2, ColStart: MinCol, ColEnd: MaxCol}, RectOf(plan.Position()))
}

func TestRemoveStructural_Header(t *testing.T) {
	bands := []Band{
		band(1, 10, domain.TypeHeader, 1),
		band(2, 10, domain.TypeSection, 3),
		band(3, 10, domain.TypeFooter, 5),
	}

	plan, err := RemoveStructural(bands, 1)
	require.NoError(t, err)
	assert.Equal(t, map[uint64][2]int{2: {1, 2}, 3: {3, 4}}, rows(plan.Result))
}

func TestRemoveStructural_FooterShiftsNothing(t *testing.T) {
	bands := []Band{
		band(1, 10, domain.TypeHeader, 1),
		band(2, 10, domain.TypeFooter, 3),
	}

	plan, err := RemoveStructural(bands, 2)
	require.NoError(t, err)
	assert.Empty(t, plan.Shifts)
}

func TestRemoveStructural_Unknown(t *testing.T) {
	_, err := RemoveStructural([]Band{band(1, 10, domain.TypeSection, 1)}, 9)
	assert.ErrorIs(t, err, ErrUnknownComponent)
}

func TestRemoveStructural_RepairsGaps(t *testing.T) {
	bands := []Band{
		band(1, 10, domain.TypeSection, 3),
		band(2, 10, domain.TypeSection, 9),
		band(3, 10, domain.TypeSection, 11),
	}

	plan, err := RemoveStructural(bands, 2)
	require.NoError(t, err)
	assert.Equal(t, map[uint64][2]int{1: {1, 2}, 3: {3, 4}}, rows(plan.Result))
}

func TestRemoveStructural_Many(t *testing.T) {
	bands := []Band{
		band(1, 10, domain.TypeHeader, 1),
		band(2, 11, domain.TypeSection, 3),
		band(3, 10, domain.TypeSection, 5),
		band(4, 11, domain.TypeSection, 7),
		band(5, 10, domain.TypeFooter, 9),
	}

	plan, err := RemoveStructural(bands, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, map[uint64][2]int{1: {1, 2}, 3: {3, 4}, 5: {5, 6}}, rows(plan.Result))
	assert.Equal(t, []uint64{10}, plan.Pages())
}

func sectionsStack() []Band {
	return []Band{
		band(1, 10, domain.TypeHeader, 1),
		band(2, 10, domain.TypeSection, 3),
		band(3, 11, domain.TypeSection, 5),
		band(4, 11, domain.TypeSection, 7),
		band(5, 10, domain.TypeFooter, 9),
	}
}

func TestReposition_SectionDown(t *testing.T) {
	plan, err := Reposition(sectionsStack(), 2, 5)
	require.NoError(t, err)

	assert.Equal(t, 5, plan.Band.RowStart)
	assert.Equal(t, map[uint64][2]int{
		1: {1, 2}, 3: {3, 4}, 2: {5, 6}, 4: {7, 8}, 5: {9, 10},
	}, rows(plan.Result))
	require.Len(t, plan.Shifts, 1)
	assert.Equal(t, uint64(3), plan.Shifts[0].ComponentID)
}

func TestReposition_SectionUp(t *testing.T) {
	plan, err := Reposition(sectionsStack(), 4, 3)
	require.NoError(t, err)

	assert.Equal(t, map[uint64][2]int{
		1: {1, 2}, 4: {3, 4}, 2: {5, 6}, 3: {7, 8}, 5: {9, 10},
	}, rows(plan.Result))
	assert.Len(t, plan.Shifts, 2)
}

func TestReposition_SectionCannotPassHeaderOrFooter(t *testing.T) {
	plan, err := Reposition(sectionsStack(), 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, plan.Band.RowStart)

	plan, err = Reposition(sectionsStack(), 3, 40)
	require.NoError(t, err)
	assert.Equal(t, 7, plan.Band.RowStart)
	assert.Equal(t, [2]int{9, 10}, rows(plan.Result)[5])
}

func TestReposition_SameRowIsNoop(t *testing.T) {
	plan, err := Reposition(sectionsStack(), 3, 5)
	require.NoError(t, err)
	assert.Empty(t, plan.Shifts)
	assert.Equal(t, 5, plan.Band.RowStart)
}

func TestReposition_HeaderStaysPinned(t *testing.T) {
	plan, err := Reposition(sectionsStack(), 1, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.Band.RowStart)
	assert.Empty(t, plan.Shifts)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(nil))
	assert.NoError(t, Validate(sectionsStack()))

	assert.Error(t, Validate([]Band{band(1, 10, domain.TypeSection, 3)}), "gap at the top")
	assert.Error(t, Validate([]Band{
		band(1, 10, domain.TypeSection, 1),
		band(2, 10, domain.TypeHeader, 3),
	}), "header below a section")
	assert.Error(t, Validate([]Band{
		band(1, 10, domain.TypeFooter, 1),
		band(2, 10, domain.TypeSection, 3),
	}), "footer above a section")
	assert.Error(t, Validate([]Band{
		{ComponentID: 1, Type: domain.TypeSection, RowStart: 1, RowEnd: 3},
	}), "band too tall")
}

// Random interleavings of placements, removals and moves must always leave
// a valid stack behind.
func TestPlanner_KeepsStackValid(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	types := []domain.ComponentType{domain.TypeHeader, domain.TypeSection, domain.TypeSection, domain.TypeFooter}

	var bands []Band
	next := uint64(1)
	for i := 0; i < 500; i++ {
		var (
			plan Plan
			err  error
		)
		switch op := rng.Intn(3); {
		case op == 0 || len(bands) == 0:
			typ := types[rng.Intn(len(types))]
			plan, err = PlaceStructural(bands, Band{ComponentID: next, PageID: uint64(rng.Intn(3) + 1), Type: typ})
			next++
			if typ == domain.TypeHeader && err != nil {
				require.ErrorIs(t, err, ErrDuplicateHeader)
				continue
			}
		case op == 1:
			plan, err = RemoveStructural(bands, bands[rng.Intn(len(bands))].ComponentID)
		default:
			plan, err = Reposition(bands, bands[rng.Intn(len(bands))].ComponentID, rng.Intn(2*len(bands)+2)+1)
		}
		require.NoError(t, err)
		bands = apply(t, plan)
	}
}

func TestValidateRect(t *testing.T) {
	cases := []struct {
		name  string
		rect  Rect
		valid bool
	}{
		{name: "default", rect: DefaultLeafRect, valid: true},
		{name: "full width", rect: Rect{RowStart: 1, RowEnd: 2, ColStart: 1, ColEnd: 13}, valid: true},
		{name: "with spans", rect: Rect{RowStart: 4, RowEnd: 9, ColStart: 3, ColEnd: 7, RowEndSpan: 2, ColEndSpan: 1}, valid: true},
		{name: "column past grid", rect: Rect{RowStart: 1, RowEnd: 2, ColStart: 1, ColEnd: 14}},
		{name: "column zero", rect: Rect{RowStart: 1, RowEnd: 2, ColStart: 0, ColEnd: 3}},
		{name: "inverted columns", rect: Rect{RowStart: 1, RowEnd: 2, ColStart: 5, ColEnd: 5}},
		{name: "inverted rows", rect: Rect{RowStart: 3, RowEnd: 3, ColStart: 1, ColEnd: 2}},
		{name: "row zero", rect: Rect{RowStart: 0, RowEnd: 2, ColStart: 1, ColEnd: 2}},
		{name: "negative span", rect: Rect{RowStart: 1, RowEnd: 2, ColStart: 1, ColEnd: 2, ColEndSpan: -1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRect(tc.rect)
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apiError.IsValidation(err), "got %v", err)
		})
	}
}
