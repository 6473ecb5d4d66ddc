// Package layout keeps the structural components of a website (header,
// sections, footer) on a gapless stack of row bands.
//
// Every band is BandHeight rows tall. The header, when present, owns the
// first band, sections follow in their current order and the footer, when
// present, owns the last band. Bands span every page of the website, so a
// header created on one page pushes down sections on all pages.
//
// The planner is pure: it receives the current bands and returns the new
// position of the component being placed or moved together with every
// other band that has to shift. The caller applies the plan inside the
// same transaction that holds the website lock.
package layout

import (
	"errors"
	"fmt"
	"sort"

	"collaborative-page-builder/internal/domain"
)

// BandHeight is the number of grid rows a structural band spans.
const BandHeight = 2

var (
	ErrNotStructural    = errors.New("component is not structural")
	ErrDuplicateHeader  = errors.New("website already has a header")
	ErrUnknownComponent = errors.New("component has no band on this website")
	ErrAlreadyPlaced    = errors.New("component already has a band")
)

// Band is the vertical slice one structural component occupies.
type Band struct {
	ComponentID uint64
	PageID      uint64
	Type        domain.ComponentType
	RowStart    int
	RowEnd      int
}

func (b Band) span() int {
	return b.RowEnd - b.RowStart + 1
}

// Shift moves an already placed structural component to a new band.
type Shift struct {
	ComponentID uint64
	PageID      uint64
	Type        domain.ComponentType
	FromStart   int
	RowStart    int
	RowEnd      int
}

// Plan is the outcome of a layout operation.
type Plan struct {
	// Band assigned to the placed or moved component. Zero for removals.
	Band Band
	// Other components whose band changed.
	Shifts []Shift
	// Footers replaced by a newly placed footer. The caller deletes them.
	Superseded []Band
	// Complete band sequence after the plan is applied.
	Result []Band
}

// Position renders the plan's band as a full-width grid rectangle.
func (p Plan) Position() domain.ComponentPosition {
	return domain.ComponentPosition{
		ComponentID: p.Band.ComponentID,
		RowStart:    p.Band.RowStart,
		RowEnd:      p.Band.RowEnd,
		ColStart:    MinCol,
		ColEnd:      MaxCol,
	}
}

// Pages lists the pages whose structural rows the plan touches, including
// the page of the placed or moved component.
func (p Plan) Pages() []uint64 {
	seen := make(map[uint64]struct{})
	var pages []uint64
	add := func(id uint64) {
		if id == 0 {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		pages = append(pages, id)
	}
	add(p.Band.PageID)
	for _, s := range p.Shifts {
		add(s.PageID)
	}
	for _, b := range p.Superseded {
		add(b.PageID)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	return pages
}

// stack splits the current bands by role. Sections come back in band order.
type stack struct {
	header   *Band
	sections []Band
	footers  []Band
}

func split(bands []Band) (stack, error) {
	var s stack
	for i := range bands {
		b := bands[i]
		switch b.Type {
		case domain.TypeHeader:
			if s.header != nil {
				return stack{}, fmt.Errorf("%w: components %d and %d", ErrDuplicateHeader, s.header.ComponentID, b.ComponentID)
			}
			s.header = &b
		case domain.TypeSection:
			s.sections = append(s.sections, b)
		case domain.TypeFooter:
			s.footers = append(s.footers, b)
		default:
			return stack{}, fmt.Errorf("%w: component %d is %s", ErrNotStructural, b.ComponentID, b.Type)
		}
	}
	sortBands(s.sections)
	sortBands(s.footers)
	return s, nil
}

func sortBands(bands []Band) {
	sort.SliceStable(bands, func(i, j int) bool {
		if bands[i].RowStart != bands[j].RowStart {
			return bands[i].RowStart < bands[j].RowStart
		}
		return bands[i].ComponentID < bands[j].ComponentID
	})
}

func contains(bands []Band, id uint64) bool {
	for _, b := range bands {
		if b.ComponentID == id {
			return true
		}
	}
	return false
}

// assign lays the sequence out from row 1 and reports every band, other than
// the one identified by subject, that moved.
func assign(seq []Band, subject uint64) (Plan, error) {
	var plan Plan
	row := 1
	for _, b := range seq {
		moved := b
		moved.RowStart = row
		moved.RowEnd = row + BandHeight - 1
		row += BandHeight

		if b.ComponentID == subject {
			plan.Band = moved
		} else if b.RowStart != moved.RowStart || b.RowEnd != moved.RowEnd {
			plan.Shifts = append(plan.Shifts, Shift{
				ComponentID: b.ComponentID,
				PageID:      b.PageID,
				Type:        b.Type,
				FromStart:   b.RowStart,
				RowStart:    moved.RowStart,
				RowEnd:      moved.RowEnd,
			})
		}
		plan.Result = append(plan.Result, moved)
	}
	if err := Validate(plan.Result); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func sequence(header *Band, sections []Band, footer *Band) []Band {
	seq := make([]Band, 0, len(sections)+2)
	if header != nil {
		seq = append(seq, *header)
	}
	seq = append(seq, sections...)
	if footer != nil {
		seq = append(seq, *footer)
	}
	return seq
}

// PlaceStructural assigns a band to a structural component that was just
// created. existing holds the bands of the website's other structural
// components.
//
// A header takes the first band and pushes every section down. A section
// takes the band after the last header/section band. A footer takes the band
// after the last header/section band and supersedes any previous footer.
// The footer always ends up last.
func PlaceStructural(existing []Band, placed Band) (Plan, error) {
	if !placed.Type.IsStructural() {
		return Plan{}, fmt.Errorf("%w: %s", ErrNotStructural, placed.Type)
	}
	if contains(existing, placed.ComponentID) {
		return Plan{}, fmt.Errorf("%w: component %d", ErrAlreadyPlaced, placed.ComponentID)
	}
	s, err := split(existing)
	if err != nil {
		return Plan{}, err
	}

	footer := lastFooter(s.footers)
	var superseded []Band
	if len(s.footers) > 1 {
		superseded = append(superseded, s.footers[:len(s.footers)-1]...)
	}

	var seq []Band
	switch placed.Type {
	case domain.TypeHeader:
		if s.header != nil {
			return Plan{}, fmt.Errorf("%w: component %d", ErrDuplicateHeader, s.header.ComponentID)
		}
		seq = sequence(&placed, s.sections, footer)
	case domain.TypeSection:
		seq = sequence(s.header, append(s.sections, placed), footer)
	case domain.TypeFooter:
		if footer != nil {
			superseded = append(superseded, *footer)
		}
		seq = sequence(s.header, s.sections, &placed)
	}

	plan, err := assign(seq, placed.ComponentID)
	if err != nil {
		return Plan{}, err
	}
	plan.Superseded = superseded
	return plan, nil
}

// RemoveStructural closes the gaps left by deleting structural components.
// Everything below a removed band moves up by its height and the footer is
// re-anchored right after the last remaining header/section band.
func RemoveStructural(existing []Band, removedIDs ...uint64) (Plan, error) {
	removed := make(map[uint64]struct{}, len(removedIDs))
	for _, id := range removedIDs {
		if !contains(existing, id) {
			return Plan{}, fmt.Errorf("%w: component %d", ErrUnknownComponent, id)
		}
		removed[id] = struct{}{}
	}
	remaining := make([]Band, 0, len(existing))
	for _, b := range existing {
		if _, ok := removed[b.ComponentID]; !ok {
			remaining = append(remaining, b)
		}
	}
	s, err := split(remaining)
	if err != nil {
		return Plan{}, err
	}
	footer := lastFooter(s.footers)
	plan, err := assign(sequence(s.header, s.sections, footer), 0)
	if err != nil {
		return Plan{}, err
	}
	if len(s.footers) > 1 {
		plan.Superseded = s.footers[:len(s.footers)-1]
	}
	return plan, nil
}

// Reposition moves a structural component to the band nearest targetRowStart.
// Only sections can change order; the header stays first and the footer
// last, so for them the plan only normalises the stack. A section moving
// down lands after any section already starting at the target row, a
// section moving up lands before it.
func Reposition(existing []Band, componentID uint64, targetRowStart int) (Plan, error) {
	var current *Band
	for i := range existing {
		if existing[i].ComponentID == componentID {
			current = &existing[i]
			break
		}
	}
	if current == nil {
		return Plan{}, fmt.Errorf("%w: component %d", ErrUnknownComponent, componentID)
	}

	s, err := split(existing)
	if err != nil {
		return Plan{}, err
	}
	footer := lastFooter(s.footers)

	if current.Type != domain.TypeSection {
		plan, err := assign(sequence(s.header, s.sections, footer), componentID)
		if err != nil {
			return Plan{}, err
		}
		if len(s.footers) > 1 {
			plan.Superseded = s.footers[:len(s.footers)-1]
		}
		return plan, nil
	}

	delta := targetRowStart - current.RowStart
	others := make([]Band, 0, len(s.sections)-1)
	for _, b := range s.sections {
		if b.ComponentID != componentID {
			others = append(others, b)
		}
	}
	at := sort.Search(len(others), func(i int) bool {
		if delta > 0 {
			return others[i].RowStart > targetRowStart
		}
		return others[i].RowStart >= targetRowStart
	})
	sections := make([]Band, 0, len(s.sections))
	sections = append(sections, others[:at]...)
	sections = append(sections, *current)
	sections = append(sections, others[at:]...)

	plan, err := assign(sequence(s.header, sections, footer), componentID)
	if err != nil {
		return Plan{}, err
	}
	if len(s.footers) > 1 {
		plan.Superseded = s.footers[:len(s.footers)-1]
	}
	return plan, nil
}

func lastFooter(footers []Band) *Band {
	if len(footers) == 0 {
		return nil
	}
	f := footers[len(footers)-1]
	return &f
}

// Validate checks the band invariant: bands start at row 1, are contiguous,
// never overlap, are BandHeight tall, the header is first and the footer last.
func Validate(bands []Band) error {
	sorted := append([]Band(nil), bands...)
	sortBands(sorted)

	next := 1
	headers, footers := 0, 0
	for i, b := range sorted {
		if b.span() != BandHeight {
			return fmt.Errorf("component %d spans %d rows, want %d", b.ComponentID, b.span(), BandHeight)
		}
		if b.RowStart != next {
			return fmt.Errorf("component %d starts at row %d, want %d", b.ComponentID, b.RowStart, next)
		}
		next = b.RowEnd + 1

		switch b.Type {
		case domain.TypeHeader:
			headers++
			if i != 0 {
				return fmt.Errorf("header %d is not the first band", b.ComponentID)
			}
		case domain.TypeFooter:
			footers++
			if i != len(sorted)-1 {
				return fmt.Errorf("footer %d is not the last band", b.ComponentID)
			}
		}
	}
	if headers > 1 || footers > 1 {
		return fmt.Errorf("found %d headers and %d footers", headers, footers)
	}
	return nil
}
