package pager

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func render(items []Item) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.String()
	}
	return strings.Join(parts, " ")
}

func TestTotalPages(t *testing.T) {
	for _, size := range []int{1, 3, 10} {
		for n := 0; n <= 35; n++ {
			p := New[int](WithPageSize(size))
			p.SetResults(seq(n))

			want := (n + size - 1) / size
			assert.Equal(t, want, p.TotalPages(), "n=%d size=%d", n, size)
			assert.Equal(t, n == 0, p.TotalPages() == 0, "n=%d size=%d", n, size)
			assert.Equal(t, 1, p.CurrentPage())
		}
	}
}

func TestPagesReassembleInput(t *testing.T) {
	for _, size := range []int{1, 4, 10} {
		for _, n := range []int{0, 1, 9, 10, 11, 23, 40} {
			p := New[int](WithPageSize(size))
			in := seq(n)
			p.SetResults(in)

			var got []int
			for page := 1; page <= p.TotalPages(); page++ {
				items, ok := p.Page(page)
				require.True(t, ok, "page %d of %d", page, p.TotalPages())
				assert.Len(t, items, min(size, n-(page-1)*size))
				got = append(got, items...)
			}
			if n == 0 {
				assert.Empty(t, got)
				continue
			}
			if diff := cmp.Diff(in, got); diff != "" {
				t.Errorf("size=%d n=%d reassembled mismatch (-want +got):\n%s", size, n, diff)
			}
		}
	}
}

func TestPageOutOfRangeDoesNotMove(t *testing.T) {
	p := New[int]()
	p.SetResults(seq(23))
	_, ok := p.Page(2)
	require.True(t, ok)

	for _, n := range []int{0, -1, 4, 100} {
		items, ok := p.Page(n)
		assert.False(t, ok, "Page(%d)", n)
		assert.Nil(t, items)
		assert.Equal(t, 2, p.CurrentPage(), "Page(%d) moved cursor", n)
	}
}

func TestEmptyResults(t *testing.T) {
	p := New[string]()
	p.SetResults(nil)

	_, ok := p.Page(1)
	assert.False(t, ok)
	_, ok = p.Next()
	assert.False(t, ok)
	_, ok = p.Previous()
	assert.False(t, ok)
	assert.Empty(t, p.Current())
	assert.Empty(t, p.VisiblePages())
	assert.Equal(t, Window{CurrentPage: 1}, p.Window())
}

func TestNextPreviousBoundaries(t *testing.T) {
	p := New[int]()
	p.SetResults(seq(23))

	_, ok := p.Previous()
	assert.False(t, ok, "Previous on first page")
	assert.Equal(t, 1, p.CurrentPage())

	items, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, seq(20)[10:], items)

	items, ok = p.Next()
	require.True(t, ok)
	assert.Equal(t, []int{21, 22, 23}, items)

	_, ok = p.Next()
	assert.False(t, ok, "Next on last page")
	assert.Equal(t, 3, p.CurrentPage())

	_, ok = p.Previous()
	require.True(t, ok)
	assert.Equal(t, 2, p.CurrentPage())
}

func TestWindow(t *testing.T) {
	p := New[int]()
	p.SetResults(seq(23))
	_, ok := p.Page(2)
	require.True(t, ok)

	assert.Equal(t, Window{
		CurrentPage:  2,
		TotalPages:   3,
		TotalResults: 23,
		StartIndex:   11,
		EndIndex:     20,
		HasPrevious:  true,
		HasNext:      true,
	}, p.Window())

	p.Page(3)
	w := p.Window()
	assert.Equal(t, 21, w.StartIndex)
	assert.Equal(t, 23, w.EndIndex)
	assert.False(t, w.HasNext)
}

func TestSetResultsResetsAndCopies(t *testing.T) {
	p := New[int]()
	in := seq(30)
	p.SetResults(in)
	p.Page(3)

	in[0] = 999
	p.SetResults(seq(5))
	assert.Equal(t, 1, p.CurrentPage())
	assert.Equal(t, 1, p.TotalPages())
	assert.Equal(t, seq(5), p.Current())
}

func TestVisiblePages(t *testing.T) {
	tests := []struct {
		name  string
		total int
		cur   int
		want  string
	}{
		{"single", 1, 1, "1"},
		{"all fit", 7, 4, "1 2 3 4 5 6 7"},
		{"first page widened", 10, 1, "1 2 3 4 … 10"},
		{"third page widened", 10, 3, "1 2 3 4 … 10"},
		{"middle", 10, 5, "1 … 4 5 6 … 10"},
		{"near end shifted", 10, 8, "1 … 7 8 9 10"},
		{"last page shifted", 10, 10, "1 … 7 8 9 10"},
		{"boundary total", 8, 4, "1 … 3 4 5 … 8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New[int](WithPageSize(1))
			p.SetResults(seq(tt.total))
			_, ok := p.Page(tt.cur)
			require.True(t, ok)
			assert.Equal(t, tt.want, render(p.VisiblePages()))
		})
	}
}

func TestVisiblePagesMarksSelected(t *testing.T) {
	p := New[int](WithPageSize(1))
	p.SetResults(seq(10))
	p.Page(5)

	var selected []int
	for _, it := range p.VisiblePages() {
		if it.Selected {
			selected = append(selected, it.Page)
		}
	}
	assert.Equal(t, []int{5}, selected)
}

func TestVisiblePagesSmallMaxVisible(t *testing.T) {
	tests := []struct {
		name       string
		maxVisible int
		total      int
		cur        int
		want       string
	}{
		{"second page", 1, 4, 2, "1 2 3 4"},
		{"first page", 1, 4, 1, "1 2 3 4"},
		{"last page", 1, 4, 4, "1 2 3 4"},
		{"first page of five", 2, 5, 1, "1 2 3 4 5"},
		{"last page of five", 2, 5, 5, "1 2 3 4 5"},
		{"real gap after window", 1, 6, 3, "1 2 3 4 … 6"},
		{"real gap before window", 1, 6, 5, "1 … 3 4 5 6"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New[int](WithPageSize(1), WithMaxVisible(tt.maxVisible))
			p.SetResults(seq(tt.total))
			_, ok := p.Page(tt.cur)
			require.True(t, ok)
			assert.Equal(t, tt.want, render(p.VisiblePages()))
		})
	}
}

func TestVisiblePagesNeverElidesAdjacentPages(t *testing.T) {
	for maxVisible := 1; maxVisible <= 6; maxVisible++ {
		for total := 1; total <= 15; total++ {
			p := New[int](WithPageSize(1), WithMaxVisible(maxVisible))
			p.SetResults(seq(total))
			for cur := 1; cur <= total; cur++ {
				p.Page(cur)
				items := p.VisiblePages()
				for i, it := range items {
					if !it.Elided {
						continue
					}
					require.Greater(t, i, 0)
					require.Less(t, i, len(items)-1)
					gap := items[i+1].Page - items[i-1].Page
					assert.Greater(t, gap, 1, "max=%d total=%d cur=%d: %s",
						maxVisible, total, cur, render(items))
				}
			}
		}
	}
}

func TestNewPanicsOnInvalidOptions(t *testing.T) {
	assert.Panics(t, func() { New[int](WithPageSize(0)) })
	assert.Panics(t, func() { New[int](WithPageSize(-3)) })
	assert.Panics(t, func() { New[int](WithMaxVisible(0)) })
}
