package blocks

import (
	"context"
	"sort"
	"sync"
)

// Page is one forward page of blocks.
type Page struct {
	Blocks []BlockData
	// Cursor is the height to resume after. It equals the request cursor
	// when the page is empty.
	Cursor  uint64
	HasNext bool
}

// Source pages blocks in strictly increasing height order. Fetch returns
// blocks with height greater than cursor.
type Source interface {
	Fetch(ctx context.Context, cursor uint64, pageSize int) (Page, error)
}

// MemorySource serves blocks from memory. Blocks may be appended while it is
// being read, which lets tests model a chain that grows.
type MemorySource struct {
	mu     sync.Mutex
	blocks []BlockData
}

// NewMemorySource returns a source over blocks, sorted by height.
func NewMemorySource(blocks ...BlockData) *MemorySource {
	s := &MemorySource{}
	s.Append(blocks...)
	return s
}

// Append adds blocks to the chain.
func (s *MemorySource) Append(blocks ...BlockData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, blocks...)
	sort.Slice(s.blocks, func(i, j int) bool { return s.blocks[i].Height < s.blocks[j].Height })
}

func (s *MemorySource) Fetch(ctx context.Context, cursor uint64, pageSize int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := sort.Search(len(s.blocks), func(i int) bool { return s.blocks[i].Height > cursor })
	end := len(s.blocks)
	if pageSize > 0 && start+pageSize < end {
		end = start + pageSize
	}
	page := Page{
		Blocks:  append([]BlockData(nil), s.blocks[start:end]...),
		Cursor:  cursor,
		HasNext: end < len(s.blocks),
	}
	if len(page.Blocks) > 0 {
		page.Cursor = page.Blocks[len(page.Blocks)-1].Height
	}
	return page, nil
}
