package pmm

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
)

// newTestArena junk-fills a buffer that models physical memory and
// initializes an allocator over it. The returned arena start is the address
// of the first managed page; the allocator reserves one page at the top of
// the arena for its bitmap, leaving pageCount usable pages.
func newTestArena(t *testing.T, pageCount uint64) (*BitmapAllocator, uintptr, []byte) {
	t.Helper()

	// One extra page for the bitmap plus one to absorb alignment of the
	// buffer's base address.
	buf := make([]byte, (uintptr(pageCount)+2)*mm.PageSize)
	for i := 0; i < len(buf); i++ {
		buf[i] = 0xf0
	}

	kernelEnd := uintptr(unsafe.Pointer(&buf[0]))
	arenaStart := alignUp(kernelEnd, mm.PageSize)
	ramTop := arenaStart + (uintptr(pageCount)+1)*mm.PageSize

	var alloc BitmapAllocator
	require.Nil(t, alloc.Init(kernelEnd, ramTop))
	require.Equal(t, pageCount+1, alloc.TotalPages())
	require.Equal(t, pageCount, alloc.FreePages())

	return &alloc, arenaStart, buf
}

// freeBitCount returns the number of frames the bitmap flags as free.
func freeBitCount(alloc *BitmapAllocator) uint64 {
	var count uint64
	for index := uint64(0); index < alloc.totalPages; index++ {
		if !alloc.indexReserved(index) {
			count++
		}
	}
	return count
}

func TestAllocatorInitErrors(t *testing.T) {
	var alloc BitmapAllocator

	// Empty and inverted arenas must be reported, not silently accepted.
	require.Equal(t, errNoUsableMemory, alloc.Init(0x80217000, 0x80217000))
	require.Equal(t, errNoUsableMemory, alloc.Init(0x80217000, 0x80100000))

	// A single-page arena is fully consumed by the bitmap.
	buf := make([]byte, 2*mm.PageSize)
	kernelEnd := uintptr(unsafe.Pointer(&buf[0]))
	ramTop := alignUp(kernelEnd, mm.PageSize) + mm.PageSize
	require.Equal(t, errNoUsableMemory, alloc.Init(kernelEnd, ramTop))
}

func TestAllocFrameSequential(t *testing.T) {
	alloc, arenaStart, buf := newTestArena(t, 8)
	defer func() { _ = buf }()

	// Allocations are handed out lowest-address-first starting at the
	// aligned end of the kernel image.
	first, err := alloc.AllocFrame()
	require.Nil(t, err)
	require.Equal(t, arenaStart, first.Address())

	second, err := alloc.AllocFrame()
	require.Nil(t, err)
	require.Equal(t, arenaStart+mm.PageSize, second.Address())

	assert.Equal(t, uint64(6), alloc.FreePages())
}

func TestAllocFrameZeroFill(t *testing.T) {
	alloc, _, buf := newTestArena(t, 4)
	defer func() { _ = buf }()

	frame, err := alloc.AllocFrame()
	require.Nil(t, err)

	page := unsafe.Slice((*byte)(unsafe.Pointer(frame.Address())), mm.PageSize)
	for i := 0; i < len(page); i++ {
		require.Zerof(t, page[i], "expected allocated page to be zero-filled at offset %d", i)
	}

	// Dirty the page, recycle it and verify the next tenant cannot observe
	// the previous content.
	for i := 0; i < len(page); i++ {
		page[i] = 0xa5
	}
	require.Nil(t, alloc.FreeFrame(frame))

	again, err := alloc.AllocFrame()
	require.Nil(t, err)
	require.Equal(t, frame, again)
	for i := 0; i < len(page); i++ {
		require.Zerof(t, page[i], "expected recycled page to be zero-filled at offset %d", i)
	}
}

func TestAllocFrameExhaustion(t *testing.T) {
	alloc, _, buf := newTestArena(t, 4)
	defer func() { _ = buf }()

	for i := 0; i < 4; i++ {
		_, err := alloc.AllocFrame()
		require.Nil(t, err)
	}
	require.Zero(t, alloc.FreePages())

	// Exhaustion is a checked result: the sentinel frame is invalid and
	// the free page count must not wrap around.
	frame, err := alloc.AllocFrame()
	require.Equal(t, errOutOfMemory, err)
	require.False(t, frame.Valid())
	require.Zero(t, alloc.FreePages())
}

func TestFreeFrameRestoresCount(t *testing.T) {
	alloc, _, buf := newTestArena(t, 8)
	defer func() { _ = buf }()

	before := alloc.FreePages()

	frame, err := alloc.AllocFrame()
	require.Nil(t, err)
	require.Equal(t, before-1, alloc.FreePages())

	require.Nil(t, alloc.FreeFrame(frame))
	require.Equal(t, before, alloc.FreePages())

	// The freed frame is the next one handed out.
	again, err := alloc.AllocFrame()
	require.Nil(t, err)
	assert.Equal(t, frame, again)
}

func TestFreeFrameInvalid(t *testing.T) {
	defer kfmt.SetOutputSink(nil)

	alloc, _, buf := newTestArena(t, 4)
	defer func() { _ = buf }()

	var out bytes.Buffer
	kfmt.SetOutputSink(&out)

	before := alloc.FreePages()

	t.Run("zero page", func(t *testing.T) {
		out.Reset()
		require.Equal(t, errUnmanagedFrame, alloc.FreeFrame(mm.FrameFromAddress(0)))
		assert.Equal(t, before, alloc.FreePages())
		assert.Contains(t, out.String(), "zero page")
	})

	t.Run("unmanaged frame", func(t *testing.T) {
		out.Reset()
		require.Equal(t, errUnmanagedFrame, alloc.FreeFrame(alloc.endFrame+1))
		assert.Equal(t, before, alloc.FreePages())
		assert.Contains(t, out.String(), "unmanaged frame")
	})

	t.Run("double free", func(t *testing.T) {
		frame, err := alloc.AllocFrame()
		require.Nil(t, err)
		require.Nil(t, alloc.FreeFrame(frame))

		out.Reset()
		require.Equal(t, errDoubleFree, alloc.FreeFrame(frame))
		assert.Equal(t, before, alloc.FreePages())
		assert.Contains(t, out.String(), "double free")
	})
}

func TestAllocFramesContiguous(t *testing.T) {
	alloc, _, buf := newTestArena(t, 8)
	defer func() { _ = buf }()

	first, err := alloc.AllocFrames(3)
	require.Nil(t, err)
	require.Equal(t, uint64(5), alloc.FreePages())

	// Address differences across the run must be exactly one page.
	for offset := mm.Frame(0); offset < 3; offset++ {
		frame := first + offset
		require.Equal(t, first.Address()+uintptr(offset)*mm.PageSize, frame.Address())

		page := unsafe.Slice((*byte)(unsafe.Pointer(frame.Address())), mm.PageSize)
		for i := 0; i < len(page); i++ {
			require.Zerof(t, page[i], "expected page %d of the run to be zero-filled at offset %d", offset, i)
		}
	}

	// The run must not overlap subsequent allocations.
	next, err := alloc.AllocFrame()
	require.Nil(t, err)
	require.Equal(t, first+3, next)
}

func TestAllocFramesErrors(t *testing.T) {
	alloc, _, buf := newTestArena(t, 6)
	defer func() { _ = buf }()

	// A zero-page request is a caller bug and must fail loudly instead of
	// silently succeeding with a different count.
	frame, err := alloc.AllocFrames(0)
	require.Equal(t, errZeroPageCount, err)
	require.False(t, frame.Valid())

	// Requests beyond the free page count fail without touching state.
	frame, err = alloc.AllocFrames(7)
	require.Equal(t, errOutOfMemory, err)
	require.False(t, frame.Valid())
	require.Equal(t, uint64(6), alloc.FreePages())

	// Fragment the arena: reserve everything, then free alternating frames
	// so no run of 2 free frames exists.
	frames := make([]mm.Frame, 6)
	for i := range frames {
		frames[i], err = alloc.AllocFrame()
		require.Nil(t, err)
	}
	for i := 0; i < len(frames); i += 2 {
		require.Nil(t, alloc.FreeFrame(frames[i]))
	}
	require.Equal(t, uint64(3), alloc.FreePages())

	// Enough free pages exist but no contiguous run; the request must fail
	// rather than return a partial or scattered result.
	frame, err = alloc.AllocFrames(2)
	require.Equal(t, errOutOfMemory, err)
	require.False(t, frame.Valid())
	require.Equal(t, uint64(3), alloc.FreePages())

	// A single-frame request still succeeds.
	frame, err = alloc.AllocFrames(1)
	require.Nil(t, err)
	require.Equal(t, frames[0], frame)
}

func TestFreePagesMatchesBitmap(t *testing.T) {
	alloc, _, buf := newTestArena(t, 16)
	defer func() { _ = buf }()

	var (
		live      []mm.Frame
		allocated uint64
	)

	checkInvariants := func() {
		require.Equal(t, alloc.FreePages(), freeBitCount(alloc))
		require.Equal(t, allocated, alloc.TotalPages()-alloc.FreePages()-1) // -1 for the bitmap page
		require.LessOrEqual(t, alloc.FreePages(), alloc.TotalPages())
	}

	checkInvariants()

	for i := 0; i < 10; i++ {
		frame, err := alloc.AllocFrame()
		require.Nil(t, err)
		live = append(live, frame)
		allocated++
		checkInvariants()
	}

	for i := 0; i < 5; i++ {
		require.Nil(t, alloc.FreeFrame(live[i]))
		allocated--
		checkInvariants()
	}

	_, err := alloc.AllocFrames(4)
	require.Nil(t, err)
	allocated += 4
	checkInvariants()
}

func TestPackageInit(t *testing.T) {
	defer func() {
		frameAllocator = BitmapAllocator{}
	}()

	buf := make([]byte, 6*mm.PageSize)
	for i := 0; i < len(buf); i++ {
		buf[i] = 0xf0
	}
	kernelEnd := uintptr(unsafe.Pointer(&buf[0]))
	arenaStart := alignUp(kernelEnd, mm.PageSize)
	ramTop := arenaStart + 5*mm.PageSize

	require.Nil(t, Init(kernelEnd, ramTop))

	// Init must register the kernel allocator instance as the system frame
	// allocator and releaser.
	frame, err := mm.AllocFrame()
	require.Nil(t, err)
	require.Equal(t, arenaStart, frame.Address())
	require.Nil(t, mm.FreeFrame(frame))
	require.Equal(t, uint64(4), frameAllocator.FreePages())
}
