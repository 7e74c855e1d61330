// Package pmm implements the kernel's physical page allocator.
package pmm

import (
	"math/bits"
	"unsafe"

	"rvos/kernel"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
)

var (
	// frameAllocator is the allocator instance that manages the physical
	// memory of the running kernel.
	frameAllocator BitmapAllocator

	errNoUsableMemory = &kernel.Error{Module: "pmm", Message: "no usable memory above the kernel image"}
	errOutOfMemory    = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errUnmanagedFrame = &kernel.Error{Module: "pmm", Message: "frame is not managed by this allocator"}
	errDoubleFree     = &kernel.Error{Module: "pmm", Message: "frame is already free"}
	errZeroPageCount  = &kernel.Error{Module: "pmm", Message: "page count must be greater than zero"}
)

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations over a single contiguous arena using a bitmap. Each bitmap bit
// corresponds to one frame; a set bit flags the frame as reserved. Frames are
// handed out lowest-address-first so allocations after boot are deterministic
// and contiguous requests can be satisfied by a first-fit scan.
//
// The bitmap is carved out of the top of the managed arena itself and its
// pages are flagged as reserved before the allocator accepts any requests.
// Keeping the bookkeeping in dedicated pages means the allocator never
// overlays metadata on the content of free pages.
//
// The allocator state is unsynchronized: it assumes a single hart and
// non-reentrant trap delivery. A multi-hart port must wrap AllocFrame,
// AllocFrames and FreeFrame in a mutual exclusion primitive.
type BitmapAllocator struct {
	// startFrame and endFrame (inclusive) delimit the managed arena.
	startFrame mm.Frame
	endFrame   mm.Frame

	// totalPages is set once by Init and is immutable afterwards.
	totalPages uint64

	// freePages tracks the number of frames that can still be handed out.
	// It always equals the number of clear bits in the bitmap.
	freePages uint64

	// bitmap tracks reserved/free frames. Bit i of word w corresponds to
	// frame startFrame + w*64 + i.
	bitmap []uint64
}

// Init sets up the allocator state for the physical memory region between the
// end of the kernel image (rounded up to the next page boundary) and the top
// of RAM (rounded down to a page boundary). It returns an error if the region
// does not contain at least one usable page.
func (alloc *BitmapAllocator) Init(kernelEnd, ramTop uintptr) *kernel.Error {
	arenaStart := alignUp(kernelEnd, mm.PageSize)
	arenaEnd := ramTop & ^(mm.PageSize - 1)
	if arenaEnd <= arenaStart {
		return errNoUsableMemory
	}

	alloc.totalPages = uint64((arenaEnd - arenaStart) >> mm.PageShift)
	alloc.startFrame = mm.FrameFromAddress(arenaStart)
	alloc.endFrame = alloc.startFrame + mm.Frame(alloc.totalPages) - 1

	bitmapWords := (alloc.totalPages + 63) >> 6
	bitmapPages := uint64(alignUp(uintptr(bitmapWords)<<3, mm.PageSize) >> mm.PageShift)
	if bitmapPages >= alloc.totalPages {
		return errNoUsableMemory
	}

	bitmapBase := arenaEnd - uintptr(bitmapPages)<<mm.PageShift
	kernel.Memset(bitmapBase, 0, uintptr(bitmapWords)<<3)
	alloc.bitmap = unsafe.Slice((*uint64)(unsafe.Pointer(bitmapBase)), bitmapWords)

	// Flag the bitmap's own pages as reserved, together with any trailing
	// bits of the last word that do not map to a frame so the allocation
	// scans cannot walk off the end of the arena.
	for index := alloc.totalPages - bitmapPages; index < bitmapWords<<6; index++ {
		alloc.bitmap[index>>6] |= 1 << (index & 63)
	}
	alloc.freePages = alloc.totalPages - bitmapPages

	kfmt.Printf("[pmm] kernel image ends at 0x%x; managed arena: 0x%x - 0x%x\n", kernelEnd, arenaStart, arenaEnd)
	kfmt.Printf("[pmm] total pages: %d, reserved for bookkeeping: %d\n", alloc.totalPages, bitmapPages)

	return nil
}

// AllocFrame reserves the lowest free frame, fills the frame's page with
// zeroes and returns it. Handing out cleared pages is a confidentiality
// guarantee: a caller must never observe data left behind by the frame's
// previous owner.
//
// AllocFrame returns (InvalidFrame, error) if all frames are reserved; the
// free page count is left untouched in that case.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	if alloc.freePages == 0 {
		return mm.InvalidFrame, errOutOfMemory
	}

	for wordIndex, word := range alloc.bitmap {
		if word == ^uint64(0) {
			continue
		}

		bitIndex := uint64(bits.TrailingZeros64(^word))
		alloc.bitmap[wordIndex] |= 1 << bitIndex
		alloc.freePages--

		frame := alloc.startFrame + mm.Frame(uint64(wordIndex)<<6+bitIndex)
		kernel.Memset(frame.Address(), 0, mm.PageSize)
		return frame, nil
	}

	// freePages disagrees with the bitmap contents; this cannot happen
	// unless the allocator state has been corrupted.
	return mm.InvalidFrame, errOutOfMemory
}

// AllocFrames reserves a contiguous run of count frames, fills the backing
// pages with zeroes and returns the first frame of the run. The run is
// located via a first-fit scan over the bitmap. AllocFrames either reserves
// all count frames or none: if no gap of the requested size exists, it
// returns (InvalidFrame, error) and the allocator state is left untouched.
func (alloc *BitmapAllocator) AllocFrames(count uint64) (mm.Frame, *kernel.Error) {
	if count == 0 {
		return mm.InvalidFrame, errZeroPageCount
	}

	if count > alloc.freePages {
		return mm.InvalidFrame, errOutOfMemory
	}

	var run uint64
	for index := uint64(0); index < alloc.totalPages; index++ {
		if alloc.indexReserved(index) {
			run = 0
			continue
		}

		if run++; run < count {
			continue
		}

		first := index - count + 1
		for reserveIndex := first; reserveIndex <= index; reserveIndex++ {
			alloc.bitmap[reserveIndex>>6] |= 1 << (reserveIndex & 63)
		}
		alloc.freePages -= count

		frame := alloc.startFrame + mm.Frame(first)
		kernel.Memset(frame.Address(), 0, uintptr(count)<<mm.PageShift)
		return frame, nil
	}

	return mm.InvalidFrame, errOutOfMemory
}

// FreeFrame returns a reserved frame back to the allocator. Freeing the zero
// page, a frame outside the managed arena or a frame that is already free is
// reported and ignored; an invalid request can never corrupt the allocator
// state and is never fatal.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	if frame.Address() == 0 {
		kfmt.Printf("[pmm] attempt to free the zero page; ignored\n")
		return errUnmanagedFrame
	}

	if frame < alloc.startFrame || frame > alloc.endFrame {
		kfmt.Printf("[pmm] attempt to free unmanaged frame at 0x%x; ignored\n", frame.Address())
		return errUnmanagedFrame
	}

	index := uint64(frame - alloc.startFrame)
	if !alloc.indexReserved(index) {
		kfmt.Printf("[pmm] double free of frame at 0x%x; ignored\n", frame.Address())
		return errDoubleFree
	}

	alloc.bitmap[index>>6] &^= 1 << (index & 63)
	alloc.freePages++
	return nil
}

// TotalPages returns the number of pages in the managed arena.
func (alloc *BitmapAllocator) TotalPages() uint64 {
	return alloc.totalPages
}

// FreePages returns the number of pages that can still be handed out.
func (alloc *BitmapAllocator) FreePages() uint64 {
	return alloc.freePages
}

// indexReserved returns true if the frame at the given arena index is
// currently reserved.
func (alloc *BitmapAllocator) indexReserved(index uint64) bool {
	return alloc.bitmap[index>>6]&(1<<(index&63)) != 0
}

// alignUp ensures that v is a multiple of n. n must be a power of 2.
func alignUp(v, n uintptr) uintptr {
	return (v + n - 1) & ^(n - 1)
}

// Init sets up the kernel physical memory allocation sub-system and registers
// it as the system frame allocator and releaser.
func Init(kernelEnd, ramTop uintptr) *kernel.Error {
	if err := frameAllocator.Init(kernelEnd, ramTop); err != nil {
		return err
	}

	mm.SetFrameAllocator(allocFrame)
	mm.SetFrameReleaser(freeFrame)
	return nil
}

// allocFrame delegates a frame allocation request to the kernel's allocator
// instance. It is registered with mm.SetFrameAllocator instead of
// frameAllocator.AllocFrame as the latter confuses the compiler's escape
// analysis into thinking that the receiver escapes to the heap.
func allocFrame() (mm.Frame, *kernel.Error) {
	return frameAllocator.AllocFrame()
}

// freeFrame delegates a frame release request to the kernel's allocator
// instance.
func freeFrame(frame mm.Frame) *kernel.Error {
	return frameAllocator.FreeFrame(frame)
}

// TotalPages returns the number of pages managed by the kernel's allocator
// instance.
func TotalPages() uint64 {
	return frameAllocator.TotalPages()
}

// FreePages returns the number of pages the kernel's allocator instance can
// still hand out.
func FreePages() uint64 {
	return frameAllocator.FreePages()
}
