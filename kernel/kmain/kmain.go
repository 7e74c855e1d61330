package kmain

import (
	"io"
	"unsafe"

	"rvos/driver/uart"
	"rvos/kernel"
	"rvos/kernel/cpu"
	"rvos/kernel/irq"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
	"rvos/kernel/mm/pmm"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errSelfCheck     = &kernel.Error{Module: "kmain", Message: "allocator self-check failed"}

	// The following variables are assigned the hardware-facing defaults
	// below and get replaced by tests so Kmain can run on a regular host.
	privRegs  cpu.PrivRegs = cpu.MachineRegs{}
	consoleFn              = defaultConsole
	panicFn                = kfmt.Panic

	enableInterruptsFn  = cpu.EnableInterrupts
	disableInterruptsFn = cpu.DisableInterrupts
)

// defaultConsole attaches to the UART of the QEMU virt machine.
func defaultConsole() io.Writer {
	return uart.NewDevice(uart.QemuVirtBase)
}

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. The entry stub invokes it after setting up a stack and
// pointing mtvec at the trap vector trampoline. It receives the physical
// address of the end of the kernel image, the top of usable RAM and the
// address of the trap vector trampoline.
//
// Kmain is not expected to return. If it does, the error is escalated to a
// kernel panic which halts the CPU.
//
//go:noinline
func Kmain(kernelEnd, ramTop, trapVectorBase uintptr) {
	kfmt.SetOutputSink(consoleFn())

	boot := &kfmt.PrefixWriter{Sink: kfmt.GetOutputSink(), Prefix: []byte("[boot] ")}
	kfmt.Fprintf(boot, "rvos starting\n")
	kfmt.Fprintf(boot, "free memory: 0x%x - 0x%x\n", kernelEnd, ramTop)

	// Traps stay masked until the dispatcher and the allocator are ready.
	disableInterruptsFn()
	irq.Init(privRegs, trapVectorBase)

	var err *kernel.Error
	if err = pmm.Init(kernelEnd, ramTop); err != nil {
		panicFn(err)
		return
	}
	kfmt.Fprintf(boot, "page allocator manages %d pages (%d free)\n", pmm.TotalPages(), pmm.FreePages())

	if err = selfCheck(); err != nil {
		panicFn(err)
		return
	}

	enableInterruptsFn()
	kfmt.Fprintf(boot, "init complete\n")

	// Use panicFn instead of panic to prevent the compiler from treating
	// kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

// selfCheck exercises the page allocator before the kernel starts handing out
// memory. Two freshly allocated frames must be distinct, page-aligned and
// zero-filled, writes to one must not leak into the other, and releasing both
// must restore the free page count.
func selfCheck() *kernel.Error {
	freeBefore := pmm.FreePages()

	frame0, err := mm.AllocFrame()
	if err != nil {
		return err
	}

	page0 := unsafe.Slice((*byte)(unsafe.Pointer(frame0.Address())), mm.PageSize)
	for i := range page0 {
		page0[i] = byte(i)
	}

	frame1, err := mm.AllocFrame()
	if err != nil {
		return err
	}

	if frame0 == frame1 || frame0.Address()&(mm.PageSize-1) != 0 || frame1.Address()&(mm.PageSize-1) != 0 {
		return errSelfCheck
	}

	page1 := unsafe.Slice((*byte)(unsafe.Pointer(frame1.Address())), mm.PageSize)
	for i := range page1 {
		if page1[i] != 0 {
			return errSelfCheck
		}
	}

	for i := range page0 {
		if page0[i] != byte(i) {
			return errSelfCheck
		}
	}

	if err = mm.FreeFrame(frame1); err != nil {
		return err
	}
	if err = mm.FreeFrame(frame0); err != nil {
		return err
	}

	if pmm.FreePages() != freeBefore {
		return errSelfCheck
	}

	return nil
}
