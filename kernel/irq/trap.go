package irq

import (
	"rvos/kernel"
	"rvos/kernel/cpu"
	"rvos/kernel/kfmt"
	"rvos/kernel/syscall"
)

const (
	// causeInterrupt flags mcause as an asynchronous interrupt rather
	// than a synchronous exception.
	causeInterrupt = uint64(1) << 63

	// causeCodeMask extracts the numeric trap code from mcause.
	causeCodeMask = uint64(0x3f)

	// instSize is the size of the trapping instruction skipped when an
	// environment call resumes; ecall is always a 4-byte encoding.
	instSize = 4
)

var (
	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kfmt.Panic

	// dispatcher handles the traps delivered to HandleTrap.
	dispatcher *Dispatcher

	errUnrecoverableTrap = &kernel.Error{Module: "irq", Message: "unrecoverable exception"}
)

// Dispatcher decodes trap causes and applies the kernel's exception policy.
// It must never run reentrantly: traps stay masked from the moment the entry
// stub captures the interrupted context until it resumes.
type Dispatcher struct {
	regs cpu.PrivRegs
}

// NewDispatcher returns a Dispatcher that reads the trap state from regs.
func NewDispatcher(regs cpu.PrivRegs) *Dispatcher {
	return &Dispatcher{regs: regs}
}

// Init installs the trap vector in direct mode so the hardware transfers
// control to vectorBase on every trap.
func (d *Dispatcher) Init(vectorBase uintptr) {
	d.regs.WriteMTVec(vectorBase)
	kfmt.Printf("[irq] trap vector installed at 0x%x\n", vectorBase)
}

// HandleTrap processes a single trap. For interrupts and recoverable
// exceptions it returns normally so the entry stub can restore the register
// snapshot and resume the interrupted context; environment calls additionally
// get their saved return address advanced past the trapping instruction.
// Unrecoverable exceptions never return: the register snapshot is dumped to
// the console and the system panics.
func (d *Dispatcher) HandleTrap(frame *Frame) {
	var (
		cause = d.regs.ReadMCause()
		epc   = d.regs.ReadMEPC()
		code  = cause & causeCodeMask
	)

	if cause&causeInterrupt != 0 {
		// Interrupts are informational only until an interrupt
		// controller integration acknowledges and routes them.
		kfmt.Printf("[irq] interrupt %d, epc: 0x%x\n", code, epc)
		return
	}

	tval := d.regs.ReadMTVal()
	class := classifyException(ExceptionNum(code))
	kfmt.Printf("[irq] exception %d (%s), epc: 0x%x, tval: 0x%x\n", code, class.name, epc, tval)

	switch class.action {
	case ActionResume:
		// Leave mepc untouched; a debugger attached to the breakpoint
		// decides how execution continues.
	case ActionResumeSkipInst:
		// Log the requested service call. Routing the request through
		// a service table is the job of the syscall layer, not of this
		// core.
		kfmt.Printf("[irq] service request %d (%s), a0: 0x%x\n", frame.A7, syscall.Num(frame.A7).String(), frame.A0)

		d.regs.WriteMEPC(epc + instSize)
		// The mepc write-back must be visible before the interrupted
		// context resumes.
		d.regs.Fence()
	default:
		frame.Print()
		panicFn(errUnrecoverableTrap)
	}
}

// Init sets up the package dispatcher used by the trap entry stub and
// installs the trap vector.
func Init(regs cpu.PrivRegs, vectorBase uintptr) *Dispatcher {
	dispatcher = NewDispatcher(regs)
	dispatcher.Init(vectorBase)
	return dispatcher
}

// HandleTrap is invoked by the trap entry stub after it has captured the
// interrupted context into frame.
func HandleTrap(frame *Frame) {
	dispatcher.HandleTrap(frame)
}
