// Package cpu provides access to the privileged state of the executing hart.
package cpu

// PrivRegs provides access to the machine-mode CSRs consumed by the trap
// path: the trap cause, the saved return address, the trap value and the
// trap vector base. Abstracting the register file behind an interface allows
// the trap dispatching logic to be exercised by tests without triggering
// real hardware traps.
type PrivRegs interface {
	// ReadMCause returns the mcause CSR. Bit 63 flags an interrupt; the
	// low bits encode the trap code.
	ReadMCause() uint64

	// ReadMEPC returns the mepc CSR: the address of the instruction that
	// was executing when the trap was taken.
	ReadMEPC() uintptr

	// WriteMEPC overwrites the saved return address. The trap return
	// instruction resumes execution at this address.
	WriteMEPC(addr uintptr)

	// ReadMTVal returns the mtval CSR: the faulting address or opcode
	// associated with the current trap.
	ReadMTVal() uintptr

	// WriteMTVec installs the trap vector base address in direct mode.
	WriteMTVec(base uintptr)

	// Fence executes a full memory fence.
	Fence()
}

// MachineRegs implements PrivRegs against the real CSRs of the executing
// hart. The zero value is ready to use.
type MachineRegs struct{}

// ReadMCause returns the mcause CSR.
func (MachineRegs) ReadMCause() uint64 { return readMCause() }

// ReadMEPC returns the mepc CSR.
func (MachineRegs) ReadMEPC() uintptr { return readMEPC() }

// WriteMEPC overwrites the mepc CSR.
func (MachineRegs) WriteMEPC(addr uintptr) { writeMEPC(addr) }

// ReadMTVal returns the mtval CSR.
func (MachineRegs) ReadMTVal() uintptr { return readMTVal() }

// WriteMTVec installs the trap vector base address.
func (MachineRegs) WriteMTVec(base uintptr) { writeMTVec(base) }

// Fence executes a full memory fence.
func (MachineRegs) Fence() { fence() }
