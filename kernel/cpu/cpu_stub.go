//go:build !riscv64

package cpu

// The stubs below allow the kernel packages to be compiled and tested on a
// development host. Tests exercise the trap path through a fake PrivRegs
// implementation; reaching a real CSR access on a non-riscv64 build is a bug.

// EnableInterrupts sets the machine interrupt-enable bit in mstatus.
func EnableInterrupts() {}

// DisableInterrupts clears the machine interrupt-enable bit in mstatus.
func DisableInterrupts() {}

// Halt parks the hart indefinitely. It never returns.
func Halt() {
	select {}
}

func readMCause() uint64 { panic("cpu: mcause not accessible on this host") }

func readMEPC() uintptr { panic("cpu: mepc not accessible on this host") }

func writeMEPC(addr uintptr) { panic("cpu: mepc not accessible on this host") }

func readMTVal() uintptr { panic("cpu: mtval not accessible on this host") }

func writeMTVec(base uintptr) { panic("cpu: mtvec not accessible on this host") }

func fence() {}
