package cpu

// EnableInterrupts sets the machine interrupt-enable bit in mstatus.
func EnableInterrupts()

// DisableInterrupts clears the machine interrupt-enable bit in mstatus.
func DisableInterrupts()

// Halt parks the hart in a low-power wait loop. It never returns.
func Halt()

func readMCause() uint64

func readMEPC() uintptr

func writeMEPC(addr uintptr)

func readMTVal() uintptr

func writeMTVec(base uintptr)

func fence()
