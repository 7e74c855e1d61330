package kfmt

import (
	"rvos/kernel"
	"rvos/kernel/cpu"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the console and parks the
// hart. Calls to Panic never return. Panic is the sole failure sink of the
// kernel: the trap dispatcher escalates unrecoverable exceptions here and any
// caller that detects a fatal invariant violation is expected to do the same.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n!!! KERNEL PANIC !!!\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** system halted ***\n")

	cpuHaltFn()
}

func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
