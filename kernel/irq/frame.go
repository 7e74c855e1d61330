// Package irq decodes hardware traps and applies the kernel's exception
// handling policy.
package irq

import "rvos/kernel/kfmt"

// Frame contains a snapshot of the general-purpose register values at the
// time a trap was taken. The entry stub stores the registers in the order
// mandated by the hardware ABI; the field layout below must match that order
// exactly as the resume path restores the interrupted context from the same
// memory. The program counter is not part of the snapshot: it is tracked
// separately via the mepc CSR.
//
// A Frame lives on the trap-handling stack for the duration of a single trap
// and must not be retained after the dispatcher returns.
type Frame struct {
	RA uint64
	SP uint64
	GP uint64
	TP uint64
	T0 uint64
	T1 uint64
	T2 uint64
	S0 uint64
	S1 uint64
	A0 uint64
	A1 uint64
	A2 uint64
	A3 uint64
	A4 uint64
	A5 uint64
	A6 uint64
	A7 uint64
	S2 uint64
	S3 uint64
	S4 uint64
	S5 uint64
	S6 uint64
	S7 uint64
	S8 uint64
	S9 uint64
	S10 uint64
	S11 uint64
	T3 uint64
	T4 uint64
	T5 uint64
	T6 uint64
}

// Print outputs a dump of the register values to the active console.
func (f *Frame) Print() {
	kfmt.Printf("ra  = %16x sp  = %16x\n", f.RA, f.SP)
	kfmt.Printf("gp  = %16x tp  = %16x\n", f.GP, f.TP)
	kfmt.Printf("t0  = %16x t1  = %16x\n", f.T0, f.T1)
	kfmt.Printf("t2  = %16x s0  = %16x\n", f.T2, f.S0)
	kfmt.Printf("s1  = %16x a0  = %16x\n", f.S1, f.A0)
	kfmt.Printf("a1  = %16x a2  = %16x\n", f.A1, f.A2)
	kfmt.Printf("a3  = %16x a4  = %16x\n", f.A3, f.A4)
	kfmt.Printf("a5  = %16x a6  = %16x\n", f.A5, f.A6)
	kfmt.Printf("a7  = %16x s2  = %16x\n", f.A7, f.S2)
	kfmt.Printf("s3  = %16x s4  = %16x\n", f.S3, f.S4)
	kfmt.Printf("s5  = %16x s6  = %16x\n", f.S5, f.S6)
	kfmt.Printf("s7  = %16x s8  = %16x\n", f.S7, f.S8)
	kfmt.Printf("s9  = %16x s10 = %16x\n", f.S9, f.S10)
	kfmt.Printf("s11 = %16x t3  = %16x\n", f.S11, f.T3)
	kfmt.Printf("t4  = %16x t5  = %16x\n", f.T4, f.T5)
	kfmt.Printf("t6  = %16x\n", f.T6)
}
