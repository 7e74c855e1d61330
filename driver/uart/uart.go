// Package uart drives the memory-mapped console UART exposed by the QEMU
// virt machine.
package uart

import "unsafe"

// QemuVirtBase is the physical address of the first UART device on the QEMU
// virt machine.
const QemuVirtBase = uintptr(0x10000000)

// Device is a write-only console backed by a memory-mapped UART data
// register. It implements io.Writer so it can serve as the active output
// sink for the kernel formatter.
type Device struct {
	data *uint8
}

// NewDevice returns a console attached to the UART data register at base.
// The base address is a parameter so tests can point the device at regular
// memory instead of device registers.
func NewDevice(base uintptr) *Device {
	return &Device{
		data: (*uint8)(unsafe.Pointer(base)),
	}
}

// Write emits the contents of p to the data register one byte at a time.
// The emulated UART accepts bytes at any rate so no transmitter status
// polling is required. Write always succeeds.
func (d *Device) Write(p []byte) (int, error) {
	for _, b := range p {
		*d.data = b
	}

	return len(p), nil
}
