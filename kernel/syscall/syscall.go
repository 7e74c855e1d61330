// Package syscall declares the service call interface exposed to user-mode
// programs. A program places a service number in a7 and its arguments in
// a0-a2 before executing an ecall; the trap dispatcher recognizes the trap
// and resumes the caller. Routing requests to handlers is not implemented by
// this core; the numbers below define the wire contract only.
package syscall

// Num identifies a kernel service.
type Num uint64

// Service numbers recognized by the kernel.
const (
	Puts Num = iota + 1
	Yield
	Open
	Close
	Read
	Write
	Unlink
	List
)

// Limits of the file and process interface.
const (
	MaxFilename  = 64
	MaxFileSize  = 4096
	MaxInodes    = 16
	MaxOpenFiles = 8
	MaxProcesses = 2
)

// serviceNames indexes the human-readable service names by Num.
var serviceNames = [...]string{
	Puts:   "puts",
	Yield:  "yield",
	Open:   "open",
	Close:  "close",
	Read:   "read",
	Write:  "write",
	Unlink: "unlink",
	List:   "list",
}

// String returns the name of the service identified by n.
func (n Num) String() string {
	if n == 0 || n >= Num(len(serviceNames)) {
		return "unknown"
	}
	return serviceNames[n]
}
