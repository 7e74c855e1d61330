package irq

// ExceptionNum describes the numeric code of a synchronous exception as
// reported by the low bits of mcause.
type ExceptionNum uint64

// Exception codes defined by the privileged architecture.
const (
	InstAddressMisaligned = ExceptionNum(0)
	InstAccessFault       = ExceptionNum(1)
	IllegalInstruction    = ExceptionNum(2)
	Breakpoint            = ExceptionNum(3)
	LoadAddressMisaligned = ExceptionNum(4)
	LoadAccessFault       = ExceptionNum(5)
	StoreAddressMisaligned = ExceptionNum(6)
	StoreAccessFault       = ExceptionNum(7)
	EnvCallFromU           = ExceptionNum(8)
	EnvCallFromS           = ExceptionNum(9)
	EnvCallFromM           = ExceptionNum(11)
	InstPageFault          = ExceptionNum(12)
	LoadPageFault          = ExceptionNum(13)
	StorePageFault         = ExceptionNum(15)
)

// Action describes the policy outcome the dispatcher applies after an
// exception has been classified.
type Action uint8

const (
	// ActionFatal escalates the exception to a kernel panic.
	ActionFatal Action = iota

	// ActionResume resumes the interrupted context with the saved return
	// address left untouched.
	ActionResume

	// ActionResumeSkipInst advances the saved return address past the
	// trapping instruction before resuming.
	ActionResumeSkipInst
)

// exceptionClass pairs the human-readable category of an exception code with
// the policy outcome applied by the dispatcher.
type exceptionClass struct {
	name   string
	action Action
}

// unknownException classifies codes outside the table below. Anything the
// kernel cannot name cannot be resumed safely.
var unknownException = exceptionClass{name: "unknown exception", action: ActionFatal}

// exceptionClasses maps each architectural exception code to its class. The
// environment call codes (one per originating privilege level) and
// breakpoints are the only recoverable entries; every fault is fatal as no
// per-task containment exists in a single-context kernel.
var exceptionClasses = [16]exceptionClass{
	InstAddressMisaligned:  {name: "instruction address misaligned", action: ActionFatal},
	InstAccessFault:        {name: "instruction access fault", action: ActionFatal},
	IllegalInstruction:     {name: "illegal instruction", action: ActionFatal},
	Breakpoint:             {name: "breakpoint", action: ActionResume},
	LoadAddressMisaligned:  {name: "load address misaligned", action: ActionFatal},
	LoadAccessFault:        {name: "load access fault", action: ActionFatal},
	StoreAddressMisaligned: {name: "store/AMO address misaligned", action: ActionFatal},
	StoreAccessFault:       {name: "store/AMO access fault", action: ActionFatal},
	EnvCallFromU:           {name: "environment call from U-mode", action: ActionResumeSkipInst},
	EnvCallFromS:           {name: "environment call from S-mode", action: ActionResumeSkipInst},
	10:                     {name: "reserved", action: ActionFatal},
	EnvCallFromM:           {name: "environment call from M-mode", action: ActionResumeSkipInst},
	InstPageFault:          {name: "instruction page fault", action: ActionFatal},
	LoadPageFault:          {name: "load page fault", action: ActionFatal},
	14:                     {name: "reserved", action: ActionFatal},
	StorePageFault:         {name: "store/AMO page fault", action: ActionFatal},
}

// classifyException maps an exception code to its class.
func classifyException(code ExceptionNum) exceptionClass {
	if code >= ExceptionNum(len(exceptionClasses)) {
		return unknownException
	}
	return exceptionClasses[code]
}
