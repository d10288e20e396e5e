package emu

import "io"

// RISC-V Linux syscall numbers.
const (
	SyscallRead  uint64 = 63 // read(fd, buf, count)
	SyscallWrite uint64 = 64 // write(fd, buf, count)
	SyscallExit  uint64 = 93 // exit(status)
)

// Linux error codes.
const (
	EBADF  = 9  // Bad file descriptor
	ENOSYS = 38 // Function not implemented
	EIO    = 5  // I/O error
)

// Argument registers of the syscall convention.
const (
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12
	RegA7 = 17
)

// SyscallResult represents the result of a syscall execution.
type SyscallResult struct {
	// Exited is true if the syscall caused program termination.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64
}

// SyscallHandler serves environment calls.
type SyscallHandler interface {
	// Handle executes the syscall indicated by the register file state:
	// number in a7, arguments in a0-a2, return value in a0.
	Handle() SyscallResult
}

// DefaultSyscallHandler serves read, write and exit on the host streams.
type DefaultSyscallHandler struct {
	regFile *RegFile
	memory  *Memory
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

// NewDefaultSyscallHandler creates a default syscall handler.
func NewDefaultSyscallHandler(regFile *RegFile, memory *Memory, stdout, stderr io.Writer) *DefaultSyscallHandler {
	return &DefaultSyscallHandler{
		regFile: regFile,
		memory:  memory,
		stdout:  stdout,
		stderr:  stderr,
	}
}

// SetStdin sets the stdin reader for the syscall handler.
func (h *DefaultSyscallHandler) SetStdin(stdin io.Reader) {
	h.stdin = stdin
}

// Handle executes the syscall indicated by the register file state.
func (h *DefaultSyscallHandler) Handle() SyscallResult {
	switch h.arg(RegA7) {
	case SyscallRead:
		return h.handleRead()
	case SyscallWrite:
		return h.handleWrite()
	case SyscallExit:
		return SyscallResult{Exited: true, ExitCode: int64(int32(h.arg(RegA0)))}
	default:
		h.setError(ENOSYS)
		return SyscallResult{}
	}
}

// arg reads a 32-bit argument register.
func (h *DefaultSyscallHandler) arg(reg int) uint64 {
	return uint64(h.regFile.ReadReg32(reg))
}

func (h *DefaultSyscallHandler) handleRead() SyscallResult {
	fd := h.arg(RegA0)
	bufPtr := h.arg(RegA1)
	count := h.arg(RegA2)

	if fd != 0 {
		h.setError(EBADF)
		return SyscallResult{}
	}

	// No stdin reads as EOF.
	if h.stdin == nil {
		h.regFile.WriteReg(RegA0, 0)
		return SyscallResult{}
	}

	buf := make([]byte, count)
	n, err := h.stdin.Read(buf)
	if err != nil && n == 0 {
		h.regFile.WriteReg(RegA0, 0)
		return SyscallResult{}
	}

	h.memory.LoadProgram(bufPtr, buf[:n])
	h.regFile.WriteReg(RegA0, uint64(n))
	return SyscallResult{}
}

func (h *DefaultSyscallHandler) handleWrite() SyscallResult {
	fd := h.arg(RegA0)
	bufPtr := h.arg(RegA1)
	count := h.arg(RegA2)

	var writer io.Writer
	switch fd {
	case 1:
		writer = h.stdout
	case 2:
		writer = h.stderr
	default:
		h.setError(EBADF)
		return SyscallResult{}
	}

	buf := make([]byte, count)
	for i := uint64(0); i < count; i++ {
		buf[i] = h.memory.Read8(bufPtr + i)
	}

	n, err := writer.Write(buf)
	if err != nil {
		h.setError(EIO)
		return SyscallResult{}
	}

	h.regFile.WriteReg(RegA0, uint64(n))
	return SyscallResult{}
}

// setError sets a0 to -errno.
func (h *DefaultSyscallHandler) setError(errno int) {
	h.regFile.WriteReg(RegA0, uint64(uint32(-int32(errno))))
}
