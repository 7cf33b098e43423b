package vm

import (
	"fmt"
	"io"

	"github.com/Mr-Bossman/flip-jump/pkg/fjm"
)

// TerminationCause says why a run stopped.
type TerminationCause int

const (
	// Looping is the normal termination: the op jumped to itself.
	Looping TerminationCause = iota
	// NullIP means the program jumped below the first real op (into the
	// startup header); treated as a successful exit.
	NullIP
	// Breakpoint means control returned to the embedding caller; the run
	// can be resumed.
	Breakpoint
)

func (t TerminationCause) String() string {
	switch t {
	case Looping:
		return "looping"
	case NullIP:
		return "ip<2w"
	case Breakpoint:
		return "breakpoint"
	default:
		return fmt.Sprintf("TerminationCause(%d)", int(t))
	}
}

// RunTimeExceededError reports that the step limit was hit.
type RunTimeExceededError struct {
	Steps uint64
}

func (e *RunTimeExceededError) Error() string {
	return fmt.Sprintf("run exceeded the step limit (%d ops executed)", e.Steps)
}

// CancelledError reports cooperative cancellation via the cancel flag.
type CancelledError struct {
	Steps uint64
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("run cancelled after %d ops", e.Steps)
}

// cancelPollInterval is how many ops run between cancel-flag checks.
const cancelPollInterval = 1024

// DefaultTraceLength bounds the post-mortem ring of executed addresses.
const DefaultTraceLength = 10

// Statistics counts the work of the current run.
type Statistics struct {
	Ops   uint64 // ops executed
	Flips uint64 // flips outside the startup header
	Jumps uint64 // jumps that didn't fall through
}

// VM executes one FlipJump image. The zero value is not usable; build one
// with New and load a program with LoadImage.
type VM struct {
	Mem *Memory
	IP  uint64

	Halted bool
	Cause  TerminationCause
	Stats  Statistics

	// Input supplies the program's input bits, one byte at a time,
	// LSB first. At EOF the VM feeds zero bits and never blocks.
	Input io.Reader
	// Output receives completed output bytes. Nil discards them.
	Output io.Writer

	// Breakpoints maps op addresses to display names. The run pauses
	// before fetching an op at one of these addresses.
	Breakpoints map[uint64]string

	// MaxSteps bounds the run; 0 means unbounded.
	MaxSteps uint64
	// Cancel is polled every cancelPollInterval ops when non-nil.
	Cancel func() bool

	w       uint64
	outAddr uint64 // flip here to emit output bits
	inAddr  uint64 // input bits are written here

	outByte  byte
	outCount uint
	inByte   byte
	inCount  uint
	inEOF    bool

	trace    []uint64
	traceLen int
	resumed  bool
}

// New builds a VM for width w with an empty memory.
func New(w uint32) *VM {
	ww := uint64(w)
	return &VM{
		Mem:      NewMemory(w),
		w:        ww,
		outAddr:  2 * ww,
		inAddr:   3*ww + uint64(bitLen(ww)),
		traceLen: DefaultTraceLength,
	}
}

func bitLen(v uint64) int {
	n := 0
	for v != 0 {
		v >>= 1
		n++
	}
	return n
}

// NewFromImage builds a VM and loads the image into its memory.
func NewFromImage(img *fjm.Image) (*VM, error) {
	v := New(img.W)
	if err := v.LoadImage(img); err != nil {
		return nil, err
	}
	return v, nil
}

// LoadImage copies an image's segments into memory. The image width must
// match the VM's.
func (v *VM) LoadImage(img *fjm.Image) error {
	if uint64(img.W) != v.w {
		return &fjm.ImageCorruptError{
			Msg: fmt.Sprintf("image width %d doesn't match the VM width %d", img.W, v.w),
		}
	}
	for _, seg := range img.Segments {
		for i, word := range seg.Words {
			v.Mem.WriteWord(seg.StartBit+uint64(i)*v.w, word)
		}
	}
	return nil
}

// SetTraceLength resizes the executed-op ring buffer.
func (v *VM) SetTraceLength(n int) {
	if n < 0 {
		n = 0
	}
	v.traceLen = n
	if len(v.trace) > n {
		v.trace = v.trace[len(v.trace)-n:]
	}
}

// Trace returns the last executed op addresses, oldest first.
func (v *VM) Trace() []uint64 {
	out := make([]uint64, len(v.trace))
	copy(out, v.trace)
	return out
}

func (v *VM) recordTrace(ip uint64) {
	if v.traceLen == 0 {
		return
	}
	if len(v.trace) == v.traceLen {
		copy(v.trace, v.trace[1:])
		v.trace[len(v.trace)-1] = ip
		return
	}
	v.trace = append(v.trace, ip)
}

// OutAddr returns the bit address whose pair emits output.
func (v *VM) OutAddr() uint64 { return v.outAddr }

// InAddr returns the bit address input bits are written to.
func (v *VM) InAddr() uint64 { return v.inAddr }

// nextInputBit pulls one bit from Input, refilling a byte at a time.
// After EOF the stream yields zeros forever.
func (v *VM) nextInputBit() uint64 {
	if v.inCount == 0 {
		if v.inEOF || v.Input == nil {
			return 0
		}
		var buf [1]byte
		n, err := v.Input.Read(buf[:])
		if n == 0 || err != nil {
			v.inEOF = true
			return 0
		}
		v.inByte = buf[0]
		v.inCount = 8
	}
	bit := uint64(v.inByte & 1)
	v.inByte >>= 1
	v.inCount--
	return bit
}

func (v *VM) emitOutputBit(bit uint64) {
	v.outByte |= byte(bit) << v.outCount
	v.outCount++
	if v.outCount == 8 {
		if v.Output != nil {
			v.Output.Write([]byte{v.outByte})
		}
		v.outByte, v.outCount = 0, 0
	}
}

// step executes one op. It reports whether the run terminated and why.
func (v *VM) step() (bool, TerminationCause) {
	ip := v.IP
	v.recordTrace(ip)

	flip := v.Mem.ReadWord(ip)
	v.Stats.Ops++

	// Memory-mapped output: flipping OUT or OUT+1 emits a 0 or 1 bit.
	if flip == v.outAddr || flip == v.outAddr+1 {
		v.emitOutputBit(flip - v.outAddr)
	}

	// Memory-mapped input: executing an op over the input bit refreshes it.
	if ip <= v.inAddr && v.inAddr < ip+2*v.w {
		v.Mem.SetBit(v.inAddr, v.nextInputBit())
	}

	v.Mem.FlipBit(flip)
	if flip >= 2*v.w {
		v.Stats.Flips++
	}

	jump := v.Mem.ReadWord(ip + v.w)
	if jump != ip+2*v.w {
		v.Stats.Jumps++
	}

	if jump == ip && !(ip <= flip && flip < ip+2*v.w) {
		return true, Looping // the program closed its own loop
	}
	if jump < 2*v.w {
		return true, NullIP
	}
	v.IP = jump
	return false, 0
}

// Step executes a single op regardless of breakpoints.
func (v *VM) Step() {
	if v.Halted {
		return
	}
	if done, cause := v.step(); done {
		v.Halted = true
		v.Cause = cause
	}
}

// Run executes until the program terminates, a breakpoint is reached, the
// step limit expires, or the cancel flag trips. A Breakpoint cause leaves
// the VM resumable: calling Run again executes the op at the breakpoint.
func (v *VM) Run() (TerminationCause, error) {
	for !v.Halted {
		if len(v.Breakpoints) > 0 && !v.resumed {
			if _, ok := v.Breakpoints[v.IP]; ok {
				v.resumed = true
				return Breakpoint, nil
			}
		}
		v.resumed = false

		if v.MaxSteps != 0 && v.Stats.Ops >= v.MaxSteps {
			return 0, &RunTimeExceededError{Steps: v.Stats.Ops}
		}
		if v.Cancel != nil && v.Stats.Ops%cancelPollInterval == 0 && v.Cancel() {
			return 0, &CancelledError{Steps: v.Stats.Ops}
		}

		done, cause := v.step()
		if done {
			v.Halted = true
			v.Cause = cause
		}
	}
	return v.Cause, nil
}
