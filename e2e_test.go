package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Mr-Bossman/flip-jump/pkg/asm"
	"github.com/Mr-Bossman/flip-jump/pkg/fjm"
	"github.com/Mr-Bossman/flip-jump/pkg/vm"
)

// buildProgram assembles source text against the built-in prelude.
func buildProgram(t *testing.T, src string, w int) *asm.Result {
	t.Helper()
	files := append(asm.PreludeFiles(), asm.SourceFile{Path: "prog.fj", Text: src})
	res, err := asm.AssembleFiles(files, asm.Options{W: w})
	if err != nil {
		t.Fatalf("assembly failed: %v", err)
	}
	return res
}

// runImage executes an image with the given input and returns the machine
// and its collected output.
func runImage(t *testing.T, img *fjm.Image, input []byte, maxSteps uint64) (*vm.VM, string) {
	t.Helper()
	machine, err := vm.NewFromImage(img)
	if err != nil {
		t.Fatalf("image load failed: %v", err)
	}
	machine.Input = bytes.NewReader(input)
	machine.MaxSteps = maxSteps

	var out bytes.Buffer
	machine.Output = &out

	cause, err := machine.Run()
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if cause != vm.Looping && cause != vm.NullIP {
		t.Fatalf("cause = %s; want a normal termination", cause)
	}
	return machine, out.String()
}

func TestHelloWorld(t *testing.T) {
	res := buildProgram(t, "startup\noutput \"Hello, World!\"\nloop\n", 64)
	machine, out := runImage(t, res.Image, nil, 200000)

	if out != "Hello, World!" {
		t.Errorf("output = %q; want %q", out, "Hello, World!")
	}
	if machine.Cause != vm.Looping {
		t.Errorf("cause = %s; want looping", machine.Cause)
	}
	if machine.Stats.Ops > 200000 {
		t.Errorf("ops = %d; want <= 200000", machine.Stats.Ops)
	}
}

// A program of just startup + loop halts in one non-startup op with empty
// output.
func TestSelfLoopStartup(t *testing.T) {
	res := buildProgram(t, "startup\nloop\n", 64)
	machine, out := runImage(t, res.Image, nil, 1000)

	if out != "" {
		t.Errorf("output = %q; want empty", out)
	}
	if machine.Cause != vm.Looping {
		t.Errorf("cause = %s; want looping", machine.Cause)
	}
	if machine.Stats.Ops != 2 {
		t.Errorf("ops = %d; want 2 (startup jump + the self-loop)", machine.Stats.Ops)
	}
}

func TestHelloWorldNarrowWidth(t *testing.T) {
	res := buildProgram(t, "startup\noutput \"Hi\"\nloop\n", 16)
	_, out := runImage(t, res.Image, nil, 10000)
	if out != "Hi" {
		t.Errorf("output = %q; want Hi", out)
	}
}

// For fixed input bits the output is a pure function of the image.
func TestDeterministicOutput(t *testing.T) {
	src := "startup\noutput \"abc\"\nloop\n"
	var outputs [3]string
	for i := range outputs {
		res := buildProgram(t, src, 64)
		_, outputs[i] = runImage(t, res.Image, nil, 10000)
	}
	if outputs[0] != outputs[1] || outputs[1] != outputs[2] {
		t.Errorf("outputs differ: %q %q %q", outputs[0], outputs[1], outputs[2])
	}
}

// assemble -> write -> load -> write again must be byte-identical.
func TestImageRoundTrip(t *testing.T) {
	res := buildProgram(t, "startup\noutput \"roundtrip\"\nloop\n", 64)

	var first bytes.Buffer
	if err := res.Image.Write(&first); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	loaded, err := fjm.Read(bytes.NewReader(first.Bytes()))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var second bytes.Buffer
	if err := loaded.Write(&second); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Error("image not byte-identical across a write/load/write cycle")
	}

	// The reloaded image must also run identically.
	_, out := runImage(t, loaded, nil, 10000)
	if out != "roundtrip" {
		t.Errorf("output = %q; want roundtrip", out)
	}
}

// A macro that invokes itself unconditionally fails before emitting any op,
// with a call trace at least as deep as the recursion limit.
func TestRecursionGuard(t *testing.T) {
	files := []asm.SourceFile{{Path: "rec.fj", Text: "def r {\n;\nr\n}\nr\n"}}
	_, err := asm.AssembleFiles(files, asm.Options{W: 64})
	var recErr *asm.MacroRecursionError
	if !errors.As(err, &recErr) {
		t.Fatalf("error = %v; want MacroRecursionError", err)
	}
	if len(recErr.Frames) < asm.DefaultMaxDepth {
		t.Errorf("frames = %d; want at least %d", len(recErr.Frames), asm.DefaultMaxDepth)
	}
}

// Loading an image of a different width must fail cleanly.
func TestWidthMismatch(t *testing.T) {
	res := buildProgram(t, "startup\nloop\n", 32)

	machine := vm.New(64)
	err := machine.LoadImage(res.Image)
	var corrupt *fjm.ImageCorruptError
	if !errors.As(err, &corrupt) {
		t.Fatalf("error = %v; want ImageCorruptError", err)
	}
}

// The debug sidecar written at assembly time round-trips and resolves
// breakpoints by exact name and by substring.
func TestDebugSidecarBreakpoints(t *testing.T) {
	res := buildProgram(t, "startup\nmark:\noutput \"x\"\nloop\n", 64)
	info := asm.NewDebugInfo(64, res)

	bps, warnings := info.ResolveBreakpoints([]string{"mark"}, nil)
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v", warnings)
	}
	if len(bps) != 1 {
		t.Fatalf("breakpoints = %v; want 1", bps)
	}

	machine, err := vm.NewFromImage(res.Image)
	if err != nil {
		t.Fatal(err)
	}
	machine.Breakpoints = bps
	var out bytes.Buffer
	machine.Output = &out

	cause, err := machine.Run()
	if err != nil || cause != vm.Breakpoint {
		t.Fatalf("Run = %s, %v; want breakpoint", cause, err)
	}
	if out.Len() != 0 {
		t.Errorf("output before the breakpoint = %q; want none", out.String())
	}

	cause, err = machine.Run()
	if err != nil || cause != vm.Looping {
		t.Fatalf("resume = %s, %v; want looping", cause, err)
	}
	if out.String() != "x" {
		t.Errorf("output = %q; want x", out.String())
	}
}

func TestCompressedImageRuns(t *testing.T) {
	files := append(asm.PreludeFiles(), asm.SourceFile{Path: "prog.fj", Text: "startup\noutput \"z\"\nloop\n"})
	res, err := asm.AssembleFiles(files, asm.Options{W: 64, Compress: true})
	if err != nil {
		t.Fatalf("assembly failed: %v", err)
	}
	var buf bytes.Buffer
	if err := res.Image.Write(&buf); err != nil {
		t.Fatal(err)
	}
	loaded, err := fjm.Read(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	_, out := runImage(t, loaded, nil, 10000)
	if out != "z" {
		t.Errorf("output = %q; want z", out)
	}
}
