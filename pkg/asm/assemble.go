package asm

import (
	"math/big"

	"github.com/Mr-Bossman/flip-jump/pkg/fjm"
)

// Result is the assembler output: the binary image, the final label table,
// the per-op macro stacks for the debug sidecar, and any non-fatal parse
// warnings.
type Result struct {
	Image    *fjm.Image
	Labels   map[string]uint64
	OpStacks map[uint64][]string
	Warnings []string
}

// Options controls assembly.
type Options struct {
	W        int  // memory width in bits; the default is 64
	Compress bool // zlib-compress segment payloads
	MaxDepth int  // macro expansion depth limit; 0 means DefaultMaxDepth
}

// Assemble runs the whole pipeline over already-parsed sources.
func Assemble(prog *Program, opts Options) (*Result, error) {
	w := opts.W
	if w == 0 {
		w = 64
	}
	exp, err := Preprocess(prog, w, opts.MaxDepth)
	if err != nil {
		return nil, err
	}
	res, err := Emit(exp, opts)
	if err != nil {
		return nil, err
	}
	res.Warnings = prog.Warnings
	return res, nil
}

// AssembleFiles parses the given sources and assembles them.
func AssembleFiles(files []SourceFile, opts Options) (*Result, error) {
	w := opts.W
	if w == 0 {
		w = 64
	}
	prog, err := ParseFiles(files, w)
	if err != nil {
		return nil, err
	}
	opts.W = w
	return Assemble(prog, opts)
}

// segmentBuild accumulates one contiguous output run.
type segmentBuild struct {
	startBit  uint64
	words     []uint64
	extraBits uint64 // reserved zero bits after the data
}

// Emit lowers an expanded stream into the image. It walks the stream once,
// re-deriving each op address: it checks that the op fits in the 2^w bit
// space, then evaluates both expressions and writes two w-bit words. Op
// alignment is not checked here.
func Emit(exp *Expansion, opts Options) (*Result, error) {
	w := uint64(exp.W)
	var flags uint16
	if opts.Compress {
		flags |= fjm.FlagCompressed
	}
	img, err := fjm.New(uint32(exp.W), flags)
	if err != nil {
		return nil, err
	}

	// Everything is evaluated in arbitrary precision and narrowed here.
	mask := new(big.Int).Lsh(big.NewInt(1), uint(w))
	mask.Sub(mask, big.NewInt(1))
	memBits := new(big.Int).Lsh(big.NewInt(1), uint(w))

	checkAddr := func(addr uint64, pos CodePosition, frames []string) error {
		end := new(big.Int).SetUint64(addr)
		end.Add(end, new(big.Int).SetUint64(2*w))
		if end.Cmp(memBits) > 0 {
			return &AddressOutOfRangeError{
				Address: "0x" + new(big.Int).SetUint64(addr).Text(16),
				W:       exp.W,
				Pos:     pos,
				Frames:  frames,
			}
		}
		return nil
	}

	var segments []*segmentBuild
	cur := &segmentBuild{startBit: 0}
	segments = append(segments, cur)
	addr := uint64(0)
	gapped := false // a reserve ended the current data run

	opStacks := map[uint64][]string{}

	emitWords := func(f, j uint64) {
		if gapped {
			cur = &segmentBuild{startBit: addr}
			segments = append(segments, cur)
			gapped = false
		}
		cur.words = append(cur.words, f, j)
	}

	for _, item := range exp.Stream {
		switch it := item.(type) {
		case *StreamSegment:
			cur = &segmentBuild{startBit: it.StartBit}
			segments = append(segments, cur)
			addr = it.StartBit
			gapped = false

		case *StreamReserve:
			cur.extraBits += it.Bits
			addr += it.Bits
			gapped = true

		case *StreamPadding:
			for i := uint64(0); i < it.Ops; i++ {
				if err := checkAddr(addr, it.Pos, nil); err != nil {
					return nil, err
				}
				emitWords(0, 0)
				addr += 2 * w
			}

		case *StreamOp:
			frames := exp.Stacks.Chain(it.Frame)
			if err := checkAddr(addr, it.Pos, frames); err != nil {
				return nil, err
			}

			f, err := resolveWord(it.Flip, exp.Labels, mask, it.Pos, frames)
			if err != nil {
				return nil, err
			}
			j, err := resolveWord(it.Jump, exp.Labels, mask, it.Pos, frames)
			if err != nil {
				return nil, err
			}
			emitWords(f, j)
			if len(frames) > 0 {
				opStacks[addr] = frames
			}
			addr += 2 * w
		}
	}

	for _, s := range segments {
		if len(s.words) == 0 && s.extraBits == 0 {
			continue
		}
		dataBits := uint64(len(s.words)) * w
		words := s.words
		if allZero(words) {
			words = nil // the loader's zero default covers elided data
		}
		if err := img.AddSegment(s.startBit, dataBits+s.extraBits, words); err != nil {
			return nil, err
		}
	}

	return &Result{Image: img, Labels: exp.Labels, OpStacks: opStacks}, nil
}

// resolveWord evaluates an expression to its final w-bit value.
func resolveWord(e *Expr, labels map[string]uint64, mask *big.Int, pos CodePosition, frames []string) (uint64, error) {
	v, err := e.ExactEval(labels, pos)
	if err != nil {
		if ul, ok := err.(*UnresolvedLabelError); ok && ul.Frames == nil {
			ul.Labels = e.UnknownLabels()
			ul.Frames = frames
		}
		if ae, ok := err.(*ArithmeticError); ok && ae.Frames == nil {
			ae.Frames = frames
		}
		return 0, err
	}
	return new(big.Int).And(v, mask).Uint64(), nil
}

func allZero(words []uint64) bool {
	for _, v := range words {
		if v != 0 {
			return false
		}
	}
	return len(words) > 0
}
