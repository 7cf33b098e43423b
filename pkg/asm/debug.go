package asm

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// DebugInfo is the sidecar written next to an assembled image: the label
// table and the macro-stack of every op that came out of a macro. It is the
// input for name-based breakpoints and post-mortem address decoding.
type DebugInfo struct {
	W        int                 `json:"w"`
	Labels   map[string]uint64   `json:"labels"`
	OpStacks map[uint64][]string `json:"op_stacks"`
}

// NewDebugInfo captures the debug sidecar from an assembly result.
func NewDebugInfo(w int, res *Result) *DebugInfo {
	return &DebugInfo{W: w, Labels: res.Labels, OpStacks: res.OpStacks}
}

const (
	debugLabelsEntry = "labels.json"
	debugStacksEntry = "stacks.json"
)

// WriteTo serializes the sidecar as a ZIP archive with one JSON entry for
// the labels and one for the stacks.
func (d *DebugInfo) WriteTo(w io.Writer) error {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	labels := struct {
		W      int               `json:"w"`
		Labels map[string]uint64 `json:"labels"`
	}{W: d.W, Labels: d.Labels}
	labelData, err := json.MarshalIndent(labels, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal labels")
	}
	if err := writeZipEntry(zw, debugLabelsEntry, labelData); err != nil {
		return err
	}

	stacks := map[string][]string{}
	for addr, frames := range d.OpStacks {
		stacks[fmt.Sprintf("%#x", addr)] = frames
	}
	stackData, err := json.MarshalIndent(stacks, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal stacks")
	}
	if err := writeZipEntry(zw, debugStacksEntry, stackData); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "close debug archive")
	}
	_, err = w.Write(buf.Bytes())
	return errors.Wrap(err, "write debug archive")
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	f, err := zw.Create(name)
	if err != nil {
		return errors.Wrapf(err, "create %s", name)
	}
	_, err = f.Write(data)
	return errors.Wrapf(err, "write %s", name)
}

// ReadDebugInfo loads a sidecar written by WriteTo.
func ReadDebugInfo(r io.ReaderAt, size int64) (*DebugInfo, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(err, "open debug archive")
	}

	d := &DebugInfo{Labels: map[string]uint64{}, OpStacks: map[uint64][]string{}}

	labelData, err := readZipEntry(zr, debugLabelsEntry)
	if err != nil {
		return nil, err
	}
	var labels struct {
		W      int               `json:"w"`
		Labels map[string]uint64 `json:"labels"`
	}
	if err := json.Unmarshal(labelData, &labels); err != nil {
		return nil, errors.Wrap(err, "decode labels")
	}
	d.W = labels.W
	if labels.Labels != nil {
		d.Labels = labels.Labels
	}

	stackData, err := readZipEntry(zr, debugStacksEntry)
	if err != nil {
		return nil, err
	}
	stacks := map[string][]string{}
	if err := json.Unmarshal(stackData, &stacks); err != nil {
		return nil, errors.Wrap(err, "decode stacks")
	}
	for addrText, frames := range stacks {
		var addr uint64
		if _, err := fmt.Sscanf(addrText, "0x%x", &addr); err != nil {
			return nil, errors.Wrapf(err, "decode stack address %q", addrText)
		}
		d.OpStacks[addr] = frames
	}
	return d, nil
}

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", name)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	return data, errors.Wrapf(err, "read %s", name)
}

// SaveDebugInfo writes the sidecar to path.
func SaveDebugInfo(d *DebugInfo, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create debug file")
	}
	defer f.Close()
	return d.WriteTo(f)
}

// LoadDebugInfo reads a sidecar from path.
func LoadDebugInfo(path string) (*DebugInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open debug file")
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat debug file")
	}
	return ReadDebugInfo(f, st.Size())
}

// ResolveBreakpoints maps exact label names and substring patterns to
// breakpoint addresses. Unknown names produce warnings, not errors.
func (d *DebugInfo) ResolveBreakpoints(names, contains []string) (map[uint64]string, []string) {
	breakpoints := map[uint64]string{}
	var warnings []string

	for _, name := range names {
		if addr, ok := d.Labels[name]; ok {
			breakpoints[addr] = name
		} else {
			warnings = append(warnings, fmt.Sprintf("breakpoint label %q can't be found", name))
		}
	}
	for _, sub := range contains {
		found := false
		for label, addr := range d.Labels {
			if strings.Contains(label, sub) {
				breakpoints[addr] = label
				found = true
			}
		}
		if !found {
			warnings = append(warnings, fmt.Sprintf("no label contains %q", sub))
		}
	}
	return breakpoints, warnings
}

// AddressLabel describes an address with the closest label at or before it,
// for breakpoint and trace displays.
func (d *DebugInfo) AddressLabel(addr uint64) string {
	if label, ok := d.labelAt(addr); ok {
		return fmt.Sprintf("%#x (%s)", addr, label)
	}
	best := ""
	bestAddr := uint64(0)
	found := false
	for label, a := range d.Labels {
		if a <= addr && (!found || a > bestAddr || (a == bestAddr && label < best)) {
			best, bestAddr, found = label, a, true
		}
	}
	if !found {
		return fmt.Sprintf("%#x", addr)
	}
	return fmt.Sprintf("%#x (%s + %#x)", addr, best, addr-bestAddr)
}

func (d *DebugInfo) labelAt(addr uint64) (string, bool) {
	var names []string
	for label, a := range d.Labels {
		if a == addr {
			names = append(names, label)
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return names[0], true
}
