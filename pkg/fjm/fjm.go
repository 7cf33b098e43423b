// Package fjm reads and writes the FlipJump memory image container.
//
// The byte layout, all little-endian:
//
//	bytes 0-3    magic "FJM\0"
//	bytes 4-5    version (u16), currently 3
//	bytes 6-9    memory width w in bits (u32)
//	bytes 10-11  flags (u16); bit 0 = zlib-compressed segments
//	bytes 12-15  segment count (u32)
//	bytes 16-23  reserved, zero
//	then per segment: start_bit, length_bits, data_offset,
//	data_length_bytes (u64 each; data_offset is relative to the data blob)
//	then the data blob, then a CRC-32 (IEEE) of everything before it (u32)
package fjm

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/pkg/errors"
)

const (
	// Version is the container version this package reads and writes.
	Version = 3

	// FlagCompressed marks zlib-compressed segment payloads.
	FlagCompressed uint16 = 1 << 0

	headerSize       = 24
	segmentEntrySize = 32
	trailerSize      = 4
)

var magic = [4]byte{'F', 'J', 'M', 0}

// ImageCorruptError reports a container that fails structural validation.
type ImageCorruptError struct {
	Msg string
}

func (e *ImageCorruptError) Error() string {
	return fmt.Sprintf("corrupt fjm image: %s", e.Msg)
}

// UnsupportedVersionError reports a container version this package can't
// decode.
type UnsupportedVersionError struct {
	Version uint16
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported fjm version %d (this reader supports %d)", e.Version, Version)
}

// Segment is one initialized region of the image. Words holds the data as
// w-bit values; LengthBits may exceed the data (the tail reads as zeros).
type Segment struct {
	StartBit   uint64
	LengthBits uint64
	Words      []uint64
}

// Image is the in-memory form of a .fjm container.
type Image struct {
	W        uint32
	Flags    uint16
	Segments []Segment
}

// New builds an empty image. The width must be a multiple of 8 between 8
// and 64.
func New(w uint32, flags uint16) (*Image, error) {
	if w == 0 || w%8 != 0 || w > 64 {
		return nil, errors.Errorf("word size %d is not a multiple of 8 in [8, 64]", w)
	}
	return &Image{W: w, Flags: flags}, nil
}

// Compressed reports whether segment payloads are zlib-compressed on disk.
func (img *Image) Compressed() bool { return img.Flags&FlagCompressed != 0 }

// AddSegment appends an initialized region. The start must be w-aligned and
// must not overlap any earlier segment.
func (img *Image) AddSegment(startBit, lengthBits uint64, words []uint64) error {
	if startBit%uint64(img.W) != 0 {
		return errors.Errorf("segment start %#x is not aligned to w=%d", startBit, img.W)
	}
	dataBits := uint64(len(words)) * uint64(img.W)
	if lengthBits < dataBits {
		return errors.Errorf("segment length (%d bits) is shorter than its data (%d bits)", lengthBits, dataBits)
	}
	newEnd := startBit + lengthBits
	for i, s := range img.Segments {
		end := s.StartBit + s.LengthBits
		if startBit < end && s.StartBit < newEnd {
			return errors.Errorf("overlapping segments: seg[%d]=[%#x, %#x) and seg[%d]=[%#x, %#x)",
				i, s.StartBit, end, len(img.Segments), startBit, newEnd)
		}
	}
	img.Segments = append(img.Segments, Segment{StartBit: startBit, LengthBits: lengthBits, Words: words})
	return nil
}

func (img *Image) wordBytes() int { return int(img.W) / 8 }

// segmentPayload serializes one segment's words LSB-first within each byte
// (w-bit little-endian words back to back).
func (img *Image) segmentPayload(s Segment) []byte {
	wb := img.wordBytes()
	out := make([]byte, len(s.Words)*wb)
	for i, word := range s.Words {
		for j := 0; j < wb; j++ {
			out[i*wb+j] = byte(word >> (8 * j))
		}
	}
	return out
}

func wordsFromPayload(payload []byte, wb int) ([]uint64, error) {
	if len(payload)%wb != 0 {
		return nil, &ImageCorruptError{Msg: fmt.Sprintf(
			"segment payload of %d bytes is not a whole number of %d-byte words", len(payload), wb)}
	}
	words := make([]uint64, len(payload)/wb)
	for i := range words {
		var w uint64
		for j := 0; j < wb; j++ {
			w |= uint64(payload[i*wb+j]) << (8 * j)
		}
		words[i] = w
	}
	return words, nil
}

// Write serializes the image.
func (img *Image) Write(w io.Writer) error {
	payloads := make([][]byte, len(img.Segments))
	for i, s := range img.Segments {
		raw := img.segmentPayload(s)
		if img.Compressed() {
			var buf bytes.Buffer
			zw := zlib.NewWriter(&buf)
			if _, err := zw.Write(raw); err != nil {
				return errors.Wrap(err, "compress segment")
			}
			if err := zw.Close(); err != nil {
				return errors.Wrap(err, "compress segment")
			}
			raw = buf.Bytes()
		}
		payloads[i] = raw
	}

	var body bytes.Buffer
	body.Write(magic[:])
	le := binary.LittleEndian
	var scratch [8]byte

	le.PutUint16(scratch[:2], Version)
	body.Write(scratch[:2])
	le.PutUint32(scratch[:4], img.W)
	body.Write(scratch[:4])
	le.PutUint16(scratch[:2], img.Flags)
	body.Write(scratch[:2])
	le.PutUint32(scratch[:4], uint32(len(img.Segments)))
	body.Write(scratch[:4])
	le.PutUint64(scratch[:8], 0) // reserved
	body.Write(scratch[:8])

	offset := uint64(0)
	for i, s := range img.Segments {
		for _, v := range [4]uint64{s.StartBit, s.LengthBits, offset, uint64(len(payloads[i]))} {
			le.PutUint64(scratch[:8], v)
			body.Write(scratch[:8])
		}
		offset += uint64(len(payloads[i]))
	}
	for _, p := range payloads {
		body.Write(p)
	}

	crc := crc32.ChecksumIEEE(body.Bytes())
	le.PutUint32(scratch[:4], crc)
	body.Write(scratch[:4])

	_, err := w.Write(body.Bytes())
	return errors.Wrap(err, "write image")
}

// Read deserializes an image, validating the magic, version, reserved word
// and CRC trailer.
func Read(r io.Reader) (*Image, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read image")
	}
	if len(raw) < headerSize+trailerSize {
		return nil, &ImageCorruptError{Msg: "file too short"}
	}

	body, trailer := raw[:len(raw)-trailerSize], raw[len(raw)-trailerSize:]
	le := binary.LittleEndian
	if crc32.ChecksumIEEE(body) != le.Uint32(trailer) {
		return nil, &ImageCorruptError{Msg: "CRC mismatch"}
	}
	if !bytes.Equal(body[0:4], magic[:]) {
		return nil, &ImageCorruptError{Msg: fmt.Sprintf("bad magic %q", body[0:4])}
	}
	version := le.Uint16(body[4:6])
	if version != Version {
		return nil, &UnsupportedVersionError{Version: version}
	}
	w := le.Uint32(body[6:10])
	if w == 0 || w%8 != 0 || w > 64 {
		return nil, &ImageCorruptError{Msg: fmt.Sprintf("bad word size %d", w)}
	}
	flags := le.Uint16(body[10:12])
	nSegments := le.Uint32(body[12:16])
	if le.Uint64(body[16:24]) != 0 {
		return nil, &ImageCorruptError{Msg: "bad reserved value (should be 0)"}
	}

	tableEnd := headerSize + int(nSegments)*segmentEntrySize
	if tableEnd > len(body) {
		return nil, &ImageCorruptError{Msg: "segment table past end of file"}
	}
	blob := body[tableEnd:]

	img := &Image{W: w, Flags: flags}
	wb := img.wordBytes()
	for i := 0; i < int(nSegments); i++ {
		entry := body[headerSize+i*segmentEntrySize:]
		startBit := le.Uint64(entry[0:8])
		lengthBits := le.Uint64(entry[8:16])
		dataOffset := le.Uint64(entry[16:24])
		dataLength := le.Uint64(entry[24:32])

		if startBit%uint64(w) != 0 {
			return nil, &ImageCorruptError{Msg: fmt.Sprintf("segment %d start %#x not w-aligned", i, startBit)}
		}
		if dataOffset+dataLength < dataOffset || dataOffset+dataLength > uint64(len(blob)) {
			return nil, &ImageCorruptError{Msg: fmt.Sprintf("segment %d data out of bounds", i)}
		}
		payload := blob[dataOffset : dataOffset+dataLength]
		if img.Compressed() {
			zr, err := zlib.NewReader(bytes.NewReader(payload))
			if err != nil {
				return nil, &ImageCorruptError{Msg: fmt.Sprintf("segment %d: %v", i, err)}
			}
			payload, err = io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return nil, &ImageCorruptError{Msg: fmt.Sprintf("segment %d: %v", i, err)}
			}
		}
		words, err := wordsFromPayload(payload, wb)
		if err != nil {
			return nil, err
		}
		if lengthBits < uint64(len(words))*uint64(w) {
			return nil, &ImageCorruptError{Msg: fmt.Sprintf("segment %d shorter than its data", i)}
		}
		img.Segments = append(img.Segments, Segment{StartBit: startBit, LengthBits: lengthBits, Words: words})
	}
	return img, nil
}

// Save writes the image to path.
func (img *Image) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create image file")
	}
	defer f.Close()
	return img.Write(f)
}

// Load reads an image from path.
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open image file")
	}
	defer f.Close()
	return Read(f)
}
