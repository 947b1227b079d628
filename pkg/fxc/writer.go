package fxc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
)

var (
	errFinalised     = errors.New("fxc: writer already finalised")
	errSectionOpen   = errors.New("fxc: section write in progress")
	errSectionClosed = errors.New("fxc: section writer ended")
)

// Writer lays a container out front to back: a zeroed header, the sections in
// the order they are written, then the directory. Finalise patches the header
// in place. A Writer is used from one goroutine.
type Writer struct {
	f    *os.File
	bw   *bufio.Writer
	pos  uint64
	dir  []Section
	used map[SectionType]bool
	cur  *SectionWriter
	done bool
}

// SectionWriter streams the payload of one section. Padding written by Align
// counts towards the section size.
type SectionWriter struct {
	w   *Writer
	sec Section
}

// NewWriter truncates f and reserves the header.
func NewWriter(f *os.File) (*Writer, error) {
	if f == nil {
		return nil, errors.New("fxc: nil file")
	}
	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	w := &Writer{f: f, bw: bufio.NewWriter(f), used: make(map[SectionType]bool)}
	if err := w.pad(headerSize); err != nil {
		return nil, err
	}
	return w, w.align(align)
}

func (w *Writer) start(typ SectionType, version uint32) (Section, error) {
	switch {
	case w.done:
		return Section{}, errFinalised
	case w.cur != nil:
		return Section{}, errSectionOpen
	case w.used[typ]:
		return Section{}, fmt.Errorf("fxc: duplicate %s section", typ)
	}
	if err := w.align(align); err != nil {
		return Section{}, err
	}
	w.used[typ] = true
	return Section{Type: uint32(typ), Version: version, Offset: w.pos}, nil
}

// WriteSection writes a complete section payload.
func (w *Writer) WriteSection(typ SectionType, version uint32, data []byte) error {
	sec, err := w.start(typ, version)
	if err != nil {
		return err
	}
	if err := w.write(data); err != nil {
		return err
	}
	sec.Size = uint64(len(data))
	w.dir = append(w.dir, sec)
	return nil
}

// BeginSection opens a streamed section. No other section may be written
// until it is ended.
func (w *Writer) BeginSection(typ SectionType, version uint32) (*SectionWriter, error) {
	sec, err := w.start(typ, version)
	if err != nil {
		return nil, err
	}
	w.cur = &SectionWriter{w: w, sec: sec}
	return w.cur, nil
}

func (sw *SectionWriter) check() error {
	if sw.w.cur != sw {
		return errSectionClosed
	}
	return nil
}

// Offset is the absolute file offset the next Write lands at.
func (sw *SectionWriter) Offset() uint64 { return sw.w.pos }

func (sw *SectionWriter) Write(p []byte) (int, error) {
	if err := sw.check(); err != nil {
		return 0, err
	}
	if err := sw.w.write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Align zero-pads until Offset is a multiple of n.
func (sw *SectionWriter) Align(n uint64) error {
	if err := sw.check(); err != nil {
		return err
	}
	return sw.w.align(n)
}

// End closes the section and adds it to the directory.
func (sw *SectionWriter) End() error {
	if err := sw.check(); err != nil {
		return err
	}
	sw.sec.Size = sw.w.pos - sw.sec.Offset
	sw.w.dir = append(sw.w.dir, sw.sec)
	sw.w.cur = nil
	return nil
}

// Finalise writes the directory sorted by section type, patches the header and
// syncs the file.
func (w *Writer) Finalise() error {
	switch {
	case w.done:
		return errFinalised
	case w.cur != nil:
		return errSectionOpen
	case len(w.dir) == 0:
		return errors.New("fxc: no sections written")
	}
	w.done = true

	slices.SortFunc(w.dir, func(a, b Section) int { return int(a.Type) - int(b.Type) })
	if err := w.align(align); err != nil {
		return err
	}
	dirOffset := w.pos
	var entry [sectionSize]byte
	for _, s := range w.dir {
		encodeSection(entry[:], s)
		if err := w.write(entry[:]); err != nil {
			return err
		}
	}
	if err := w.bw.Flush(); err != nil {
		return err
	}

	h := Header{
		Major:            CurrentMajor,
		Minor:            CurrentMinor,
		HeaderSize:       headerSize,
		SectionCount:     uint32(len(w.dir)),
		SectionDirOffset: dirOffset,
		FileSize:         w.pos,
	}
	copy(h.Magic[:], MagicFXC)
	var hdr [headerSize]byte
	encodeHeader(hdr[:], h)
	if _, err := w.f.WriteAt(hdr[:], 0); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *Writer) write(p []byte) error {
	n, err := w.bw.Write(p)
	w.pos += uint64(n)
	return err
}

func (w *Writer) pad(n uint64) error {
	var zeros [align]byte
	for n > 0 {
		k := min(n, uint64(len(zeros)))
		if err := w.write(zeros[:k]); err != nil {
			return err
		}
		n -= k
	}
	return nil
}

func (w *Writer) align(n uint64) error {
	if n <= 1 || w.pos%n == 0 {
		return nil
	}
	return w.pad(n - w.pos%n)
}
