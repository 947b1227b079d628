package fxc

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/samcharles93/fabric/pkg/compiler"
	"github.com/samcharles93/fabric/pkg/fxp"
	"github.com/samcharles93/fabric/pkg/graph"
	"github.com/samcharles93/fabric/pkg/tensor"
	"github.com/samcharles93/fabric/pkg/weights"
)

func mustTensor(t *testing.T, shape []int, data []float32) *tensor.Tensor {
	t.Helper()
	tt, err := tensor.New(shape, data)
	if err != nil {
		t.Fatalf("tensor.New: %v", err)
	}
	return tt
}

// smallDescriptor compiles flatten(4) -> dense(4,3,sigmoid) -> dense(3,2,hardmax)
// with a few values that saturate.
func smallDescriptor(t *testing.T) *compiler.Descriptor {
	t.Helper()
	store, err := weights.New(
		weights.Block{Layer: 0, Kind: weights.Weight, Tensor: mustTensor(t, []int{4, 3}, []float32{
			0.5, -0.25, 100,
			1.125, 0, -3.5,
			-100, 0.0625, 2,
			7.9, -8, 0.3,
		})},
		weights.Block{Layer: 0, Kind: weights.Bias, Tensor: mustTensor(t, []int{3}, []float32{0.1, -0.9, 5})},
		weights.Block{Layer: 1, Kind: weights.Weight, Tensor: mustTensor(t, []int{3, 2}, []float32{
			1, -1,
			0.5, 0.75,
			-2, 3,
		})},
		weights.Block{Layer: 1, Kind: weights.Bias, Tensor: mustTensor(t, []int{2}, []float32{0, -0.5})},
	)
	if err != nil {
		t.Fatalf("weights.New: %v", err)
	}
	layers := []graph.Layer{
		graph.Flatten{Size: 4},
		graph.Dense{Inputs: 4, Units: 3, Activation: graph.Sigmoid},
		graph.Dense{Inputs: 3, Units: 2, Activation: graph.Hardmax},
	}
	d, err := compiler.Compile(context.Background(), layers, store, fxp.DefaultParams())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if d.ClampCount() == 0 {
		t.Fatalf("fixture should saturate some values")
	}
	return d
}

func writeTemp(t *testing.T, d *compiler.Descriptor) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.fxc")
	if err := WriteFile(path, d); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestWriteLoadRoundTrip(t *testing.T) {
	t.Parallel()

	want := smallDescriptor(t)
	path := writeTemp(t, want)

	got, info, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if info.Format != FormatName || info.InputSize != 4 || info.OutputSize != 2 {
		t.Fatalf("unexpected model info: %+v", info)
	}
	if info.Clamped != want.ClampCount() || info.Parameters != want.Parameters() {
		t.Fatalf("info clamp/params = %d/%d, want %d/%d", info.Clamped, info.Parameters, want.ClampCount(), want.Parameters())
	}
	if info.SigmoidEntries != 1024 {
		t.Fatalf("sigmoid entries = %d, want 1024", info.SigmoidEntries)
	}

	if got.Params() != want.Params() || got.InputSize() != want.InputSize() || got.Len() != want.Len() {
		t.Fatalf("descriptor header mismatch")
	}
	for i := range want.Len() {
		wl, gl := want.Layer(i), got.Layer(i)
		if wl.Spec() != gl.Spec() {
			t.Fatalf("layer %d spec = %s, want %s", i, gl.Spec(), wl.Spec())
		}
		if wl.Weights() == nil {
			if gl.Weights() != nil {
				t.Fatalf("layer %d gained parameters", i)
			}
			continue
		}
		pairs := [][2]*fxp.QuantizedTensor{{wl.Weights(), gl.Weights()}, {wl.Biases(), gl.Biases()}}
		for _, p := range pairs {
			if !slices.Equal(p[0].Values(), p[1].Values()) {
				t.Fatalf("layer %d words differ", i)
			}
			if !slices.Equal(p[0].ClampMask(), p[1].ClampMask()) {
				t.Fatalf("layer %d clamp masks differ", i)
			}
			if p[0].Kind() != p[1].Kind() || !slices.Equal(p[0].Shape(), p[1].Shape()) {
				t.Fatalf("layer %d kind/shape differ", i)
			}
		}
	}
	if got.Sigmoid() == nil || !slices.Equal(got.Sigmoid().Entries(), want.Sigmoid().Entries()) {
		t.Fatalf("sigmoid table not rebuilt")
	}
}

func TestWriteDeterministic(t *testing.T) {
	t.Parallel()

	d := smallDescriptor(t)
	a, err := os.ReadFile(writeTemp(t, d))
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(writeTemp(t, d))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("two writes of the same descriptor differ")
	}
}

func TestHeaderLayout(t *testing.T) {
	t.Parallel()

	raw, err := os.ReadFile(writeTemp(t, smallDescriptor(t)))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw[0:4]) != MagicFXC {
		t.Fatalf("magic = %q", raw[0:4])
	}
	if got := binary.LittleEndian.Uint16(raw[4:6]); got != CurrentMajor {
		t.Fatalf("major = %d", got)
	}
	if got := binary.LittleEndian.Uint32(raw[12:16]); got != 4 {
		t.Fatalf("section count = %d, want 4", got)
	}
	if got := binary.LittleEndian.Uint64(raw[24:32]); got != uint64(len(raw)) {
		t.Fatalf("file size field = %d, want %d", got, len(raw))
	}

	f, err := OpenBytes(raw)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 1; i < len(f.Sections); i++ {
		if f.Sections[i-1].Type >= f.Sections[i].Type {
			t.Fatalf("directory not sorted by type: %+v", f.Sections)
		}
	}
	for _, s := range f.Sections {
		if s.Offset%align != 0 {
			t.Fatalf("section %s at unaligned offset %d", SectionType(s.Type), s.Offset)
		}
	}
}

func TestTensorDataIsLittleEndianInt32(t *testing.T) {
	t.Parallel()

	d := smallDescriptor(t)
	raw, err := os.ReadFile(writeTemp(t, d))
	if err != nil {
		t.Fatal(err)
	}
	f, err := OpenBytes(raw)
	if err != nil {
		t.Fatal(err)
	}
	recs, err := DecodeTensorIndex(f.SectionData(f.Section(SectionTensorIndex)))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 8 {
		t.Fatalf("index has %d records, want 8 (4 tensors + 4 masks)", len(recs))
	}

	w := d.DenseLayers()[0].Weights()
	rec := recs[0]
	if rec.Name != "dense.0.weight" || rec.DType != DTypeI32 || !slices.Equal(rec.Shape, []int{4, 3}) {
		t.Fatalf("first record = %+v", rec)
	}
	for i := range w.Len() {
		got := int32(binary.LittleEndian.Uint32(raw[rec.DataOff+uint64(i)*4:]))
		if got != w.At(i) {
			t.Fatalf("word %d = %d, want %d", i, got, w.At(i))
		}
	}

	quant, err := DecodeQuantInfo(f.SectionData(f.Section(SectionQuantInfo)))
	if err != nil {
		t.Fatal(err)
	}
	if len(quant) != 4 {
		t.Fatalf("quant records = %d, want 4", len(quant))
	}
	if q := quant[0]; q.TensorIndex != 0 || q.DataWidth != 8 || q.IntSize != 4 || int(q.ClampCount) != w.ClampCount() {
		t.Fatalf("first quant record = %+v", q)
	}
	if q := quant[1]; weights.Kind(q.Kind) != weights.Bias || fxp.WidthKind(q.Width) != fxp.WidthInput || q.IntSize != 1 {
		t.Fatalf("second quant record = %+v", q)
	}
}

func TestOpenRejectsDamage(t *testing.T) {
	t.Parallel()

	raw, err := os.ReadFile(writeTemp(t, smallDescriptor(t)))
	if err != nil {
		t.Fatal(err)
	}
	f, err := OpenBytes(raw)
	if err != nil {
		t.Fatal(err)
	}
	recs, err := DecodeTensorIndex(f.SectionData(f.Section(SectionTensorIndex)))
	if err != nil {
		t.Fatal(err)
	}
	firstWord := recs[0].DataOff
	indexSec := *f.Section(SectionTensorIndex)

	// The first weight's clamp mask is rewritten to cover a single value while
	// the weights keep their full shape.
	edited := slices.Clone(recs)
	for i := range edited {
		if edited[i].Name == "dense.0.weight.clamp" {
			edited[i].Shape = []int{1, 1}
			edited[i].DataSize = 1
		}
	}
	shrunk, err := EncodeTensorIndex(edited)
	if err != nil || uint64(len(shrunk)) != indexSec.Size {
		t.Fatalf("re-encode index: %d bytes, %v", len(shrunk), err)
	}
	shrinkMask := func(b []byte) []byte {
		copy(b[indexSec.Offset:indexSec.End()], shrunk)
		return b
	}

	tests := []struct {
		name   string
		mutate func(b []byte) []byte
		want   error
	}{
		{"magic", func(b []byte) []byte { b[0] = 'X'; return b }, ErrInvalidMagic},
		{"major", func(b []byte) []byte { binary.LittleEndian.PutUint16(b[4:6], 9); return b }, ErrUnsupportedMajor},
		{"truncated", func(b []byte) []byte { return b[:len(b)-3] }, ErrCorruptFile},
		{"short", func(b []byte) []byte { return b[:10] }, ErrCorruptFile},
		{"word out of range", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[firstWord:], 0x7fffffff)
			return b
		}, ErrCorruptFile},
		{"clamp mask shape", shrinkMask, ErrCorruptFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := tt.mutate(bytes.Clone(raw))
			f, err := OpenBytes(b)
			if err == nil {
				_, err = Decode(f)
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !IsFormatError(err) {
				t.Fatalf("IsFormatError(%v) = false", err)
			}
		})
	}
}

func TestOpenReaderAt(t *testing.T) {
	t.Parallel()

	raw, err := os.ReadFile(writeTemp(t, smallDescriptor(t)))
	if err != nil {
		t.Fatal(err)
	}
	f, err := OpenReaderAt(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := Decode(f); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestWriterRules(t *testing.T) {
	t.Parallel()

	file, err := os.Create(filepath.Join(t.TempDir(), "w.fxc"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = file.Close() }()

	w, err := NewWriter(file)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Finalise(); err == nil {
		t.Fatalf("finalise with no sections should fail")
	}

	w, err = NewWriter(file)
	if err != nil {
		t.Fatal(err)
	}
	sw, err := w.BeginSection(SectionTensorData, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteSection(SectionModelInfo, 1, []byte("{}")); err == nil {
		t.Fatalf("write during open section should fail")
	}
	if _, err := sw.Write([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := sw.End(); err != nil {
		t.Fatal(err)
	}
	if _, err := sw.Write([]byte{4}); err == nil {
		t.Fatalf("write after end should fail")
	}
	if err := w.WriteSection(SectionTensorData, 1, nil); err == nil {
		t.Fatalf("duplicate section should fail")
	}
	if err := w.WriteSection(SectionModelInfo, 1, []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if err := w.Finalise(); err != nil {
		t.Fatal(err)
	}

	f, err := Open(file.Name())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()
	data := f.SectionData(f.Section(SectionTensorData))
	if !bytes.Equal(data, []byte{1, 2, 3}) {
		t.Fatalf("tensor data = %v", data)
	}
	if f.Section(SectionQuantInfo) != nil {
		t.Fatalf("unexpected quant info section")
	}
}

func TestWriteRejectsNilDescriptor(t *testing.T) {
	t.Parallel()

	err := WriteFile(filepath.Join(t.TempDir(), "nil.fxc"), nil)
	if err == nil {
		t.Fatalf("expected error")
	}
}
