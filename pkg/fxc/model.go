package fxc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/goccy/go-json"

	"github.com/samcharles93/fabric/pkg/compiler"
	"github.com/samcharles93/fabric/pkg/fxp"
	"github.com/samcharles93/fabric/pkg/graph"
	"github.com/samcharles93/fabric/pkg/weights"
)

const (
	// FormatName tags the model info section.
	FormatName = "fabric.fxc"

	modelInfoVersion  uint32 = 1
	tensorDataVersion uint32 = 1
)

// ModelInfo is the JSON payload of the model info section.
type ModelInfo struct {
	Format         string       `json:"format"`
	InputSize      int          `json:"input_size"`
	OutputSize     int          `json:"output_size"`
	Params         fxp.Params   `json:"params"`
	Layers         []graph.Spec `json:"layers"`
	Parameters     int          `json:"parameters"`
	Clamped        int          `json:"clamped"`
	SigmoidEntries int          `json:"sigmoid_entries,omitempty"`
}

// InfoOf summarises d.
func InfoOf(d *compiler.Descriptor) ModelInfo {
	info := ModelInfo{
		Format:     FormatName,
		InputSize:  d.InputSize(),
		OutputSize: d.OutputSize(),
		Params:     d.Params(),
		Layers:     graph.Specs(d.Specs()),
		Parameters: d.Parameters(),
		Clamped:    d.ClampCount(),
	}
	if lut := d.Sigmoid(); lut != nil {
		info.SigmoidEntries = lut.Len()
	}
	return info
}

// TensorName is the index name of a dense layer's parameter tensor.
func TensorName(denseIndex int, kind weights.Kind) string {
	return fmt.Sprintf("dense.%d.%s", denseIndex, kind)
}

func clampName(denseIndex int, kind weights.Kind) string {
	return TensorName(denseIndex, kind) + ".clamp"
}

// WriteFile writes d to path, replacing any existing file.
func WriteFile(path string, d *compiler.Descriptor) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return Write(f, d)
}

// Write encodes a verified descriptor into f. Sections are written in a fixed
// order so identical descriptors produce identical files.
func Write(f *os.File, d *compiler.Descriptor) error {
	if err := d.Verify(); err != nil {
		return fmt.Errorf("fxc: refusing to write unverified descriptor: %w", err)
	}

	w, err := NewWriter(f)
	if err != nil {
		return err
	}

	info, err := json.Marshal(InfoOf(d))
	if err != nil {
		return fmt.Errorf("fxc: encode model info: %w", err)
	}
	if err := w.WriteSection(SectionModelInfo, modelInfoVersion, info); err != nil {
		return err
	}

	sw, err := w.BeginSection(SectionTensorData, tensorDataVersion)
	if err != nil {
		return err
	}
	var recs []TensorRecord
	var quant []QuantRecord
	for _, l := range d.DenseLayers() {
		for _, kind := range []weights.Kind{weights.Weight, weights.Bias} {
			q := l.Weights()
			if kind == weights.Bias {
				q = l.Biases()
			}

			rec, err := writeWords(sw, TensorName(l.DenseIndex(), kind), q)
			if err != nil {
				return err
			}
			lo, hi := minMax(q)
			quant = append(quant, QuantRecord{
				TensorIndex: uint32(len(recs)),
				DenseIndex:  uint32(l.DenseIndex()),
				Kind:        uint8(kind),
				Width:       uint8(q.Kind()),
				DataWidth:   uint8(q.Params().DataWidth),
				IntSize:     uint8(q.Params().IntSize(q.Kind())),
				ClampCount:  uint32(q.ClampCount()),
				MinWord:     lo,
				MaxWord:     hi,
			})
			recs = append(recs, rec)

			mask, err := writeMask(sw, clampName(l.DenseIndex(), kind), q)
			if err != nil {
				return err
			}
			recs = append(recs, mask)
		}
	}
	if err := sw.End(); err != nil {
		return err
	}

	index, err := EncodeTensorIndex(recs)
	if err != nil {
		return err
	}
	if err := w.WriteSection(SectionTensorIndex, TensorIndexVersion, index); err != nil {
		return err
	}
	if err := w.WriteSection(SectionQuantInfo, QuantInfoVersion, EncodeQuantInfo(quant)); err != nil {
		return err
	}
	return w.Finalise()
}

func writeWords(sw *SectionWriter, name string, q *fxp.QuantizedTensor) (TensorRecord, error) {
	if err := sw.Align(align); err != nil {
		return TensorRecord{}, err
	}
	off := sw.Offset()
	buf := make([]byte, 4*q.Len())
	for i := range q.Len() {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(q.At(i)))
	}
	if _, err := sw.Write(buf); err != nil {
		return TensorRecord{}, err
	}
	return TensorRecord{Name: name, DType: DTypeI32, Shape: q.Shape(), DataOff: off, DataSize: uint64(len(buf))}, nil
}

func writeMask(sw *SectionWriter, name string, q *fxp.QuantizedTensor) (TensorRecord, error) {
	if err := sw.Align(align); err != nil {
		return TensorRecord{}, err
	}
	off := sw.Offset()
	buf := make([]byte, (q.Len()+7)/8)
	for i := range q.Len() {
		if q.Clamped(i) {
			buf[i/8] |= 1 << (i % 8)
		}
	}
	if _, err := sw.Write(buf); err != nil {
		return TensorRecord{}, err
	}
	return TensorRecord{Name: name, DType: DTypeBits, Shape: q.Shape(), DataOff: off, DataSize: uint64(len(buf))}, nil
}

func minMax(q *fxp.QuantizedTensor) (int32, int32) {
	if q.Len() == 0 {
		return 0, 0
	}
	lo, hi := q.At(0), q.At(0)
	for i := 1; i < q.Len(); i++ {
		v := q.At(i)
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}

// ReadModelInfo decodes the model info section only.
func ReadModelInfo(f *File) (ModelInfo, error) {
	var info ModelInfo
	sec := f.Section(SectionModelInfo)
	if sec == nil {
		return info, fmt.Errorf("%w: missing %s section", ErrCorruptFile, SectionModelInfo)
	}
	if sec.Version != modelInfoVersion {
		return info, fmt.Errorf("%w: %s version %d", ErrUnsupportedMinor, SectionModelInfo, sec.Version)
	}
	if err := json.Unmarshal(f.SectionData(sec), &info); err != nil {
		return info, fmt.Errorf("%w: model info: %v", ErrCorruptFile, err)
	}
	if info.Format != FormatName {
		return info, fmt.Errorf("%w: model info format %q", ErrCorruptFile, info.Format)
	}
	return info, nil
}

// Decode rebuilds and verifies the descriptor stored in f. The result owns its
// memory and stays valid after f is closed.
func Decode(f *File) (*compiler.Descriptor, error) {
	info, err := ReadModelInfo(f)
	if err != nil {
		return nil, err
	}

	specs := make([]graph.Layer, len(info.Layers))
	for i, s := range info.Layers {
		if specs[i], err = s.Layer(); err != nil {
			return nil, fmt.Errorf("%w: layer %d: %v", ErrCorruptFile, i, err)
		}
	}

	data := f.Section(SectionTensorData)
	idxSec := f.Section(SectionTensorIndex)
	qSec := f.Section(SectionQuantInfo)
	if data == nil || idxSec == nil || qSec == nil {
		return nil, fmt.Errorf("%w: missing tensor sections", ErrCorruptFile)
	}
	if data.Version != tensorDataVersion {
		return nil, fmt.Errorf("%w: %s version %d", ErrUnsupportedMinor, SectionTensorData, data.Version)
	}
	recs, err := DecodeTensorIndex(f.SectionData(idxSec))
	if err != nil {
		return nil, err
	}
	quant, err := DecodeQuantInfo(f.SectionData(qSec))
	if err != nil {
		return nil, err
	}

	byName := make(map[string]int, len(recs))
	for i, r := range recs {
		byName[r.Name] = i
	}
	byTensor := make(map[uint32]QuantRecord, len(quant))
	for _, q := range quant {
		byTensor[q.TensorIndex] = q
	}

	w := make([]*fxp.QuantizedTensor, len(specs))
	b := make([]*fxp.QuantizedTensor, len(specs))
	dense := 0
	for i, s := range specs {
		if _, ok := s.(graph.Dense); !ok {
			continue
		}
		if w[i], err = decodeTensor(f, data, recs, byName, byTensor, dense, weights.Weight, info.Params); err != nil {
			return nil, err
		}
		if b[i], err = decodeTensor(f, data, recs, byName, byTensor, dense, weights.Bias, info.Params); err != nil {
			return nil, err
		}
		dense++
	}

	d, err := compiler.Assemble(info.InputSize, info.Params, specs, w, b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}
	return d, nil
}

func decodeTensor(f *File, data *Section, recs []TensorRecord, byName map[string]int, byTensor map[uint32]QuantRecord, denseIndex int, kind weights.Kind, p fxp.Params) (*fxp.QuantizedTensor, error) {
	name := TensorName(denseIndex, kind)
	ti, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: tensor %q not indexed", ErrCorruptFile, name)
	}
	qr, ok := byTensor[uint32(ti)]
	if !ok {
		return nil, fmt.Errorf("%w: tensor %q has no quant record", ErrCorruptFile, name)
	}
	if qr.DenseIndex != uint32(denseIndex) || weights.Kind(qr.Kind) != kind || int(qr.DataWidth) != p.DataWidth {
		return nil, fmt.Errorf("%w: tensor %q quant record disagrees with model info", ErrCorruptFile, name)
	}

	rec := recs[ti]
	if rec.DType != DTypeI32 {
		return nil, fmt.Errorf("%w: tensor %q has dtype %s", ErrCorruptFile, name, rec.DType)
	}
	raw, err := payload(f, data, rec)
	if err != nil {
		return nil, err
	}
	values := make([]int32, len(raw)/4)
	for i := range values {
		values[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
	}

	var clamped []bool
	if mi, ok := byName[clampName(denseIndex, kind)]; ok {
		mrec := recs[mi]
		if mrec.DType != DTypeBits {
			return nil, fmt.Errorf("%w: clamp mask for %q has dtype %s", ErrCorruptFile, name, mrec.DType)
		}
		if !slices.Equal(mrec.Shape, rec.Shape) {
			return nil, fmt.Errorf("%w: clamp mask for %q has shape %v, tensor has %v", ErrCorruptFile, name, mrec.Shape, rec.Shape)
		}
		bits, err := payload(f, data, mrec)
		if err != nil {
			return nil, err
		}
		if len(bits) < (len(values)+7)/8 {
			return nil, fmt.Errorf("%w: clamp mask for %q holds %d bytes for %d values", ErrCorruptFile, name, len(bits), len(values))
		}
		clamped = make([]bool, len(values))
		n := 0
		for i := range clamped {
			clamped[i] = bits[i/8]&(1<<(i%8)) != 0
			if clamped[i] {
				n++
			}
		}
		if uint32(n) != qr.ClampCount {
			return nil, fmt.Errorf("%w: tensor %q clamp mask has %d bits set, record says %d", ErrCorruptFile, name, n, qr.ClampCount)
		}
	}

	q, err := fxp.NewQuantizedTensor(rec.Shape, values, clamped, p, fxp.WidthKind(qr.Width))
	if err != nil {
		return nil, fmt.Errorf("%w: tensor %q: %v", ErrCorruptFile, name, err)
	}
	return q, nil
}

// payload slices a tensor's bytes, checking they lie inside the data section
// and match the size its dtype and shape imply.
func payload(f *File, data *Section, rec TensorRecord) ([]byte, error) {
	n := 1
	for _, d := range rec.Shape {
		n *= d
	}
	want, ok := rec.DType.Size(n)
	if !ok || want != rec.DataSize {
		return nil, fmt.Errorf("%w: tensor %q size %d does not match %s%v", ErrCorruptFile, rec.Name, rec.DataSize, rec.DType, rec.Shape)
	}
	end := rec.DataOff + rec.DataSize
	if end < rec.DataOff || rec.DataOff < data.Offset || end > data.End() {
		return nil, fmt.Errorf("%w: tensor %q outside data section", ErrCorruptFile, rec.Name)
	}
	return f.Data[rec.DataOff:end], nil
}

// Load opens path, decodes the descriptor and closes the file.
func Load(path string) (*compiler.Descriptor, ModelInfo, error) {
	f, err := Open(path)
	if err != nil {
		return nil, ModelInfo{}, err
	}
	defer func() { _ = f.Close() }()

	info, err := ReadModelInfo(f)
	if err != nil {
		return nil, info, err
	}
	d, err := Decode(f)
	if err != nil {
		return nil, info, err
	}
	return d, info, nil
}

// IsFormatError reports whether err comes from a malformed or incompatible file.
func IsFormatError(err error) bool {
	return errors.Is(err, ErrCorruptFile) || errors.Is(err, ErrInvalidMagic) ||
		errors.Is(err, ErrUnsupportedMajor) || errors.Is(err, ErrUnsupportedMinor)
}
