package fxc

import (
	"encoding/binary"
	"fmt"
)

// TensorIndexVersion is the on-disk version of the tensor index payload.
const TensorIndexVersion uint32 = 1

// DType identifies how a tensor's bytes are encoded. Values are stable.
type DType uint32

const (
	DTypeUnknown DType = iota
	// DTypeI32 is one little-endian int32 word per element.
	DTypeI32
	// DTypeBits is a packed bitset, one bit per element, LSB first.
	DTypeBits
)

func (d DType) String() string {
	switch d {
	case DTypeI32:
		return "i32"
	case DTypeBits:
		return "bits"
	default:
		return "unknown"
	}
}

// Payload size in bytes for n elements.
func (d DType) Size(n int) (uint64, bool) {
	switch d {
	case DTypeI32:
		return uint64(n) * 4, true
	case DTypeBits:
		return uint64(n+7) / 8, true
	default:
		return 0, false
	}
}

// TensorRecord is one tensor index entry. DataOff is an absolute file offset so
// a payload can be sliced straight out of the mapping.
type TensorRecord struct {
	Name     string
	DType    DType
	Shape    []int
	DataOff  uint64
	DataSize uint64
}

// Index layout:
//
//	header   16 bytes: version u32, count u32, dims u32, strings u32
//	entries  count * 32 bytes: nameOff u32, nameLen u32, dtype u32, rank u32,
//	         dataOff u64, dataSize u64
//	dims     dims * u32 (shapes, concatenated in entry order)
//	strings  raw names
const (
	indexHeaderSize = 16
	indexEntrySize  = 32
)

// EncodeTensorIndex serialises records in the given order.
func EncodeTensorIndex(recs []TensorRecord) ([]byte, error) {
	var dims, strs int
	for _, r := range recs {
		if r.Name == "" {
			return nil, fmt.Errorf("fxc: tensor record without name")
		}
		dims += len(r.Shape)
		strs += len(r.Name)
	}

	size := indexHeaderSize + len(recs)*indexEntrySize + dims*4 + strs
	b := make([]byte, size)
	binary.LittleEndian.PutUint32(b[0:4], TensorIndexVersion)
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(recs)))
	binary.LittleEndian.PutUint32(b[8:12], uint32(dims))
	binary.LittleEndian.PutUint32(b[12:16], uint32(strs))

	dimBase := indexHeaderSize + len(recs)*indexEntrySize
	strBase := dimBase + dims*4
	dimPos, strPos := 0, 0
	for i, r := range recs {
		e := b[indexHeaderSize+i*indexEntrySize:]
		binary.LittleEndian.PutUint32(e[0:4], uint32(strPos))
		binary.LittleEndian.PutUint32(e[4:8], uint32(len(r.Name)))
		binary.LittleEndian.PutUint32(e[8:12], uint32(r.DType))
		binary.LittleEndian.PutUint32(e[12:16], uint32(len(r.Shape)))
		binary.LittleEndian.PutUint64(e[16:24], r.DataOff)
		binary.LittleEndian.PutUint64(e[24:32], r.DataSize)

		for _, d := range r.Shape {
			if d < 0 || uint64(d) > uint64(^uint32(0)) {
				return nil, fmt.Errorf("fxc: tensor %q: dimension %d out of range", r.Name, d)
			}
			binary.LittleEndian.PutUint32(b[dimBase+dimPos*4:], uint32(d))
			dimPos++
		}
		copy(b[strBase+strPos:], r.Name)
		strPos += len(r.Name)
	}
	return b, nil
}

// DecodeTensorIndex parses and bounds-checks a tensor index payload.
func DecodeTensorIndex(sec []byte) ([]TensorRecord, error) {
	if len(sec) < indexHeaderSize {
		return nil, ErrCorruptFile
	}
	if v := binary.LittleEndian.Uint32(sec[0:4]); v != TensorIndexVersion {
		return nil, fmt.Errorf("%w: tensor index version %d", ErrUnsupportedMinor, v)
	}
	count := uint64(binary.LittleEndian.Uint32(sec[4:8]))
	dims := uint64(binary.LittleEndian.Uint32(sec[8:12]))
	strs := uint64(binary.LittleEndian.Uint32(sec[12:16]))

	dimBase := indexHeaderSize + count*indexEntrySize
	strBase := dimBase + dims*4
	if strBase+strs != uint64(len(sec)) {
		return nil, fmt.Errorf("%w: tensor index size mismatch", ErrCorruptFile)
	}

	recs := make([]TensorRecord, count)
	var dimPos uint64
	for i := range recs {
		e := sec[indexHeaderSize+uint64(i)*indexEntrySize:]
		nameOff := uint64(binary.LittleEndian.Uint32(e[0:4]))
		nameLen := uint64(binary.LittleEndian.Uint32(e[4:8]))
		rank := uint64(binary.LittleEndian.Uint32(e[12:16]))
		if nameOff+nameLen > strs || dimPos+rank > dims {
			return nil, fmt.Errorf("%w: tensor index entry %d out of bounds", ErrCorruptFile, i)
		}

		shape := make([]int, rank)
		for k := range shape {
			shape[k] = int(binary.LittleEndian.Uint32(sec[dimBase+(dimPos+uint64(k))*4:]))
		}
		dimPos += rank

		recs[i] = TensorRecord{
			Name:     string(sec[strBase+nameOff : strBase+nameOff+nameLen]),
			DType:    DType(binary.LittleEndian.Uint32(e[8:12])),
			Shape:    shape,
			DataOff:  binary.LittleEndian.Uint64(e[16:24]),
			DataSize: binary.LittleEndian.Uint64(e[24:32]),
		}
	}
	return recs, nil
}

// QuantInfoVersion is the on-disk version of the quant info payload.
const QuantInfoVersion uint32 = 1

const (
	quantHeaderSize = 8
	quantRecordSize = 24
)

// QuantRecord describes how one stored parameter tensor was quantised.
type QuantRecord struct {
	TensorIndex uint32
	DenseIndex  uint32
	Kind        uint8 // weights.Kind
	Width       uint8 // fxp.WidthKind
	DataWidth   uint8
	IntSize     uint8
	ClampCount  uint32
	MinWord     int32
	MaxWord     int32
}

func EncodeQuantInfo(recs []QuantRecord) []byte {
	b := make([]byte, quantHeaderSize+len(recs)*quantRecordSize)
	binary.LittleEndian.PutUint32(b[0:4], QuantInfoVersion)
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(recs)))
	for i, r := range recs {
		e := b[quantHeaderSize+i*quantRecordSize:]
		binary.LittleEndian.PutUint32(e[0:4], r.TensorIndex)
		binary.LittleEndian.PutUint32(e[4:8], r.DenseIndex)
		e[8] = r.Kind
		e[9] = r.Width
		e[10] = r.DataWidth
		e[11] = r.IntSize
		binary.LittleEndian.PutUint32(e[12:16], r.ClampCount)
		binary.LittleEndian.PutUint32(e[16:20], uint32(r.MinWord))
		binary.LittleEndian.PutUint32(e[20:24], uint32(r.MaxWord))
	}
	return b
}

func DecodeQuantInfo(sec []byte) ([]QuantRecord, error) {
	if len(sec) < quantHeaderSize {
		return nil, ErrCorruptFile
	}
	if v := binary.LittleEndian.Uint32(sec[0:4]); v != QuantInfoVersion {
		return nil, fmt.Errorf("%w: quant info version %d", ErrUnsupportedMinor, v)
	}
	n := uint64(binary.LittleEndian.Uint32(sec[4:8]))
	if quantHeaderSize+n*quantRecordSize != uint64(len(sec)) {
		return nil, fmt.Errorf("%w: quant info size mismatch", ErrCorruptFile)
	}
	recs := make([]QuantRecord, n)
	for i := range recs {
		e := sec[quantHeaderSize+i*quantRecordSize:]
		recs[i] = QuantRecord{
			TensorIndex: binary.LittleEndian.Uint32(e[0:4]),
			DenseIndex:  binary.LittleEndian.Uint32(e[4:8]),
			Kind:        e[8],
			Width:       e[9],
			DataWidth:   e[10],
			IntSize:     e[11],
			ClampCount:  binary.LittleEndian.Uint32(e[12:16]),
			MinWord:     int32(binary.LittleEndian.Uint32(e[16:20])),
			MaxWord:     int32(binary.LittleEndian.Uint32(e[20:24])),
		}
	}
	return recs, nil
}
