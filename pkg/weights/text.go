package weights

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/samcharles93/fabric/pkg/tensor"
)

const maxLineBytes = 64 << 20

// pendingBlock accumulates the values following a header line.
type pendingBlock struct {
	line   int
	layer  int
	kind   Kind
	shape  []int
	want   int
	values []float32
}

// Load parses the block text format:
//
//	# comments and blank lines are ignored
//	layer 0 weight 784 30
//	0.12 -0.5 ...
//	layer 0 bias 30
//	0.01 ...
//
// Values belong to the most recent header and may span any number of lines.
// Weight blocks are (inputs, units) row-major; bias blocks are (units,).
func Load(r io.Reader) (*Store, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		blocks []Block
		cur    *pendingBlock
		lineNo int
	)

	flush := func() error {
		if cur == nil {
			return nil
		}
		if len(cur.values) != cur.want {
			return formatErrorf(cur.line, "layer %d %s: shape %s declares %d values, found %d",
				cur.layer, cur.kind, tensor.ShapeString(cur.shape), cur.want, len(cur.values))
		}
		t, err := tensor.New(cur.shape, cur.values)
		if err != nil {
			return formatErrorf(cur.line, "%v", err)
		}
		blocks = append(blocks, Block{Layer: cur.layer, Kind: cur.kind, Tensor: t})
		cur = nil
		return nil
	}

	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if strings.EqualFold(fields[0], "layer") {
			if err := flush(); err != nil {
				return nil, err
			}
			pb, err := parseHeader(lineNo, fields)
			if err != nil {
				return nil, err
			}
			cur = pb
			continue
		}

		if cur == nil {
			return nil, formatErrorf(lineNo, "values before any layer header")
		}
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, formatErrorf(lineNo, "layer %d %s: invalid value %q", cur.layer, cur.kind, f)
			}
			if len(cur.values) == cur.want {
				return nil, formatErrorf(lineNo, "layer %d %s: shape %s declares %d values, found more",
					cur.layer, cur.kind, tensor.ShapeString(cur.shape), cur.want)
			}
			cur.values = append(cur.values, float32(v))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("weights: read source: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, formatErrorf(0, "source contains no blocks")
	}

	s, err := New(blocks...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// parseHeader reads "layer <index> <kind> <dim>...".
func parseHeader(line int, fields []string) (*pendingBlock, error) {
	if len(fields) < 4 {
		return nil, formatErrorf(line, "header needs layer index, kind and at least one dimension")
	}
	layer, err := strconv.Atoi(fields[1])
	if err != nil || layer < 0 {
		return nil, formatErrorf(line, "invalid layer index %q", fields[1])
	}
	kind, err := ParseKind(fields[2])
	if err != nil {
		return nil, formatErrorf(line, "%v", err)
	}
	shape := make([]int, 0, len(fields)-3)
	for _, f := range fields[3:] {
		d, err := strconv.Atoi(f)
		if err != nil || d <= 0 {
			return nil, formatErrorf(line, "layer %d %s: invalid dimension %q", layer, kind, f)
		}
		shape = append(shape, d)
	}
	n, err := tensor.NumElements(shape)
	if err != nil {
		return nil, formatErrorf(line, "layer %d %s: %v", layer, kind, err)
	}
	return &pendingBlock{
		line:   line,
		layer:  layer,
		kind:   kind,
		shape:  shape,
		want:   n,
		values: make([]float32, 0, min(n, 1<<20)),
	}, nil
}

// Encode writes the store in the block text format accepted by Load.
// Each line holds one row of the innermost axis.
func (s *Store) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, b := range s.Blocks() {
		shape := b.Tensor.Shape()
		if _, err := fmt.Fprintf(bw, "layer %d %s", b.Layer, b.Kind); err != nil {
			return err
		}
		for _, d := range shape {
			if _, err := fmt.Fprintf(bw, " %d", d); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}

		row := shape[len(shape)-1]
		buf := make([]byte, 0, 32)
		for i := 0; i < b.Tensor.Len(); i++ {
			buf = buf[:0]
			if i%row != 0 {
				buf = append(buf, ' ')
			}
			buf = strconv.AppendFloat(buf, float64(b.Tensor.At(i)), 'g', -1, 32)
			if i%row == row-1 {
				buf = append(buf, '\n')
			}
			if _, err := bw.Write(buf); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
