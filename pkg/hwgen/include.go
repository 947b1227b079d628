package hwgen

import (
	"fmt"
	"strings"

	"github.com/samcharles93/fabric/pkg/compiler"
)

// Include renders the Verilog parameter defines for d. Layer numbers are
// 1-based and count dense layers only.
func Include(d *compiler.Descriptor) string {
	p := d.Params()
	dense := d.DenseLayers()

	var sb strings.Builder
	sb.WriteString("`define pretrained\n")
	fmt.Fprintf(&sb, "`define numLayers %d\n", len(dense))
	fmt.Fprintf(&sb, "`define dataWidth %d\n", p.DataWidth)
	for _, l := range dense {
		spec, _ := l.Dense()
		n := l.DenseIndex() + 1
		fmt.Fprintf(&sb, "`define numNeuronLayer%d %d\n", n, spec.Units)
		fmt.Fprintf(&sb, "`define numWeightLayer%d %d\n", n, spec.Inputs)
		fmt.Fprintf(&sb, "`define Layer%dActType \"%s\"\n", n, spec.Activation)
	}
	fmt.Fprintf(&sb, "`define sigmoidSize %d\n", p.SigmoidSize)
	fmt.Fprintf(&sb, "`define weightIntWidth %d\n", p.WeightIntSize)
	fmt.Fprintf(&sb, "`define inputIntWidth %d\n", p.InputIntSize)
	return sb.String()
}
