package tensor

import "testing"

func TestNewCopiesInput(t *testing.T) {
	t.Parallel()

	shape := []int{2, 3}
	data := []float32{1, 2, 3, 4, 5, 6}
	tt, err := New(shape, data)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	shape[0] = 9
	data[0] = 42
	if !tt.ShapeEqual(2, 3) {
		t.Fatalf("shape aliased caller slice: %v", tt.Shape())
	}
	if tt.At(0) != 1 {
		t.Fatalf("data aliased caller slice: got %v", tt.At(0))
	}

	vals := tt.Values()
	vals[1] = 99
	if tt.At(1) != 2 {
		t.Fatalf("Values leaked internal storage")
	}
	s := tt.Shape()
	s[1] = 99
	if tt.Dim(1) != 3 {
		t.Fatalf("Shape leaked internal storage")
	}
}

func TestNewRejectsBadShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		shape []int
		n     int
	}{
		{"empty", nil, 0},
		{"zero extent", []int{0, 3}, 0},
		{"negative extent", []int{-1}, 1},
		{"count mismatch", []int{2, 2}, 3},
	}
	for _, tc := range tests {
		if _, err := New(tc.shape, make([]float32, tc.n)); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestShapeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		shape []int
		want  string
	}{
		{nil, "()"},
		{[]int{30}, "(30,)"},
		{[]int{784, 30}, "(784,30)"},
		{[]int{1, 2, 3}, "(1,2,3)"},
	}
	for _, tc := range tests {
		if got := ShapeString(tc.shape); got != tc.want {
			t.Errorf("ShapeString(%v): got %q want %q", tc.shape, got, tc.want)
		}
	}
}
