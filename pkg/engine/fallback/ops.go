package fallback

import (
	"fmt"
	"math"
	"slices"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
)

// rowsCols views a tensor as a matrix: scalars are 1x1, vectors are 1xn.
func rowsCols(d *api.InlineData) (int, int, error) {
	dims := d.GetDimensions()
	switch len(dims) {
	case 0:
		if len(d.GetValues()) != 1 {
			return 0, 0, fmt.Errorf("scalar tensor has %d values", len(d.GetValues()))
		}
		return 1, 1, nil
	case 1:
		return 1, int(dims[0]), nil
	case 2:
		return int(dims[0]), int(dims[1]), nil
	default:
		return 0, 0, fmt.Errorf("tensor has %d dimensions, expected at most 2", len(dims))
	}
}

func lastDim(d *api.InlineData) int {
	dims := d.GetDimensions()
	if len(dims) == 0 {
		return 1
	}
	return int(dims[len(dims)-1])
}

// broadcast applies fn elementwise. The smaller operand may be a scalar or a
// vector matching the last dimension of the larger one.
func broadcast(a, b *api.InlineData, fn func(x, y float32) float32) (*api.InlineData, error) {
	av, bv := a.GetValues(), b.GetValues()
	swapped := false
	if len(bv) > len(av) {
		a, b, av, bv = b, a, bv, av
		swapped = true
	}
	apply := func(x, y float32) float32 {
		if swapped {
			return fn(y, x)
		}
		return fn(x, y)
	}

	out := &api.InlineData{
		Dimensions: slices.Clone(a.GetDimensions()),
		Values:     make([]float32, len(av)),
	}
	switch {
	case len(av) == len(bv):
		if len(a.GetDimensions()) == len(b.GetDimensions()) && !slices.Equal(a.GetDimensions(), b.GetDimensions()) {
			return nil, fmt.Errorf("shape mismatch %v vs %v", a.GetDimensions(), b.GetDimensions())
		}
		for i := range av {
			out.Values[i] = apply(av[i], bv[i])
		}
	case len(bv) == 1:
		for i := range av {
			out.Values[i] = apply(av[i], bv[0])
		}
	case len(bv) == lastDim(a):
		cols := len(bv)
		for i := range av {
			out.Values[i] = apply(av[i], bv[i%cols])
		}
	default:
		return nil, fmt.Errorf("cannot broadcast shape %v against %v", b.GetDimensions(), a.GetDimensions())
	}
	return out, nil
}

func linearScale(source *api.InlineData, scale float32) *api.InlineData {
	out := &api.InlineData{
		Dimensions: slices.Clone(source.GetDimensions()),
		Values:     make([]float32, len(source.GetValues())),
	}
	for i, v := range source.GetValues() {
		out.Values[i] = v * scale
	}
	return out
}

func rmsNorm(source *api.InlineData, epsilon float32) *api.InlineData {
	values := source.GetValues()
	sumX2 := float32(0)
	for _, v := range values {
		sumX2 += v * v
	}
	mean := sumX2 / float32(len(values))
	rms := float32(1.0 / math.Sqrt(float64(mean)+float64(epsilon)))
	return linearScale(source, rms)
}

func matMul(a, b *api.InlineData, transposeA, transposeB bool) (*api.InlineData, error) {
	ar, ac, err := rowsCols(a)
	if err != nil {
		return nil, err
	}
	br, bc, err := rowsCols(b)
	if err != nil {
		return nil, err
	}

	// at(i, k) reads the logical (possibly transposed) element.
	aAt := func(i, k int) float32 { return a.Values[i*ac+k] }
	if transposeA {
		ar, ac = ac, ar
		aAt = func(i, k int) float32 { return a.Values[k*ar+i] }
	}
	bAt := func(k, j int) float32 { return b.Values[k*bc+j] }
	if transposeB {
		br, bc = bc, br
		bAt = func(k, j int) float32 { return b.Values[j*br+k] }
	}
	if ac != br {
		return nil, fmt.Errorf("matmul inner dimensions differ: %dx%d * %dx%d", ar, ac, br, bc)
	}

	out := &api.InlineData{
		Dimensions: []int32{int32(ar), int32(bc)},
		Values:     make([]float32, ar*bc),
	}
	for i := 0; i < ar; i++ {
		for j := 0; j < bc; j++ {
			sum := float32(0)
			for k := 0; k < ac; k++ {
				sum += aAt(i, k) * bAt(k, j)
			}
			out.Values[i*bc+j] = sum
		}
	}
	return out, nil
}

func transpose(source *api.InlineData) (*api.InlineData, error) {
	r, c, err := rowsCols(source)
	if err != nil {
		return nil, err
	}
	out := &api.InlineData{
		Dimensions: []int32{int32(c), int32(r)},
		Values:     make([]float32, r*c),
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Values[j*r+i] = source.Values[i*c+j]
		}
	}
	return out, nil
}

func softmax(source *api.InlineData) (*api.InlineData, error) {
	r, c, err := rowsCols(source)
	if err != nil {
		return nil, err
	}
	out := &api.InlineData{
		Dimensions: slices.Clone(source.GetDimensions()),
		Values:     make([]float32, r*c),
	}
	for i := 0; i < r; i++ {
		row := source.Values[i*c : (i+1)*c]
		maxValue := slices.Max(row)
		sum := float64(0)
		for j, v := range row {
			e := math.Exp(float64(v - maxValue))
			out.Values[i*c+j] = float32(e)
			sum += e
		}
		for j := 0; j < c; j++ {
			out.Values[i*c+j] = float32(float64(out.Values[i*c+j]) / sum)
		}
	}
	return out, nil
}

func logOf(source *api.InlineData, epsilon float32) *api.InlineData {
	if epsilon == 0 {
		epsilon = 1e-7
	}
	out := &api.InlineData{
		Dimensions: slices.Clone(source.GetDimensions()),
		Values:     make([]float32, len(source.GetValues())),
	}
	for i, v := range source.GetValues() {
		out.Values[i] = float32(math.Log(float64(max(v, epsilon))))
	}
	return out
}

// reduceSum sums over axis: AllAxes gives a scalar, 0 sums columns, 1 sums rows.
func reduceSum(source *api.InlineData, axis int32) (*api.InlineData, error) {
	r, c, err := rowsCols(source)
	if err != nil {
		return nil, err
	}
	switch axis {
	case api.AllAxes:
		sum := float32(0)
		for _, v := range source.Values {
			sum += v
		}
		return api.NewScalar(sum), nil
	case 0:
		out := &api.InlineData{Dimensions: []int32{int32(c)}, Values: make([]float32, c)}
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				out.Values[j] += source.Values[i*c+j]
			}
		}
		return out, nil
	case 1:
		out := &api.InlineData{Dimensions: []int32{int32(r)}, Values: make([]float32, r)}
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				out.Values[i] += source.Values[i*c+j]
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported reduction axis %d", axis)
	}
}

func reduceMean(source *api.InlineData, axis int32) (*api.InlineData, error) {
	sum, err := reduceSum(source, axis)
	if err != nil {
		return nil, err
	}
	r, c, _ := rowsCols(source)
	n := r * c
	switch axis {
	case 0:
		n = r
	case 1:
		n = c
	}
	if n == 0 {
		return nil, fmt.Errorf("mean of empty tensor")
	}
	return linearScale(sum, 1/float32(n)), nil
}

// argMax returns the index of the largest element of each row.
func argMax(source *api.InlineData) (*api.InlineData, error) {
	r, c, err := rowsCols(source)
	if err != nil {
		return nil, err
	}
	out := &api.InlineData{Values: make([]float32, r)}
	if len(source.GetDimensions()) == 2 {
		out.Dimensions = []int32{int32(r)}
	}
	for i := 0; i < r; i++ {
		row := source.Values[i*c : (i+1)*c]
		best := 0
		for j := range row {
			if row[j] > row[best] {
				best = j
			}
		}
		out.Values[i] = float32(best)
	}
	return out, nil
}

func piecewiseConstant(source *api.InlineData, boundaries, values []float32) (*api.InlineData, error) {
	if len(values) != len(boundaries)+1 {
		return nil, fmt.Errorf("piecewise constant needs %d values for %d boundaries, got %d", len(boundaries)+1, len(boundaries), len(values))
	}
	x, err := source.Scalar()
	if err != nil {
		return nil, err
	}
	i := 0
	for i < len(boundaries) && x > boundaries[i] {
		i++
	}
	return api.NewScalar(values[i]), nil
}

// iteratorNext slices batchSize rows starting at cursor, wrapping around.
func iteratorNext(source *api.InlineData, cursor *api.InlineData, batchSize int) (*api.InlineData, *api.InlineData, error) {
	dims := source.GetDimensions()
	if len(dims) == 0 {
		return nil, nil, fmt.Errorf("iterator source must have at least one dimension")
	}
	n := int(dims[0])
	if n == 0 {
		return nil, nil, fmt.Errorf("iterator source is empty")
	}
	rowSize := len(source.GetValues()) / n
	c, err := cursor.Scalar()
	if err != nil {
		return nil, nil, fmt.Errorf("reading cursor: %w", err)
	}
	start := int(c) % n

	outDims := slices.Clone(dims)
	outDims[0] = int32(batchSize)
	out := &api.InlineData{
		Dimensions: outDims,
		Values:     make([]float32, 0, batchSize*rowSize),
	}
	for i := 0; i < batchSize; i++ {
		row := (start + i) % n
		out.Values = append(out.Values, source.Values[row*rowSize:(row+1)*rowSize]...)
	}
	next := api.NewScalar(float32((start + batchSize) % n))
	return out, next, nil
}
