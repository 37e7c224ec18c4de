package simulator

// A ConnMat holds one value for every ordered pair of
// nodes, such as the rate at which a source node pushes
// data to a destination node.
//
// Rows are sources and columns are destinations.
type ConnMat struct {
	n    int
	vals []float64
}

// NewConnMat creates an all-zero matrix.
func NewConnMat(numNodes int) *ConnMat {
	return &ConnMat{n: numNodes, vals: make([]float64, numNodes*numNodes)}
}

// NumNodes returns the number of nodes.
func (c *ConnMat) NumNodes() int {
	return c.n
}

// Get an entry in the matrix.
func (c *ConnMat) Get(src, dst int) float64 {
	return c.vals[c.index(src, dst)]
}

// Set an entry in the matrix.
func (c *ConnMat) Set(src, dst int, value float64) {
	c.vals[c.index(src, dst)] = value
}

// Add adds delta to an entry and returns the new value.
func (c *ConnMat) Add(src, dst int, delta float64) float64 {
	i := c.index(src, dst)
	c.vals[i] += delta
	return c.vals[i]
}

// SumSource totals everything a node sends.
func (c *ConnMat) SumSource(src int) float64 {
	var sum float64
	for _, x := range c.row(src) {
		sum += x
	}
	return sum
}

// SumDest totals everything a node receives.
func (c *ConnMat) SumDest(dst int) float64 {
	c.checkNode(dst)
	var sum float64
	for src := 0; src < c.n; src++ {
		sum += c.vals[src*c.n+dst]
	}
	return sum
}

// ScaleSource multiplies every entry a node sends.
func (c *ConnMat) ScaleSource(src int, scale float64) {
	row := c.row(src)
	for i := range row {
		row[i] *= scale
	}
}

// ScaleDest multiplies every entry a node receives.
func (c *ConnMat) ScaleDest(dst int, scale float64) {
	c.checkNode(dst)
	for src := 0; src < c.n; src++ {
		c.vals[src*c.n+dst] *= scale
	}
}

func (c *ConnMat) row(src int) []float64 {
	c.checkNode(src)
	return c.vals[src*c.n : (src+1)*c.n]
}

func (c *ConnMat) index(src, dst int) int {
	c.checkNode(src)
	c.checkNode(dst)
	return src*c.n + dst
}

func (c *ConnMat) checkNode(i int) {
	if i < 0 || i >= c.n {
		panic("node index out of bounds")
	}
}
