package simulator

// A Switcher models a switch fabric: given which nodes
// have data for which, it decides how fast each flow
// moves.
type Switcher interface {
	// SwitchedRates replaces the demand entries of mat, which
	// are 1 where a source has data for a destination and 0
	// elsewhere, with the rate of each flow.
	SwitchedRates(mat *ConnMat)
}

// A GreedyDropSwitcher splits each sender's uplink evenly
// across the destinations it is sending to.
// A receiver whose downlink is oversubscribed then keeps
// the same fraction of every incoming flow.
//
// Many ranks hitting one owner therefore share that
// owner's downlink, while one owner answering many ranks
// shares its uplink.
type GreedyDropSwitcher struct {
	SendRates []float64
	RecvRates []float64
}

// NewGreedyDropSwitcher creates a GreedyDropSwitcher where
// every node has the same uplink and downlink rate.
func NewGreedyDropSwitcher(numNodes int, rate float64) *GreedyDropSwitcher {
	g := &GreedyDropSwitcher{
		SendRates: make([]float64, numNodes),
		RecvRates: make([]float64, numNodes),
	}
	for i := 0; i < numNodes; i++ {
		g.SendRates[i] = rate
		g.RecvRates[i] = rate
	}
	return g
}

// NumNodes gets the number of nodes the switch expects.
func (g *GreedyDropSwitcher) NumNodes() int {
	return len(g.SendRates)
}

// SwitchedRates computes the rate of every flow.
func (g *GreedyDropSwitcher) SwitchedRates(mat *ConnMat) {
	if mat.NumNodes() != g.NumNodes() {
		panic("unexpected number of nodes")
	}
	for node := 0; node < g.NumNodes(); node++ {
		if flows := mat.SumSource(node); flows > 0 {
			mat.ScaleSource(node, g.SendRates[node]/flows)
		}
	}
	for node := 0; node < g.NumNodes(); node++ {
		if incoming := mat.SumDest(node); incoming > g.RecvRates[node] {
			mat.ScaleDest(node, g.RecvRates[node]/incoming)
		}
	}
}
