package allreduce

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/unixpickle/dist-hashmap/collcomm"
	"github.com/unixpickle/dist-hashmap/simulator"
)

// RunAllreducerTests runs a battery of tests on an
// Allreducer.
func RunAllreducerTests(t *testing.T, reducer Allreducer) {
	for _, numNodes := range []int{1, 2, 5, 15, 16, 17} {
		for _, size := range []int{0, 10, 1337} {
			for _, randomized := range []bool{false, true} {
				testName := fmt.Sprintf("Nodes=%d,Size=%d,Random=%v", numNodes, size, randomized)
				t.Run(testName, func(t *testing.T) {
					testCounterSums(t, reducer, numNodes, size, randomized)
				})
			}
		}
	}
	t.Run("Servicing", func(t *testing.T) {
		testServicing(t, reducer)
	})
}

func testNetwork(nodes []*simulator.Node, randomized bool) simulator.Network {
	if randomized {
		return simulator.RandomNetwork{}
	}
	switcher := simulator.NewGreedyDropSwitcher(len(nodes), 1.0)
	return simulator.NewSwitcherNetwork(switcher, nodes, 0.1)
}

// testCounterSums sums integer-valued vectors, like the
// counters nodes report, so results must be exact.
func testCounterSums(t *testing.T, reducer Allreducer, numNodes, size int, randomized bool) {
	loop := simulator.NewEventLoop()
	vectors := make([][]float64, numNodes)
	nodes := make([]*simulator.Node, numNodes)
	sum := make([]float64, size)
	for i := range nodes {
		vectors[i] = make([]float64, size)
		for j := range vectors[i] {
			vectors[i][j] = float64(rand.Intn(1000))
			sum[j] += vectors[i][j]
		}
		nodes[i] = simulator.NewNode()
	}

	results := make([][]float64, numNodes)
	collcomm.SpawnComms(loop, testNetwork(nodes, randomized), nodes, func(c *collcomm.Comms) {
		results[c.Index()] = reducer.Allreduce(c, vectors[c.Index()], collcomm.Sum, nil)
	})
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	for i, res := range results {
		if len(res) != len(sum) {
			t.Errorf("result %d has length %d but expected %d", i, len(res), len(sum))
			continue
		}
		for j, x := range sum {
			if res[j] != x {
				t.Errorf("result %d: expected %f but got %f at component %d", i, x, res[j], j)
				break
			}
		}
	}
}

// testServicing makes sure that a node still handles
// background requests while it is inside a reduction,
// even if a peer only joins the reduction once its
// requests have been answered.
func testServicing(t *testing.T, reducer Allreducer) {
	const numNodes = 4
	loop := simulator.NewEventLoop()
	nodes := make([]*simulator.Node, numNodes)
	for i := range nodes {
		nodes[i] = simulator.NewNode()
	}
	requests := make([]*simulator.Port, numNodes)
	replies := make([]*simulator.Port, numNodes)
	for i, node := range nodes {
		requests[i] = node.Port(loop)
		replies[i] = node.Port(loop)
	}
	network := simulator.RandomNetwork{}
	group := collcomm.NewGroup(loop, nodes)

	results := make([][]float64, numNodes)
	for i := 0; i < numNodes; i++ {
		idx := i
		loop.Go(func(h *simulator.Handle) {
			c := group.Comms(h, network, idx)
			bg := &echoServicer{handle: h, network: network, port: requests[idx]}
			if idx == numNodes-1 {
				for j := 0; j < numNodes-1; j++ {
					network.Send(h, &simulator.Message{
						Source:  replies[idx],
						Dest:    requests[j],
						Message: replies[idx],
					})
					replies[idx].Recv(h)
				}
			}
			results[idx] = reducer.Allreduce(c, []float64{float64(idx)}, collcomm.Sum, bg)
		})
	}
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	for i, res := range results {
		if len(res) != 1 || res[0] != 6 {
			t.Errorf("node %d: unexpected result %v", i, res)
		}
	}
}

type echoServicer struct {
	handle  *simulator.Handle
	network simulator.Network
	port    *simulator.Port
}

func (e *echoServicer) Streams() []*simulator.EventStream {
	return []*simulator.EventStream{e.port.Incoming}
}

func (e *echoServicer) Service(event *simulator.Event) {
	msg := event.Message.(*simulator.Message)
	e.network.Send(e.handle, &simulator.Message{
		Source:  e.port,
		Dest:    msg.Message.(*simulator.Port),
		Message: "ack",
	})
}
