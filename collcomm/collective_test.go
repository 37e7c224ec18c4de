package collcomm

import (
	"fmt"
	"math"
	"testing"

	"github.com/unixpickle/dist-hashmap/simulator"
)

func testNetworks(loop *simulator.EventLoop, nodes []*simulator.Node) map[string]simulator.Network {
	switcher := simulator.NewGreedyDropSwitcher(len(nodes), 1.0)
	return map[string]simulator.Network{
		"Random":   simulator.RandomNetwork{},
		"Switcher": simulator.NewSwitcherNetwork(switcher, nodes, 0.1),
		"Latency":  simulator.NewLatencyNetwork(0.1, 0),
	}
}

func TestBarrier(t *testing.T) {
	for _, numNodes := range []int{1, 2, 3, 5, 8, 13} {
		for _, name := range []string{"Random", "Switcher", "Latency"} {
			t.Run(fmt.Sprintf("Nodes=%d,Net=%s", numNodes, name), func(t *testing.T) {
				loop := simulator.NewEventLoop()
				nodes := make([]*simulator.Node, numNodes)
				for i := range nodes {
					nodes[i] = simulator.NewNode()
				}
				network := testNetworks(loop, nodes)[name]

				arrivals := make([]float64, numNodes)
				departures := make([][]float64, numNodes)
				SpawnComms(loop, network, nodes, func(c *Comms) {
					for round := 0; round < 3; round++ {
						c.Handle.Sleep(float64((c.Index()*7+round*3)%5) + 0.5)
						if round == 1 {
							arrivals[c.Index()] = c.Handle.Time()
						}
						Barrier(c, nil)
						if round == 1 {
							departures[c.Index()] = append(departures[c.Index()], c.Handle.Time())
						}
					}
				})
				if err := loop.Run(); err != nil {
					t.Fatal(err)
				}

				var lastArrival float64
				for _, a := range arrivals {
					lastArrival = math.Max(lastArrival, a)
				}
				for i, d := range departures {
					if len(d) != 1 {
						t.Fatalf("node %d: expected one departure but got %d", i, len(d))
					}
					if d[0] < lastArrival {
						t.Errorf("node %d left at %f before last arrival at %f", i, d[0], lastArrival)
					}
				}
			})
		}
	}
}

func TestAllgather(t *testing.T) {
	for _, numNodes := range []int{1, 2, 6, 17} {
		t.Run(fmt.Sprintf("Nodes=%d", numNodes), func(t *testing.T) {
			loop := simulator.NewEventLoop()
			nodes := make([]*simulator.Node, numNodes)
			for i := range nodes {
				nodes[i] = simulator.NewNode()
			}
			results := make([][]interface{}, numNodes)
			SpawnComms(loop, simulator.RandomNetwork{}, nodes, func(c *Comms) {
				first := Allgather(c, c.Index()*10, 8, nil)
				second := Allgather(c, fmt.Sprint(c.Index()), 8, nil)
				results[c.Index()] = append(first, second...)
			})
			if err := loop.Run(); err != nil {
				t.Fatal(err)
			}
			for i, res := range results {
				if len(res) != 2*numNodes {
					t.Fatalf("node %d: expected %d values but got %d", i, 2*numNodes, len(res))
				}
				for j := 0; j < numNodes; j++ {
					if res[j] != j*10 {
						t.Errorf("node %d: expected %d at %d but got %v", i, j*10, j, res[j])
					}
					if res[numNodes+j] != fmt.Sprint(j) {
						t.Errorf("node %d: expected %q at %d but got %v", i, fmt.Sprint(j), j, res[numNodes+j])
					}
				}
			}
		})
	}
}

type countingServicer struct {
	port  *simulator.Port
	count int
}

func (c *countingServicer) Streams() []*simulator.EventStream {
	return []*simulator.EventStream{c.port.Incoming}
}

func (c *countingServicer) Service(event *simulator.Event) {
	c.count++
}

// TestBarrierServicing makes sure that a node blocked in a
// barrier still handles background traffic, even when a
// peer only reaches the barrier after that traffic was
// handled.
func TestBarrierServicing(t *testing.T) {
	loop := simulator.NewEventLoop()
	nodes := []*simulator.Node{simulator.NewNode(), simulator.NewNode()}
	side := nodes[0].Port(loop)
	ack := nodes[1].Port(loop)
	servicer := &countingServicer{port: side}

	group := NewGroup(loop, nodes)
	network := simulator.RandomNetwork{}
	loop.Go(func(h *simulator.Handle) {
		c := group.Comms(h, network, 0)
		bg := &ackingServicer{countingServicer: servicer, handle: h, network: network, reply: ack}
		Barrier(c, bg)
	})
	loop.Go(func(h *simulator.Handle) {
		c := group.Comms(h, network, 1)
		for i := 0; i < 3; i++ {
			network.Send(h, &simulator.Message{Source: ack, Dest: side, Message: i})
			ack.Recv(h)
		}
		Barrier(c, nil)
	})
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	if servicer.count != 3 {
		t.Errorf("expected 3 serviced events but got %d", servicer.count)
	}
}

type ackingServicer struct {
	*countingServicer
	handle  *simulator.Handle
	network simulator.Network
	reply   *simulator.Port
}

func (a *ackingServicer) Service(event *simulator.Event) {
	a.countingServicer.Service(event)
	a.network.Send(a.handle, &simulator.Message{
		Source:  a.port,
		Dest:    a.reply,
		Message: "ack",
	})
}

func TestForkGenerations(t *testing.T) {
	loop := simulator.NewEventLoop()
	nodes := []*simulator.Node{simulator.NewNode(), simulator.NewNode(), simulator.NewNode()}
	forked := make([][]*simulator.Port, len(nodes))
	SpawnComms(loop, simulator.RandomNetwork{}, nodes, func(c *Comms) {
		f1 := c.Fork()
		f2 := f1.Fork()
		if f1.Port == c.Port || f2.Port == f1.Port {
			t.Error("fork reused a port")
		}
		if f2.Index() != c.Index() {
			t.Error("fork changed the node index")
		}
		forked[c.Index()] = f2.Ports
	})
	loop.MustRun()
	for i := 1; i < len(forked); i++ {
		for j, p := range forked[i] {
			if p != forked[0][j] {
				t.Errorf("node %d disagrees about port %d", i, j)
			}
		}
	}
}
