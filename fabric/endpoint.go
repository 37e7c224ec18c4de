// Package fabric gives every node of a simulated cluster
// a runtime endpoint with the two kinds of remote access a
// partitioned global address space needs: active messages
// that run on the owning node, and one-sided operations on
// memory the owning node has exposed.
package fabric

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/unixpickle/dist-hashmap/collcomm"
	"github.com/unixpickle/dist-hashmap/collcomm/allreduce"
	"github.com/unixpickle/dist-hashmap/simulator"
)

// headerSize approximates the bytes of routing data
// attached to every request and response: a request ID
// plus a remote reference.
const headerSize = 32

// A Cluster describes a set of nodes that run one program
// together.
type Cluster struct {
	Loop    *simulator.EventLoop
	Network simulator.Network
	Nodes   []*simulator.Node

	// Logger receives debug output about rank lifecycles.
	// If nil, logs are discarded.
	Logger *slog.Logger
}

// Spawn runs f once per node, each in its own Goroutine,
// and starts a NIC Goroutine per node to serve one-sided
// requests.
//
// After f returns, the rank waits for its outstanding
// futures and then joins a final barrier, answering its
// peers' requests until every rank is done.
// Only then is its NIC shut down.
//
// The caller must run the loop.
func (c *Cluster) Spawn(f func(ep *Endpoint)) {
	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	group := collcomm.NewGroup(c.Loop, c.Nodes)
	peers := make([]*peer, len(c.Nodes))
	for i, node := range c.Nodes {
		peers[i] = &peer{
			am:    node.Port(c.Loop),
			nic:   node.Port(c.Loop),
			reply: node.Port(c.Loop),
		}
	}

	for i := range c.Nodes {
		rank := i
		n := &nic{
			port:    peers[rank].nic,
			network: c.Network,
			done:    c.Loop.Stream(),
		}
		c.Loop.Go(n.run)
		c.Loop.Go(func(h *simulator.Handle) {
			ep := &Endpoint{
				handle:  h,
				network: c.Network,
				comms:   group.Comms(h, c.Network, rank),
				rank:    rank,
				peers:   peers,
				nic:     n,
				logger:  logger.With("rank", rank),
				pending: map[uuid.UUID]func(interface{}){},
			}
			ep.logger.Debug("rank started", "ranks", len(peers))
			f(ep)
			ep.shutdown()
			ep.logger.Debug("rank finished", "time", h.Time(), "messages", ep.stats.MessagesSent)
			h.Schedule(n.done, nil, 0)
		})
	}
}

// Spawn is shorthand for a Cluster without a logger.
func Spawn(loop *simulator.EventLoop, network simulator.Network, nodes []*simulator.Node,
	f func(ep *Endpoint)) {
	(&Cluster{Loop: loop, Network: network, Nodes: nodes}).Spawn(f)
}

type peer struct {
	// am receives active messages, which run on the rank's
	// own Goroutine.
	am *simulator.Port

	// nic receives one-sided requests.
	nic *simulator.Port

	// reply receives responses to the rank's requests.
	reply *simulator.Port
}

// An Endpoint is one rank's view of the cluster.
//
// An Endpoint belongs to the Goroutine it was handed to;
// it must not be shared.
type Endpoint struct {
	handle  *simulator.Handle
	network simulator.Network
	comms   *collcomm.Comms
	rank    int
	peers   []*peer
	nic     *nic
	logger  *slog.Logger

	pending map[uuid.UUID]func(interface{})
	objects []interface{}
	stats   Stats
}

// Rank gets the index of this endpoint's node.
func (e *Endpoint) Rank() int {
	return e.rank
}

// Ranks gets the number of nodes in the cluster.
func (e *Endpoint) Ranks() int {
	return len(e.peers)
}

// Handle gets the Goroutine's handle on the event loop.
func (e *Endpoint) Handle() *simulator.Handle {
	return e.handle
}

// Logger gets a logger annotated with the rank.
func (e *Endpoint) Logger() *slog.Logger {
	return e.logger
}

// Stats gets the endpoint's traffic counters.
func (e *Endpoint) Stats() Stats {
	s := e.stats
	s.ServedRMA = e.nic.served.Load()
	return s
}

// Barrier blocks until every rank has entered the
// barrier, serving incoming requests in the meantime.
func (e *Endpoint) Barrier() {
	collcomm.Barrier(e.comms, (*progressEngine)(e))
}

// Allgather exchanges one value per rank.
// The result is indexed by rank.
func (e *Endpoint) Allgather(value interface{}, size int) []interface{} {
	return collcomm.Allgather(e.comms, value, float64(size), (*progressEngine)(e))
}

// Allreduce combines one vector per rank with fn and
// returns the result on every rank, serving incoming
// requests in the meantime.
func (e *Endpoint) Allreduce(r allreduce.Allreducer, data []float64, fn collcomm.ReduceFn) []float64 {
	return r.Allreduce(e.comms.Fork(), data, fn, (*progressEngine)(e))
}

// Pause lets delay units of virtual time pass while
// serving incoming requests.
func (e *Endpoint) Pause(delay float64) {
	timer := e.handle.Stream()
	e.handle.Schedule(timer, nil, delay)
	streams := append([]*simulator.EventStream{timer}, e.streams()...)
	for {
		event := e.handle.Poll(streams...)
		if event.Stream == timer {
			return
		}
		e.service(event)
	}
}

// An ObjectID names a distributed object, which has one
// local instance on every rank.
type ObjectID int

// Register adds the local instance of a distributed
// object.
//
// Every rank must register its instances in the same
// order so that the IDs line up, and a rank must not
// reference a peer's instance before a barrier separates
// the registration from the use.
func (e *Endpoint) Register(obj interface{}) ObjectID {
	e.objects = append(e.objects, obj)
	return ObjectID(len(e.objects) - 1)
}

// Object gets this rank's instance of a distributed
// object.
func (e *Endpoint) Object(id ObjectID) interface{} {
	if id < 0 || int(id) >= len(e.objects) {
		panic(fmt.Sprintf("unknown object: %d", id))
	}
	return e.objects[id]
}

func (e *Endpoint) self() *peer {
	return e.peers[e.rank]
}

func (e *Endpoint) send(src, dst *simulator.Port, payload interface{}, size int) {
	e.stats.MessagesSent++
	e.network.Send(e.handle, &simulator.Message{
		Source:  src,
		Dest:    dst,
		Message: payload,
		Size:    float64(size),
	})
}

func (e *Endpoint) streams() []*simulator.EventStream {
	return []*simulator.EventStream{e.self().am.Incoming, e.self().reply.Incoming}
}

// progress blocks until one incoming message has been
// handled.
func (e *Endpoint) progress() {
	e.service(e.handle.Poll(e.streams()...))
}

func (e *Endpoint) service(event *simulator.Event) {
	msg := event.Message.(*simulator.Message)
	switch payload := msg.Message.(type) {
	case *callRequest:
		e.serveCall(payload)
	case *response:
		e.complete(payload)
	default:
		panic(fmt.Sprintf("unexpected message type: %T", payload))
	}
}

func (e *Endpoint) expect(id uuid.UUID, done func(interface{})) {
	e.pending[id] = done
}

func (e *Endpoint) complete(resp *response) {
	done, ok := e.pending[resp.ID]
	if !ok {
		panic("response for unknown request")
	}
	delete(e.pending, resp.ID)
	done(resp.Value)
}

func (e *Endpoint) shutdown() {
	for len(e.pending) > 0 {
		e.progress()
	}
	e.Barrier()
}

// progressEngine lets collectives serve an endpoint's
// traffic while they wait.
type progressEngine Endpoint

func (p *progressEngine) Streams() []*simulator.EventStream {
	return (*Endpoint)(p).streams()
}

func (p *progressEngine) Service(event *simulator.Event) {
	(*Endpoint)(p).service(event)
}

type response struct {
	ID    uuid.UUID
	Value interface{}
}

// A Sizer reports the approximate number of bytes needed
// to send a value over the network.
type Sizer interface {
	Size() int
}

func sizeOf(value interface{}) int {
	switch value := value.(type) {
	case nil:
		return 0
	case Sizer:
		return value.Size()
	case []uint64:
		return 8 * len(value)
	case bool:
		return 1
	default:
		return 8
	}
}

// Stats counts the traffic an Endpoint has generated.
type Stats struct {
	MessagesSent int64

	LocalCalls  int64
	RemoteCalls int64
	ServedCalls int64

	LocalRMA  int64
	RemoteRMA int64
	ServedRMA int64
}
