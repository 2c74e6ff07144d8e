package socket_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/pimd/internal/dynamo"
	"github.com/san-kum/pimd/internal/physics"
	"github.com/san-kum/pimd/internal/socket"
)

// recorder wraps a provider and remembers the beads it was asked about.
type recorder struct {
	dynamo.ForceProvider
	mu    sync.Mutex
	beads []int
	trim  bool
}

func (r *recorder) Evaluate(ctx context.Context, req dynamo.ForceRequest) (*dynamo.ForceResult, error) {
	r.mu.Lock()
	r.beads = append(r.beads, req.Bead)
	r.mu.Unlock()
	res, err := r.ForceProvider.Evaluate(ctx, req)
	if err == nil && r.trim {
		res.Forces = res.Forces[:len(res.Forces)-3]
	}
	return res, err
}

func tcpListener() (net.Listener, int) {
	ln, err := socket.Listen("inet", "127.0.0.1", 0)
	Expect(err).NotTo(HaveOccurred())
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func startDriver(ctx context.Context, p dynamo.ForceProvider, ln net.Listener) {
	d := socket.NewDriver(p, socket.IPICodec{})
	go d.Serve(ctx, ln)
}

func inetConfig(port int) socket.Config {
	return socket.Config{
		Name:    "test",
		Mode:    "inet",
		Address: "127.0.0.1",
		Port:    port,
		Slots:   2,
		Latency: time.Millisecond,
		Timeout: 5 * time.Second,
		Retries: 2,
	}
}

// serveRaw accepts connections and hands each to fn.
func serveRaw(ln net.Listener, fn func(net.Conn)) {
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go fn(nc)
		}
	}()
}

var positions = []float64{0.1, 0.2, -0.3, 1.0, -1.0, 0.5}

var _ = Describe("IPICodec", func() {
	codec := socket.IPICodec{}

	It("pads headers to twelve bytes", func() {
		var buf bytes.Buffer
		Expect(codec.WriteHeader(&buf, socket.MsgStatus)).To(Succeed())
		Expect(buf.String()).To(Equal("STATUS      "))

		msg, err := codec.ReadHeader(&buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(msg).To(Equal(socket.MsgStatus))

		Expect(codec.WriteHeader(&buf, "ABCDEFGHIJKLM")).NotTo(Succeed())
	})

	It("carries positions and the cell through the wire layout", func() {
		cell := dynamo.Cell{H: [9]float64{10, 1, 2, 0, 11, 3, 0, 0, 12}}
		var buf bytes.Buffer
		Expect(codec.WritePositions(&buf, cell, positions)).To(Succeed())
		Expect(buf.Len()).To(Equal(socket.HeaderLen + 8*18 + 4 + 8*len(positions)))

		hdr, err := codec.ReadHeader(&buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(hdr).To(Equal(socket.MsgPosData))
		got, q, err := codec.ReadPositions(&buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(cell))
		Expect(q).To(Equal(positions))
	})

	It("carries forces, virial and the extra string", func() {
		res := &dynamo.ForceResult{
			Potential: -1.5,
			Forces:    []float64{1, 2, 3},
			Virial:    [9]float64{1, 2, 3, 4, 5, 6, 7, 8, 9},
			Extra:     `{"dipole": [0, 0, 1]}`,
		}
		var buf bytes.Buffer
		Expect(codec.WriteForces(&buf, res)).To(Succeed())
		_, err := codec.ReadHeader(&buf)
		Expect(err).NotTo(HaveOccurred())
		got, err := codec.ReadForces(&buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(res))
	})

	It("rejects a singular cell", func() {
		cell := dynamo.Cell{H: [9]float64{1, 0, 0, 1, 0, 0, 0, 0, 1}}
		err := codec.WritePositions(&bytes.Buffer{}, cell, positions)
		Expect(errors.Is(err, dynamo.ErrInvalidState)).To(BeTrue())
	})
})

var _ = Describe("Client", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		DeferCleanup(func() { cancel() })
	})

	Context("against the reference driver", func() {
		var (
			rec    *recorder
			client *socket.Client
			pot    *physics.Provider
		)

		BeforeEach(func() {
			pot = physics.NewProvider("harmonic", physics.NewHarmonic(0.5), false)
			rec = &recorder{ForceProvider: pot}
			ln, port := tcpListener()
			startDriver(ctx, rec, ln)

			cfg := inetConfig(port)
			cfg.Parameters = "mode=test"
			client = socket.New(cfg, nil, socket.Hooks{})
			DeferCleanup(client.Close)
		})

		It("returns the provider's energy and forces", func() {
			res, err := client.Evaluate(ctx, dynamo.ForceRequest{Bead: 3, Positions: positions})
			Expect(err).NotTo(HaveOccurred())

			want, err := pot.Evaluate(ctx, dynamo.ForceRequest{Positions: positions})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Potential).To(BeNumerically("~", want.Potential, 1e-14))
			Expect(res.Forces).To(Equal(want.Forces))
			Expect(rec.beads).To(Equal([]int{3}))
			Expect(client.Parallelism()).To(Equal(2))
		})

		It("serves every bead across the pool", func() {
			const nbeads = 8
			results := make([]*dynamo.ForceResult, nbeads)
			err := dynamo.ForEach(ctx, nbeads, client.Parallelism(), func(ctx context.Context, j int) error {
				q := make([]float64, len(positions))
				for i := range q {
					q[i] = positions[i] * float64(j+1)
				}
				res, err := client.Evaluate(ctx, dynamo.ForceRequest{Bead: j, Positions: q})
				results[j] = res
				return err
			})
			Expect(err).NotTo(HaveOccurred())
			for j, res := range results {
				Expect(res.Forces[0]).To(BeNumerically("~", -0.5*positions[0]*float64(j+1), 1e-14))
			}
			Expect(rec.beads).To(ConsistOf(0, 1, 2, 3, 4, 5, 6, 7))
		})

		It("reuses an initialized connection", func() {
			for i := 0; i < 3; i++ {
				_, err := client.Evaluate(ctx, dynamo.ForceRequest{Bead: 0, Positions: positions})
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(rec.beads).To(HaveLen(3))
		})
	})

	It("connects over a unix socket path", func() {
		dir, err := os.MkdirTemp("", "pimd")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)
		path := filepath.Join(dir, "drv")

		ln, err := socket.Listen("unix", path, 0)
		Expect(err).NotTo(HaveOccurred())
		startDriver(ctx, physics.NewProvider("h", physics.NewHarmonic(1), false), ln)

		client := socket.New(socket.Config{Name: "u", Mode: "unix", Address: path, Slots: 1}, nil, socket.Hooks{})
		DeferCleanup(client.Close)
		res, err := client.Evaluate(ctx, dynamo.ForceRequest{Positions: positions})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Forces[0]).To(Equal(-positions[0]))
	})

	It("maps bare unix names under /tmp", func() {
		network, addr := socket.Endpoint("unix", "driver", 0)
		Expect(network).To(Equal("unix"))
		Expect(addr).To(Equal("/tmp/ipi_driver"))

		network, addr = socket.Endpoint("inet", "localhost", 31415)
		Expect(network).To(Equal("tcp"))
		Expect(addr).To(Equal("localhost:31415"))
	})

	It("fails with a timeout error once every retry times out", func() {
		ln, port := tcpListener()
		DeferCleanup(ln.Close)
		serveRaw(ln, func(nc net.Conn) {
			buf := make([]byte, 64)
			for {
				if _, err := nc.Read(buf); err != nil {
					return
				}
			}
		})

		cfg := inetConfig(port)
		cfg.Timeout = 100 * time.Millisecond
		client := socket.New(cfg, nil, socket.Hooks{})

		start := time.Now()
		_, err := client.Evaluate(ctx, dynamo.ForceRequest{Bead: 1, Positions: positions})
		elapsed := time.Since(start)

		var te *dynamo.SocketTimeoutError
		Expect(errors.As(err, &te)).To(BeTrue(), "got %v", err)
		Expect(errors.Is(err, dynamo.ErrReconnectExhausted)).To(BeTrue(), "got %v", err)
		Expect(te.Bead).To(Equal(1))
		Expect(te.After).To(Equal(100 * time.Millisecond))
		// three attempts of 100ms each with two backoffs in between
		Expect(elapsed).To(BeNumerically(">=", 300*time.Millisecond))
		Expect(elapsed).To(BeNumerically("<", 2*time.Second))
	})

	It("redials after a timed-out exchange", func() {
		ln, port := tcpListener()
		DeferCleanup(ln.Close)
		driver := socket.NewDriver(physics.NewProvider("h", physics.NewHarmonic(1), false), nil)
		var accepted atomic.Int32
		serveRaw(ln, func(nc net.Conn) {
			if accepted.Add(1) == 1 {
				buf := make([]byte, 64)
				for {
					if _, err := nc.Read(buf); err != nil {
						return
					}
				}
			}
			driver.ServeConn(ctx, nc)
		})

		cfg := inetConfig(port)
		cfg.Timeout = 100 * time.Millisecond
		cfg.Retries = 2
		var reconnects atomic.Int32
		client := socket.New(cfg, nil, socket.Hooks{OnReconnect: func() { reconnects.Add(1) }})
		DeferCleanup(client.Close)

		res, err := client.Evaluate(ctx, dynamo.ForceRequest{Positions: positions})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Forces).To(HaveLen(len(positions)))
		Expect(reconnects.Load()).To(Equal(int32(1)))
		Expect(accepted.Load()).To(Equal(int32(2)))
	})

	It("stops waiting when the context is cancelled", func() {
		ln, port := tcpListener()
		DeferCleanup(ln.Close)
		serveRaw(ln, func(nc net.Conn) {
			buf := make([]byte, 64)
			for {
				if _, err := nc.Read(buf); err != nil {
					return
				}
			}
		})

		cfg := inetConfig(port)
		cfg.Timeout = 0
		client := socket.New(cfg, nil, socket.Hooks{})

		cctx, ccancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer ccancel()
		_, err := client.Evaluate(cctx, dynamo.ForceRequest{Positions: positions})
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue(), "got %v", err)
	})

	It("treats an unknown reply as a protocol error", func() {
		ln, port := tcpListener()
		DeferCleanup(ln.Close)
		serveRaw(ln, func(nc net.Conn) {
			codec := socket.IPICodec{}
			if _, err := codec.ReadHeader(nc); err == nil {
				codec.WriteHeader(nc, "GARBAGE")
			}
		})

		client := socket.New(inetConfig(port), nil, socket.Hooks{})
		_, err := client.Evaluate(ctx, dynamo.ForceRequest{Positions: positions})
		var pe *dynamo.SocketProtocolError
		Expect(errors.As(err, &pe)).To(BeTrue(), "got %v", err)
		Expect(pe.Got).To(Equal("GARBAGE"))
	})

	It("rejects a force array of the wrong size", func() {
		ln, port := tcpListener()
		rec := &recorder{ForceProvider: physics.NewProvider("h", physics.NewHarmonic(1), false), trim: true}
		startDriver(ctx, rec, ln)

		client := socket.New(inetConfig(port), nil, socket.Hooks{})
		_, err := client.Evaluate(ctx, dynamo.ForceRequest{Positions: positions})
		var pe *dynamo.SocketProtocolError
		Expect(errors.As(err, &pe)).To(BeTrue(), "got %v", err)
	})

	It("reconnects after a dropped connection", func() {
		ln, port := tcpListener()
		DeferCleanup(ln.Close)
		driver := socket.NewDriver(physics.NewProvider("h", physics.NewHarmonic(1), false), nil)
		var accepted atomic.Int32
		serveRaw(ln, func(nc net.Conn) {
			if accepted.Add(1) == 1 {
				nc.Close()
				return
			}
			driver.ServeConn(ctx, nc)
		})

		var reconnects atomic.Int32
		client := socket.New(inetConfig(port), nil, socket.Hooks{
			OnReconnect: func() { reconnects.Add(1) },
		})
		DeferCleanup(client.Close)

		res, err := client.Evaluate(ctx, dynamo.ForceRequest{Positions: positions})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Forces).To(HaveLen(len(positions)))
		Expect(reconnects.Load()).To(Equal(int32(1)))
	})

	It("gives up once the reconnect budget is spent", func() {
		ln, port := tcpListener()
		Expect(ln.Close()).To(Succeed())

		cfg := inetConfig(port)
		cfg.Retries = 2
		var reconnects atomic.Int32
		client := socket.New(cfg, nil, socket.Hooks{OnReconnect: func() { reconnects.Add(1) }})

		_, err := client.Evaluate(ctx, dynamo.ForceRequest{Positions: positions})
		Expect(errors.Is(err, dynamo.ErrReconnectExhausted)).To(BeTrue(), "got %v", err)
		// the third failure trips the breaker and is not followed by a redial
		Expect(reconnects.Load()).To(Equal(int32(2)))
	})
})
