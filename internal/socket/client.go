package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/san-kum/pimd/internal/dynamo"
)

// UnixPrefix is prepended to bare unix socket names.
const UnixPrefix = "/tmp/ipi_"

// Config describes how to reach a force engine.
type Config struct {
	Name    string
	Mode    string // "unix" or "inet"
	Address string
	Port    int
	// Slots is the number of connections kept open in parallel.
	Slots int
	// Latency paces STATUS polls while the engine is busy.
	Latency time.Duration
	// Timeout bounds one whole exchange; zero waits forever.
	Timeout time.Duration
	// Retries is the number of consecutive reconnects tolerated.
	Retries    int
	Parameters string
}

// Hooks observe client activity. Nil members are skipped.
type Hooks struct {
	OnExchange  func(bead int, elapsed time.Duration)
	OnReconnect func()
}

// Endpoint resolves the network and address to dial.
func Endpoint(mode, address string, port int) (string, string) {
	if mode == "unix" {
		if strings.Contains(address, "/") {
			return "unix", address
		}
		return "unix", UnixPrefix + address
	}
	return "tcp", net.JoinHostPort(address, strconv.Itoa(port))
}

// connError marks failures of the connection itself, which are repaired by
// redialing. Everything else is returned to the caller as is.
type connError struct {
	err error
}

func (e *connError) Error() string { return e.err.Error() }
func (e *connError) Unwrap() error { return e.err }

type conn struct {
	id      int
	nc      net.Conn
	limiter *rate.Limiter
}

func (c *conn) close() {
	if c.nc != nil {
		c.nc.Close()
		c.nc = nil
	}
}

// Client is a pool of connections to one force engine. It implements
// dynamo.ForceProvider.
type Client struct {
	cfg     Config
	codec   Codec
	network string
	addr    string
	hooks   Hooks
	log     *logrus.Entry

	idle    chan *conn
	conns   []*conn
	breaker *gobreaker.CircuitBreaker
	dialer  net.Dialer

	closeOnce sync.Once
}

func New(cfg Config, codec Codec, hooks Hooks) *Client {
	if cfg.Slots < 1 {
		cfg.Slots = 1
	}
	if codec == nil {
		codec = IPICodec{}
	}
	network, addr := Endpoint(cfg.Mode, cfg.Address, cfg.Port)
	c := &Client{
		cfg:     cfg,
		codec:   codec,
		network: network,
		addr:    addr,
		hooks:   hooks,
		log:     logrus.WithFields(logrus.Fields{"forcefield": cfg.Name, "address": addr}),
		idle:    make(chan *conn, cfg.Slots),
	}

	limit := rate.Inf
	if cfg.Latency > 0 {
		limit = rate.Every(cfg.Latency)
	}
	for i := 0; i < cfg.Slots; i++ {
		cn := &conn{id: i, limiter: rate.NewLimiter(limit, 1)}
		c.conns = append(c.conns, cn)
		c.idle <- cn
	}

	retries := cfg.Retries
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: 365 * 24 * time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > uint32(retries)
		},
		IsSuccessful: func(err error) bool {
			var ce *connError
			return !errors.As(err, &ce)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).
				Warn("socket reconnect breaker changed state")
		},
	})
	return c
}

func (c *Client) Name() string     { return c.cfg.Name }
func (c *Client) Address() string  { return c.addr }
func (c *Client) Parallelism() int { return c.cfg.Slots }

// Evaluate runs one force exchange on an idle connection, redialing
// dropped connections within the reconnect budget.
func (c *Client) Evaluate(ctx context.Context, req dynamo.ForceRequest) (*dynamo.ForceResult, error) {
	var cn *conn
	select {
	case cn = <-c.idle:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { c.idle <- cn }()

	var last error
	for {
		start := time.Now()
		out, err := c.breaker.Execute(func() (interface{}, error) {
			return c.attempt(ctx, cn, req)
		})
		if err == nil {
			if c.hooks.OnExchange != nil {
				c.hooks.OnExchange(req.Bead, time.Since(start))
			}
			return out.(*dynamo.ForceResult), nil
		}

		cn.close()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, c.exhausted(last)
		}
		var ce *connError
		if !errors.As(err, &ce) {
			return nil, err
		}
		last = ce.err
		// the failure that trips the breaker is not followed by a redial
		if c.breaker.State() == gobreaker.StateOpen {
			return nil, c.exhausted(last)
		}

		c.log.WithFields(logrus.Fields{"slot": cn.id, "bead": req.Bead}).
			WithError(err).Warn("connection to force provider lost, reconnecting")
		if c.hooks.OnReconnect != nil {
			c.hooks.OnReconnect()
		}
		if err := c.backoff(ctx); err != nil {
			return nil, err
		}
	}
}

// exhausted wraps the last connection failure, a SocketTimeoutError for
// a provider that stopped answering, with ErrReconnectExhausted.
func (c *Client) exhausted(last error) error {
	if last == nil {
		return fmt.Errorf("socket %s: %w after %d retries", c.addr, dynamo.ErrReconnectExhausted, c.cfg.Retries)
	}
	return fmt.Errorf("socket %s: %w after %d retries: %w", c.addr, dynamo.ErrReconnectExhausted, c.cfg.Retries, last)
}

func (c *Client) backoff(ctx context.Context) error {
	wait := c.cfg.Latency
	if wait < 50*time.Millisecond {
		wait = 50 * time.Millisecond
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) attempt(ctx context.Context, cn *conn, req dynamo.ForceRequest) (*dynamo.ForceResult, error) {
	if cn.nc == nil {
		nc, err := c.dialer.DialContext(ctx, c.network, c.addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &connError{err}
		}
		cn.nc = nc
		c.log.WithField("slot", cn.id).Debug("connected to force provider")
	}
	return c.exchange(ctx, cn, req)
}

func (c *Client) exchange(ctx context.Context, cn *conn, req dynamo.ForceRequest) (*dynamo.ForceResult, error) {
	nc := cn.nc
	var deadline time.Time
	if c.cfg.Timeout > 0 {
		deadline = time.Now().Add(c.cfg.Timeout)
	}
	if err := nc.SetDeadline(deadline); err != nil {
		return nil, &connError{err}
	}
	stop := context.AfterFunc(ctx, func() {
		nc.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	fail := func(stage string, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return &connError{&dynamo.SocketTimeoutError{Address: c.addr, Bead: req.Bead, After: c.cfg.Timeout, Stage: stage}}
		}
		return &connError{fmt.Errorf("%s: %w", stage, err)}
	}
	protocol := func(got, detail string, expected ...string) error {
		return &dynamo.SocketProtocolError{Address: c.addr, Expected: expected, Got: got, Detail: detail}
	}

	sent := false
	poll := false
	for {
		if poll {
			if err := cn.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		poll = true

		if err := c.codec.WriteHeader(nc, MsgStatus); err != nil {
			return nil, fail("status request", err)
		}
		msg, err := c.codec.ReadHeader(nc)
		if err != nil {
			return nil, fail("status reply", err)
		}

		switch msg {
		case MsgNeedInit:
			if sent {
				return nil, protocol(msg, "provider lost its state after receiving positions", MsgHaveData)
			}
			if err := c.codec.WriteInit(nc, req.Bead, c.cfg.Parameters); err != nil {
				return nil, fail("init", err)
			}
			poll = false
		case MsgReady:
			if sent {
				continue
			}
			if err := c.codec.WritePositions(nc, req.Cell, req.Positions); err != nil {
				if errors.Is(err, dynamo.ErrInvalidState) {
					return nil, err
				}
				return nil, fail("positions", err)
			}
			sent = true
			poll = false
		case MsgHaveData:
			if !sent {
				return nil, protocol(msg, "provider has data before positions were sent", MsgReady, MsgNeedInit)
			}
			if err := c.codec.WriteHeader(nc, MsgGetForce); err != nil {
				return nil, fail("force request", err)
			}
			hdr, err := c.codec.ReadHeader(nc)
			if err != nil {
				return nil, fail("force reply", err)
			}
			if hdr != MsgForceReady {
				return nil, protocol(hdr, "", MsgForceReady)
			}
			res, err := c.codec.ReadForces(nc)
			if err != nil {
				return nil, fail("forces", err)
			}
			if len(res.Forces) != len(req.Positions) {
				return nil, protocol(strconv.Itoa(len(res.Forces)/3)+" atoms",
					fmt.Sprintf("force array for %d atoms, sent %d", len(res.Forces)/3, len(req.Positions)/3))
			}
			return res, nil
		default:
			return nil, protocol(msg, "", MsgReady, MsgNeedInit, MsgHaveData)
		}
	}
}

// Close tells every connected engine to exit and closes the pool.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		for range c.conns {
			cn := <-c.idle
			if cn.nc != nil {
				cn.nc.SetDeadline(time.Now().Add(time.Second))
				c.codec.WriteHeader(cn.nc, MsgExit)
				cn.close()
			}
		}
	})
	return nil
}
