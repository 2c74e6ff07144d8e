package socket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/pimd/internal/dynamo"
)

// Driver serves force requests over the socket protocol from a local
// provider. It plays the engine side of the exchange.
type Driver struct {
	provider dynamo.ForceProvider
	codec    Codec
	log      *logrus.Entry
}

func NewDriver(provider dynamo.ForceProvider, codec Codec) *Driver {
	if codec == nil {
		codec = IPICodec{}
	}
	return &Driver{
		provider: provider,
		codec:    codec,
		log:      logrus.WithField("driver", provider.Name()),
	}
}

// Listen opens the endpoint the client side will dial. A stale unix socket
// file is removed first.
func Listen(mode, address string, port int) (net.Listener, error) {
	network, addr := Endpoint(mode, address, port)
	if network == "unix" {
		if err := os.Remove(addr); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("socket: remove stale %s: %w", addr, err)
		}
	}
	return net.Listen(network, addr)
}

// Serve accepts connections until ctx is done or the listener fails.
func (d *Driver) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.ServeConn(ctx, nc); err != nil {
				d.log.WithError(err).Warn("connection closed with error")
			}
		}()
	}
}

// ServeConn runs the engine state machine on one connection until the
// peer sends EXIT or hangs up.
func (d *Driver) ServeConn(ctx context.Context, nc net.Conn) error {
	defer nc.Close()
	stop := context.AfterFunc(ctx, func() { nc.Close() })
	defer stop()

	var (
		initialized bool
		bead        int
		result      *dynamo.ForceResult
	)
	for {
		msg, err := d.codec.ReadHeader(nc)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch msg {
		case MsgStatus:
			reply := MsgReady
			switch {
			case !initialized:
				reply = MsgNeedInit
			case result != nil:
				reply = MsgHaveData
			}
			err = d.codec.WriteHeader(nc, reply)
		case MsgInit:
			var params string
			bead, params, err = d.codec.ReadInit(nc)
			if err == nil {
				initialized = true
				d.log.WithFields(logrus.Fields{"bead": bead, "params": params}).Debug("initialized")
			}
		case MsgPosData:
			var (
				cell dynamo.Cell
				q    []float64
			)
			cell, q, err = d.codec.ReadPositions(nc)
			if err == nil {
				result, err = d.provider.Evaluate(ctx, dynamo.ForceRequest{Bead: bead, Positions: q, Cell: cell})
			}
		case MsgGetForce:
			if result == nil {
				return fmt.Errorf("socket: GETFORCE before positions")
			}
			err = d.codec.WriteForces(nc, result)
			result = nil
		case MsgExit:
			return nil
		default:
			return fmt.Errorf("socket: unexpected message %q", msg)
		}
		if err != nil {
			return err
		}
	}
}
