package protocol

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/grimm-is/icsrange/internal/fabric"
	"github.com/grimm-is/icsrange/internal/icserr"
	"github.com/grimm-is/icsrange/internal/logging"
	"github.com/grimm-is/icsrange/internal/netgate"
)

// Admission is the subset of netgate.Gate a protocol server consults at
// accept time, kept as an interface so servers are testable without a
// live Gate.
type Admission interface {
	InferSourceNetwork(peerIP net.IP) string
	CanReach(srcNetwork, device, protocol string, port int) bool
	RecordDenied(rec netgate.DeniedRecord)
	RecordAllowed(peer, device, protocol string, port int)
}

// ModbusServer is a bit-exact Modbus TCP listener bound to one device
// (§6). Each accepted connection runs its own session goroutine; sessions
// never spawn for connections the network gate denies.
//
// Grounded on the Start/Stop/accept-loop shape of
// grimm.is/flywall/internal/api.Server (constructed net.Listener, context-
// cancelled shutdown, sessions tracked in a WaitGroup) and the function-
// code/register semantics of other_examples' arx-os-arxos Modbus client.
type ModbusServer struct {
	device   string
	addr     string
	unitID   byte
	gate     Admission
	log      *logging.Logger
	mirror   *Mirror

	mu       sync.Mutex
	ln       net.Listener
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	port     int
}

// NewModbusServer constructs a listener for device at addr (host:port,
// port 0 picks an ephemeral port — useful in tests), bounded by bounds,
// admission-checked by gate. unitID is the MBAP unit identifier this
// listener answers to; a request addressed to any other unit is dropped
// silently rather than answered with an exception (§6's resolved
// unit-id policy: ICS gateways rarely echo a mismatched address back).
func NewModbusServer(device, addr string, unitID byte, bounds Bounds, gate Admission, logger *logging.Logger) *ModbusServer {
	if logger == nil {
		logger = logging.Default("modbus")
	}
	return &ModbusServer{
		device: device,
		addr:   addr,
		unitID: unitID,
		gate:   gate,
		log:    logger.With(device),
		mirror: NewMirror(bounds),
	}
}

func (s *ModbusServer) Device() string   { return s.device }
func (s *ModbusServer) Protocol() string { return "modbus" }
func (s *ModbusServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *ModbusServer) MirrorPush(tele *fabric.MemoryMap) { s.mirror.Push(tele) }
func (s *ModbusServer) MirrorPull() *fabric.MemoryMap     { return s.mirror.Pull() }

// Start binds the listener and begins accepting connections in the
// background, returning once the socket is bound.
func (s *ModbusServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return icserr.Wrap(icserr.BindFailed, err, "modbus listener for %q on %q", s.device, s.addr).WithDevice(s.device)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.ln = ln
	s.cancel = cancel
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.mu.Unlock()

	s.log.Infof("listening on %s", ln.Addr())
	s.wg.Add(1)
	go s.acceptLoop(runCtx)
	return nil
}

// Stop stops accepting, cancels outstanding sessions, and closes the
// socket, waiting for in-flight sessions to unwind.
func (s *ModbusServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ln != nil {
		_ = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ModbusServer) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		ln := s.ln
		s.mu.Unlock()

		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.log.Warnf("accept error: %v", err)
				return
			}
		}

		peer, _, splitErr := net.SplitHostPort(conn.RemoteAddr().String())
		peerIP := net.ParseIP(peer)
		if splitErr != nil || peerIP == nil {
			_ = conn.Close()
			continue
		}

		srcNet := s.gate.InferSourceNetwork(peerIP)
		if !s.gate.CanReach(srcNet, s.device, "modbus", s.Port()) {
			s.gate.RecordDenied(netgate.DeniedRecord{
				Peer: peer, Device: s.device, Protocol: "modbus", Port: s.Port(),
				Reason: "no membership or allow rule from " + srcNet,
			})
			_ = conn.Close()
			continue
		}
		s.gate.RecordAllowed(peer, s.device, "modbus", s.Port())

		s.wg.Add(1)
		sessionID := uuid.NewString()
		go func() {
			defer s.wg.Done()
			s.runSession(ctx, conn, sessionID)
		}()
	}
}

// runSession processes frames sequentially on one connection until it
// closes or ctx is cancelled, so responses are always returned in request
// order without needing a transaction-id reorder buffer.
func (s *ModbusServer) runSession(ctx context.Context, conn net.Conn, sessionID string) {
	defer conn.Close()
	s.log.Debugf("session %s opened from %s", sessionID, conn.RemoteAddr())

	header := make([]byte, mbapLength)
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := io.ReadFull(conn, header); err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debugf("session %s read error: %v", sessionID, err)
			}
			return
		}
		h, err := decodeMBAP(header)
		if err != nil {
			return
		}
		if h.length < 1 {
			return
		}
		pdu := make([]byte, h.length-1)
		if len(pdu) > 0 {
			if _, err := io.ReadFull(conn, pdu); err != nil {
				return
			}
		}

		resp := s.handleFrame(h, pdu)
		if resp == nil {
			continue // unit_id mismatch: silently dropped per §6's resolved addressing policy
		}
		if _, err := conn.Write(resp); err != nil {
			return
		}
	}
}

// handleFrame returns the response frame bytes, or nil if the request
// should be silently dropped (unit_id mismatch).
func (s *ModbusServer) handleFrame(h mbapHeader, pdu []byte) []byte {
	if h.unitID != s.unitID {
		return nil
	}
	respPDU, err := handlePDU(s.mirror, pdu)
	if err != nil {
		var mex *ModbusExceptionError
		if errors.As(err, &mex) {
			return exceptionFrame(h, mex.Function, mex.Code)
		}
		return nil
	}
	return append(encodeMBAP(h, len(respPDU)), respPDU...)
}

var _ Server = (*ModbusServer)(nil)

// dialFrame hand-assembles a raw Modbus TCP frame; used by tests that dial
// the listener directly rather than going through a client library.
func dialFrame(transactionID, unitID byte, pdu []byte) []byte {
	h := mbapHeader{transactionID: uint16(transactionID), unitID: unitID}
	return append(encodeMBAP(h, len(pdu)), pdu...)
}
