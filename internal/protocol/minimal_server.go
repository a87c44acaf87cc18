// Minimal pluggable protocol servers (§4.5 "Other protocols"). S7, DNP3,
// IEC-104, OPC UA and EtherNet/IP all conform to the same Server contract
// as ModbusServer (bind/accept, gate admission, mirror push/pull) but only
// cover session registration and a handful of read/browse operations, per
// §4.5's allowance that "implementations in the core need only cover
// session registration and the minimal set of read/browse operations
// needed by the test scenarios in §8; deeper semantics are optional
// layering." None of these claim bit-exact wire conformance; only Modbus
// does (§6).
//
// Grounded on the same accept-loop/session shape as ModbusServer (itself
// grounded on grimm.is/flywall/internal/api.Server's Start/Stop lifecycle),
// generalized here into a single minimalServer so the five protocols share
// one implementation instead of five near-duplicates.
package protocol

import (
	"context"
	"encoding/binary"
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

// frameCodec turns one read/browse request into a response, operating
// directly on the listener's mirror. Each protocol supplies its own wire
// framing (readRequest/writeResponse) around the shared address-space
// semantics; codecs never see raw client writes, since the "minimal"
// protocols here are read/browse-only (§4.5).
type frameCodec interface {
	// readRequest parses one request frame from conn, returning the
	// address space/index it names. io.EOF (or a wrapped one) ends the
	// session cleanly; any other error terminates it per §7's
	// ProtocolError -> "session terminate" policy for non-Modbus servers.
	readRequest(conn net.Conn) (space fabric.Space, index uint16, err error)
	// writeResponse encodes ok/value for the given space back to conn.
	writeResponse(conn net.Conn, space fabric.Space, ok bool, value uint16) error
}

// minimalServer is the shared Server implementation for the five
// non-Modbus protocols named in §4.5. codec supplies the wire framing;
// everything else (accept loop, admission, mirror lifecycle, shutdown
// drain) is identical to ModbusServer's.
type minimalServer struct {
	device   string
	protocol string
	addr     string
	gate     Admission
	log      *logging.Logger
	mirror   *Mirror
	codec    frameCodec

	mu     sync.Mutex
	ln     net.Listener
	wg     sync.WaitGroup
	cancel context.CancelFunc
	port   int
}

func newMinimalServer(device, protocol, addr string, bounds Bounds, gate Admission, logger *logging.Logger, codec frameCodec) *minimalServer {
	if logger == nil {
		logger = logging.Default(protocol)
	}
	return &minimalServer{
		device:   device,
		protocol: protocol,
		addr:     addr,
		gate:     gate,
		log:      logger.With(device),
		mirror:   NewMirror(bounds),
		codec:    codec,
	}
}

func (s *minimalServer) Device() string   { return s.device }
func (s *minimalServer) Protocol() string { return s.protocol }
func (s *minimalServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *minimalServer) MirrorPush(tele *fabric.MemoryMap) { s.mirror.Push(tele) }
func (s *minimalServer) MirrorPull() *fabric.MemoryMap     { return s.mirror.Pull() }

func (s *minimalServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return icserr.Wrap(icserr.BindFailed, err, "%s listener for %q on %q", s.protocol, s.device, s.addr).WithDevice(s.device)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.ln = ln
	s.cancel = cancel
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.mu.Unlock()

	s.log.Infof("%s listening on %s", s.protocol, ln.Addr())
	s.wg.Add(1)
	go s.acceptLoop(runCtx)
	return nil
}

func (s *minimalServer) Stop(ctx context.Context) error {
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

func (s *minimalServer) acceptLoop(ctx context.Context) {
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
				s.log.Warnf("%s accept error: %v", s.protocol, err)
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
		if !s.gate.CanReach(srcNet, s.device, s.protocol, s.Port()) {
			s.gate.RecordDenied(netgate.DeniedRecord{
				Peer: peer, Device: s.device, Protocol: s.protocol, Port: s.Port(),
				Reason: "no membership or allow rule from " + srcNet,
			})
			_ = conn.Close()
			continue
		}
		s.gate.RecordAllowed(peer, s.device, s.protocol, s.Port())

		s.wg.Add(1)
		sessionID := uuid.NewString()
		go func() {
			defer s.wg.Done()
			s.runSession(ctx, conn, sessionID)
		}()
	}
}

func (s *minimalServer) runSession(ctx context.Context, conn net.Conn, sessionID string) {
	defer conn.Close()
	s.log.Debugf("%s session %s opened from %s", s.protocol, sessionID, conn.RemoteAddr())

	for {
		if ctx.Err() != nil {
			return
		}
		space, index, err := s.codec.readRequest(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debugf("%s session %s read error: %v", s.protocol, sessionID, err)
			}
			return
		}

		var ok bool
		var value uint16
		switch space {
		case fabric.Coil:
			var b bool
			b, ok = s.mirror.ReadCoil(index)
			if b {
				value = 1
			}
		case fabric.DiscreteInput:
			var b bool
			b, ok = s.mirror.ReadDiscrete(index)
			if b {
				value = 1
			}
		case fabric.HoldingRegister:
			value, ok = s.mirror.ReadHolding(index)
		case fabric.InputRegister:
			value, ok = s.mirror.ReadInput(index)
		}

		if err := s.codec.writeResponse(conn, space, ok, value); err != nil {
			return
		}
	}
}

var _ Server = (*minimalServer)(nil)

// --- S7 (port 102) -------------------------------------------------------
//
// Real S7comm rides TPKT/COTP over ISO-on-TCP and carries a "read var"
// job/ack-data pair addressed by (area, DB number, byte offset). The
// minimal codec here keeps the TPKT framing (the part a packet capture
// actually shows on the wire) and collapses the S7 header/parameter/data
// sections into a single area+index request, since full DB/area addressing
// semantics are outside this core's scope (§4.5).
type s7Codec struct{}

const tpktVersion = 3

func (s7Codec) readRequest(conn net.Conn) (fabric.Space, uint16, error) {
	hdr := make([]byte, 4) // version, reserved, length(2)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return 0, 0, err
	}
	length := binary.BigEndian.Uint16(hdr[2:4])
	if length < 4 {
		return 0, 0, errors.New("s7: short TPKT length")
	}
	body := make([]byte, length-4)
	if _, err := io.ReadFull(conn, body); err != nil {
		return 0, 0, err
	}
	if len(body) < 3 {
		return 0, 0, errors.New("s7: short read-var request body")
	}
	return fabric.Space(body[0]), binary.BigEndian.Uint16(body[1:3]), nil
}

func (s7Codec) writeResponse(conn net.Conn, _ fabric.Space, ok bool, value uint16) error {
	body := make([]byte, 3)
	if ok {
		body[0] = 0xff // S7 "item available" return code
	} else {
		body[0] = 0x0a // S7 "object does not exist" return code
	}
	binary.BigEndian.PutUint16(body[1:], value)
	frame := make([]byte, 4+len(body))
	frame[0] = tpktVersion
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(frame)))
	copy(frame[4:], body)
	_, err := conn.Write(frame)
	return err
}

// NewS7Server constructs a minimal S7comm read-var listener for device.
func NewS7Server(device, addr string, bounds Bounds, gate Admission, logger *logging.Logger) Server {
	return newMinimalServer(device, "s7", addr, bounds, gate, logger, s7Codec{})
}

// --- DNP3 (ports 20000-20002) --------------------------------------------
//
// Real DNP3 link-layer frames start with 0x0564, carry a length/control/
// destination/source header and a CRC'd payload, with application-layer
// function codes (READ=1) operating over object groups/variations. The
// minimal codec keeps the 0x0564 start bytes and length byte as the
// recognizable link-layer shape and collapses the application fragment to
// a single (space, index) read request.
type dnp3Codec struct{}

var dnp3Start = [2]byte{0x05, 0x64}

func (dnp3Codec) readRequest(conn net.Conn) (fabric.Space, uint16, error) {
	hdr := make([]byte, 3) // start(2) + length(1)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return 0, 0, err
	}
	if hdr[0] != dnp3Start[0] || hdr[1] != dnp3Start[1] {
		return 0, 0, errors.New("dnp3: bad start bytes")
	}
	body := make([]byte, hdr[2])
	if _, err := io.ReadFull(conn, body); err != nil {
		return 0, 0, err
	}
	if len(body) < 3 {
		return 0, 0, errors.New("dnp3: short application fragment")
	}
	return fabric.Space(body[0]), binary.BigEndian.Uint16(body[1:3]), nil
}

func (dnp3Codec) writeResponse(conn net.Conn, _ fabric.Space, ok bool, value uint16) error {
	body := make([]byte, 3)
	if ok {
		body[0] = 0x00 // application-layer "success" internal indication
	} else {
		body[0] = 0x02 // "no such object" internal indication bit
	}
	binary.BigEndian.PutUint16(body[1:], value)
	frame := append([]byte{dnp3Start[0], dnp3Start[1], byte(len(body))}, body...)
	_, err := conn.Write(frame)
	return err
}

// NewDNP3Server constructs a minimal DNP3 read listener for device.
func NewDNP3Server(device, addr string, bounds Bounds, gate Admission, logger *logging.Logger) Server {
	return newMinimalServer(device, "dnp3", addr, bounds, gate, logger, dnp3Codec{})
}

// --- IEC-104 (port 2404) --------------------------------------------------
//
// Real IEC 60870-5-104 APDUs start with 0x68, a length byte, then either
// an I/S/U control field plus an ASDU (type id, cause of transmission,
// common address, information objects) or a pure control frame. The
// minimal codec keeps the 0x68 start byte and length-prefixed framing and
// collapses the ASDU to a single interrogation-style (space, index) read.
type iec104Codec struct{}

const iec104Start = 0x68

func (iec104Codec) readRequest(conn net.Conn) (fabric.Space, uint16, error) {
	hdr := make([]byte, 2) // start + length
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return 0, 0, err
	}
	if hdr[0] != iec104Start {
		return 0, 0, errors.New("iec104: bad start byte")
	}
	body := make([]byte, hdr[1])
	if _, err := io.ReadFull(conn, body); err != nil {
		return 0, 0, err
	}
	if len(body) < 3 {
		return 0, 0, errors.New("iec104: short ASDU")
	}
	return fabric.Space(body[0]), binary.BigEndian.Uint16(body[1:3]), nil
}

func (iec104Codec) writeResponse(conn net.Conn, _ fabric.Space, ok bool, value uint16) error {
	body := make([]byte, 3)
	if ok {
		body[0] = 0x07 // cause-of-transmission "activation confirmation"
	} else {
		body[0] = 0x2c // "unknown information object address"
	}
	binary.BigEndian.PutUint16(body[1:], value)
	frame := append([]byte{iec104Start, byte(len(body))}, body...)
	_, err := conn.Write(frame)
	return err
}

// NewIEC104Server constructs a minimal IEC-104 read listener for device.
func NewIEC104Server(device, addr string, bounds Bounds, gate Admission, logger *logging.Logger) Server {
	return newMinimalServer(device, "iec104", addr, bounds, gate, logger, iec104Codec{})
}

// --- OPC UA (port 4840) ---------------------------------------------------
//
// Real OPC UA binary messages carry a 3-byte message-type tag ("HEL",
// "OPN", "MSG", ...) plus a chunk-type byte and a u32 length, wrapping a
// secure-channel envelope around the actual Read service request. The
// minimal codec keeps the "MSG"+chunk-type+length envelope shape and
// collapses the service body to a single node read addressed as
// (space, index), treating OPC UA "variables" as aliases of the four
// Modbus-flavored address spaces the rest of the kernel already uses.
type opcuaCodec struct{}

var opcuaMessageType = [3]byte{'M', 'S', 'G'}

func (opcuaCodec) readRequest(conn net.Conn) (fabric.Space, uint16, error) {
	hdr := make([]byte, 8) // type(3) + chunk(1) + length(4)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return 0, 0, err
	}
	length := binary.BigEndian.Uint32(hdr[4:8])
	if length < 8 {
		return 0, 0, errors.New("opcua: short message length")
	}
	body := make([]byte, length-8)
	if _, err := io.ReadFull(conn, body); err != nil {
		return 0, 0, err
	}
	if len(body) < 3 {
		return 0, 0, errors.New("opcua: short ReadRequest body")
	}
	return fabric.Space(body[0]), binary.BigEndian.Uint16(body[1:3]), nil
}

func (opcuaCodec) writeResponse(conn net.Conn, _ fabric.Space, ok bool, value uint16) error {
	body := make([]byte, 3)
	if ok {
		body[0] = 0x00 // StatusCode Good
	} else {
		body[0] = 0x80 // StatusCode Bad (BadNodeIdUnknown, collapsed)
	}
	binary.BigEndian.PutUint16(body[1:], value)
	frame := make([]byte, 8+len(body))
	copy(frame[0:3], opcuaMessageType[:])
	frame[3] = 'F' // final chunk
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(frame)))
	copy(frame[8:], body)
	_, err := conn.Write(frame)
	return err
}

// NewOPCUAServer constructs a minimal OPC UA read listener for device.
func NewOPCUAServer(device, addr string, bounds Bounds, gate Admission, logger *logging.Logger) Server {
	return newMinimalServer(device, "opcua", addr, bounds, gate, logger, opcuaCodec{})
}

// --- EtherNet/IP (port 44818) ---------------------------------------------
//
// Real EtherNet/IP rides an encapsulation header (command, length,
// session handle, status, sender context, options) around a CIP message
// (e.g. Get_Attribute_Single). The minimal codec keeps the encapsulation
// header's command/length shape and collapses the CIP body to a single
// (space, index) attribute read.
type enipCodec struct{}

const enipCommandSendRRData = 0x6f

func (enipCodec) readRequest(conn net.Conn) (fabric.Space, uint16, error) {
	hdr := make([]byte, 24) // command(2) length(2) session(4) status(4) context(8) options(4)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return 0, 0, err
	}
	length := binary.LittleEndian.Uint16(hdr[2:4])
	body := make([]byte, length)
	if _, err := io.ReadFull(conn, body); err != nil {
		return 0, 0, err
	}
	if len(body) < 3 {
		return 0, 0, errors.New("enip: short CIP body")
	}
	return fabric.Space(body[0]), binary.BigEndian.Uint16(body[1:3]), nil
}

func (enipCodec) writeResponse(conn net.Conn, _ fabric.Space, ok bool, value uint16) error {
	cip := make([]byte, 3)
	if ok {
		cip[0] = 0x00 // CIP general status "Success"
	} else {
		cip[0] = 0x05 // CIP general status "Path destination unknown"
	}
	binary.BigEndian.PutUint16(cip[1:], value)

	hdr := make([]byte, 24)
	binary.LittleEndian.PutUint16(hdr[0:2], enipCommandSendRRData)
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(cip)))
	frame := append(hdr, cip...)
	_, err := conn.Write(frame)
	return err
}

// NewEtherNetIPServer constructs a minimal EtherNet/IP read listener for device.
func NewEtherNetIPServer(device, addr string, bounds Bounds, gate Admission, logger *logging.Logger) Server {
	return newMinimalServer(device, "ethernetip", addr, bounds, gate, logger, enipCodec{})
}
