package protocol

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grimm-is/icsrange/internal/fabric"
)

// minimalServerCase lets the same round-trip test exercise all five
// minimal protocols against their own wire framing.
type minimalServerCase struct {
	name string
	new  func(device, addr string, bounds Bounds, gate Admission) Server
}

var minimalServerCases = []minimalServerCase{
	{"s7", func(d, a string, b Bounds, g Admission) Server { return NewS7Server(d, a, b, g, nil) }},
	{"dnp3", func(d, a string, b Bounds, g Admission) Server { return NewDNP3Server(d, a, b, g, nil) }},
	{"iec104", func(d, a string, b Bounds, g Admission) Server { return NewIEC104Server(d, a, b, g, nil) }},
	{"opcua", func(d, a string, b Bounds, g Admission) Server { return NewOPCUAServer(d, a, b, g, nil) }},
	{"ethernetip", func(d, a string, b Bounds, g Admission) Server { return NewEtherNetIPServer(d, a, b, g, nil) }},
}

func startMinimal(t *testing.T, c minimalServerCase) (Server, net.Conn) {
	t.Helper()
	srv := c.new("turbine_plc_1", "127.0.0.1:0", testBounds(), alwaysAllow{})
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})

	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(srv.Port()), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return srv, conn
}

func TestMinimalServersReadPushedTelemetry(t *testing.T) {
	for _, c := range minimalServerCases {
		t.Run(c.name, func(t *testing.T) {
			srv, conn := startMinimal(t, c)

			tele := fabric.NewMemoryMap()
			tele.InputRegisters[5] = 4242
			srv.MirrorPush(tele)

			req := make([]byte, 3)
			req[0] = byte(fabric.InputRegister)
			binary.BigEndian.PutUint16(req[1:3], 5)

			var frame []byte
			switch c.name {
			case "s7":
				frame = append([]byte{tpktVersion, 0, 0, 0}, req...)
				binary.BigEndian.PutUint16(frame[2:4], uint16(len(frame)))
			case "dnp3":
				frame = append([]byte{dnp3Start[0], dnp3Start[1], byte(len(req))}, req...)
			case "iec104":
				frame = append([]byte{iec104Start, byte(len(req))}, req...)
			case "opcua":
				frame = make([]byte, 8+len(req))
				copy(frame[0:3], opcuaMessageType[:])
				frame[3] = 'F'
				binary.BigEndian.PutUint32(frame[4:8], uint32(len(frame)))
				copy(frame[8:], req)
			case "ethernetip":
				hdr := make([]byte, 24)
				binary.LittleEndian.PutUint16(hdr[0:2], enipCommandSendRRData)
				binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(req)))
				frame = append(hdr, req...)
			}

			require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
			_, err := conn.Write(frame)
			require.NoError(t, err)

			resp := readFrame(t, conn, respLen(c.name))
			value := binary.BigEndian.Uint16(resp[len(resp)-2:])
			require.Equal(t, uint16(4242), value)
		})
	}
}

func respLen(protocol string) int {
	switch protocol {
	case "s7":
		return 4 + 3
	case "dnp3":
		return 3 + 3
	case "iec104":
		return 2 + 3
	case "opcua":
		return 8 + 3
	case "ethernetip":
		return 24 + 3
	default:
		return 0
	}
}
