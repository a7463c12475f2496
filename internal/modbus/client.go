package modbus

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goburrow/serial"

	"github.com/watertreat/scada-core/internal/scadaerr"
)

// Client polls one downstream Modbus slave, over either TCP or RTU
// depending on which constructor built it. transact correlates a request
// to its response by transaction_id (TCP) or by slave address + function
// code (RTU), per spec §4.5.
type Client struct {
	unitID byte

	// TCP fields.
	tcpAddr string
	conn    net.Conn
	nextTxn uint32

	// RTU fields.
	rtuCfg RTUConfig
	port   serial.Port

	mu sync.Mutex
}

// NewTCPClient builds a client that will dial addr (host:port) lazily on
// first use.
func NewTCPClient(addr string, unitID byte) *Client {
	return &Client{tcpAddr: addr, unitID: unitID}
}

// NewRTUClient builds a client bound to one serial line and slave address.
func NewRTUClient(cfg RTUConfig, unitID byte) *Client {
	return &Client{rtuCfg: cfg, unitID: unitID}
}

func (c *Client) isTCP() bool { return c.tcpAddr != "" }

// Connect establishes the underlying transport, using a bounded dial
// timeout so a slow or unreachable remote cannot stall the caller (spec
// §4.5 "non-blocking connect with select-based timeout"; net.DialTimeout is
// this core's idiomatic Go equivalent of that select-on-a-nonblocking-fd
// pattern).
func (c *Client) Connect(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isTCP() {
		if c.conn != nil {
			return nil
		}
		conn, err := net.DialTimeout("tcp", c.tcpAddr, timeout)
		if err != nil {
			return scadaerr.Wrap(scadaerr.IO, "dial "+c.tcpAddr, err)
		}
		c.conn = conn
		return nil
	}
	if c.port != nil {
		return nil
	}
	port, err := serial.Open(&serial.Config{
		Address:  c.rtuCfg.Device,
		BaudRate: c.rtuCfg.Baud,
		DataBits: dataBitsOr(c.rtuCfg.DataBits, 8),
		StopBits: stopBitsOr(c.rtuCfg.StopBits, 1),
		Parity:   parityOr(c.rtuCfg.Parity, "N"),
		Timeout:  timeout,
	})
	if err != nil {
		return scadaerr.Wrap(scadaerr.IO, "open "+c.rtuCfg.Device, err)
	}
	c.port = port
	return nil
}

// Close tears down the underlying transport so a subsequent Connect
// re-dials or re-opens cleanly.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	if c.port != nil {
		if e := c.port.Close(); err == nil {
			err = e
		}
		c.port = nil
	}
	return err
}

// Transact sends fc+requestBody as one PDU and waits up to timeout for a
// matching response, returning the response PDU (function code included) or an
// error. A mismatched transaction_id (TCP) yields scadaerr.Protocol, per
// spec §4.5.
func (c *Client) Transact(fc FunctionCode, requestBody []byte, timeout time.Duration) ([]byte, error) {
	pdu := append([]byte{byte(fc)}, requestBody...)
	if c.isTCP() {
		return c.transactTCP(pdu, timeout)
	}
	return c.transactRTU(fc, pdu, timeout)
}

func (c *Client) transactTCP(pdu []byte, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, scadaerr.New(scadaerr.NotConnected, "TCP client not connected")
	}

	txn := uint16(atomic.AddUint32(&c.nextTxn, 1))
	adu := encodeMBAP(txn, c.unitID, pdu)

	conn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(adu); err != nil {
		return nil, scadaerr.Wrap(scadaerr.IO, "write", err)
	}

	header := make([]byte, mbapHeaderLen)
	conn.SetReadDeadline(time.Now().Add(timeout))
	if _, err := readFull(conn, header); err != nil {
		return nil, scadaerr.Wrap(scadaerr.Timeout, "read MBAP header", err)
	}
	length := binary.BigEndian.Uint16(header[4:6])
	if length < 1 {
		return nil, scadaerr.New(scadaerr.Protocol, "zero-length MBAP response")
	}
	body := make([]byte, int(length)-1)
	if _, err := readFull(conn, body); err != nil {
		return nil, scadaerr.Wrap(scadaerr.Timeout, "read MBAP body", err)
	}

	respTxn := binary.BigEndian.Uint16(header[0:2])
	if respTxn != txn {
		return nil, scadaerr.New(scadaerr.Protocol, "mismatched transaction id")
	}
	return body, nil
}

func (c *Client) transactRTU(fc FunctionCode, pdu []byte, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	port := c.port
	c.mu.Unlock()
	if port == nil {
		return nil, scadaerr.New(scadaerr.NotConnected, "RTU client not connected")
	}

	frame := encodeRTUFrame(c.unitID, pdu)
	if _, err := port.Write(frame); err != nil {
		return nil, scadaerr.Wrap(scadaerr.IO, "write", err)
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 0, 256)
	chunk := make([]byte, 256)
	for time.Now().Before(deadline) {
		n, err := port.Read(chunk)
		if err != nil {
			continue
		}
		if n == 0 {
			if len(buf) > 0 {
				break
			}
			continue
		}
		buf = append(buf, chunk[:n]...)
	}
	if len(buf) == 0 {
		return nil, scadaerr.New(scadaerr.Timeout, "RTU transact timed out")
	}

	slaveAddr, respPDU, ok := decodeRTUFrame(buf)
	if !ok {
		return nil, scadaerr.New(scadaerr.Protocol, "bad CRC in RTU response")
	}
	if slaveAddr != c.unitID || len(respPDU) == 0 {
		return nil, scadaerr.New(scadaerr.Protocol, "mismatched slave address in RTU response")
	}
	if gotFC, exc, isExc := IsException(respPDU); isExc && gotFC == fc {
		return nil, scadaerr.New(scadaerr.Protocol, fmt.Sprintf("slave returned exception 0x%02x", byte(exc)))
	}
	if respPDU[0] != byte(fc) {
		return nil, scadaerr.New(scadaerr.Protocol, "mismatched function code in RTU response")
	}
	// Returned PDU matches the TCP path's shape: full PDU body, function
	// code included, so callers can treat both transports identically.
	return respPDU, nil
}
