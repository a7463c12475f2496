package modbus

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/watertreat/scada-core/internal/scadaerr"
)

// mbapHeaderLen is transaction_id(2) + protocol_id(2) + length(2) + unit_id(1).
const mbapHeaderLen = 7

// encodeMBAP builds a full TCP ADU: the 7-byte MBAP header followed by pdu.
func encodeMBAP(transactionID uint16, unitID byte, pdu []byte) []byte {
	out := make([]byte, mbapHeaderLen+len(pdu))
	binary.BigEndian.PutUint16(out[0:2], transactionID)
	binary.BigEndian.PutUint16(out[2:4], 0) // protocol_id is always 0 for Modbus
	binary.BigEndian.PutUint16(out[4:6], uint16(1+len(pdu)))
	out[6] = unitID
	copy(out[7:], pdu)
	return out
}

// decodeMBAP splits a full ADU into its header fields and PDU.
func decodeMBAP(adu []byte) (transactionID uint16, unitID byte, pdu []byte, err error) {
	if len(adu) < mbapHeaderLen {
		return 0, 0, nil, scadaerr.New(scadaerr.Protocol, "MBAP header truncated")
	}
	transactionID = binary.BigEndian.Uint16(adu[0:2])
	protocolID := binary.BigEndian.Uint16(adu[2:4])
	if protocolID != 0 {
		return 0, 0, nil, scadaerr.New(scadaerr.Protocol, "non-zero MBAP protocol id")
	}
	length := binary.BigEndian.Uint16(adu[4:6])
	unitID = adu[6]
	if int(length) < 1 {
		return 0, 0, nil, scadaerr.New(scadaerr.Protocol, "MBAP length field too small")
	}
	want := mbapHeaderLen + int(length) - 1
	if len(adu) < want {
		return 0, 0, nil, scadaerr.New(scadaerr.Protocol, "MBAP body shorter than declared length")
	}
	pdu = adu[mbapHeaderLen:want]
	return transactionID, unitID, pdu, nil
}

// DefaultMaxConnections is the default (and hard) cap on concurrent TCP
// clients per server (spec §6).
const DefaultMaxConnections = 32

// TCPConfig is the bind configuration for a Modbus TCP server.
type TCPConfig struct {
	BindAddress    string
	Port           int
	MaxConnections int // 0 defaults to, and is capped at, DefaultMaxConnections
	TimeoutMs      int // carried from configuration; not consulted (reads use a fixed 1 s tick)
}

// TCPStats mirrors the per-transport counters spec §6 asks for.
type TCPStats struct {
	mu               sync.Mutex
	RequestsReceived uint64
	ResponsesSent    uint64
	Exceptions       uint64
	BytesSent        uint64
	BytesReceived    uint64
	ActiveClients    int
}

func (s *TCPStats) Snapshot() TCPStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TCPStats{
		RequestsReceived: s.RequestsReceived,
		ResponsesSent:    s.ResponsesSent,
		Exceptions:       s.Exceptions,
		BytesSent:        s.BytesSent,
		BytesReceived:    s.BytesReceived,
		ActiveClients:    s.ActiveClients,
	}
}

// clientContext tracks one connected TCP client, mirroring spec §4.5's
// "fd, IP, and last-activity timestamp" per-client bookkeeping.
type clientContext struct {
	conn         net.Conn
	ip           string
	lastActivity time.Time
}

// TCPServer accepts Modbus TCP clients up to MaxConnections and answers
// requests via handler. One lock covers the client table and stats, per
// spec §5's locking discipline.
type TCPServer struct {
	cfg     TCPConfig
	handler RequestHandler
	log     *logrus.Entry

	mu      sync.Mutex
	clients map[net.Conn]*clientContext
	stats   TCPStats

	listener net.Listener
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewTCPServer(cfg TCPConfig, handler RequestHandler, logger *logrus.Logger) *TCPServer {
	if cfg.MaxConnections <= 0 || cfg.MaxConnections > DefaultMaxConnections {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TCPServer{
		cfg:     cfg,
		handler: handler,
		log:     logger.WithField("component", "modbus-tcp"),
		clients: make(map[net.Conn]*clientContext),
		stopCh:  make(chan struct{}),
	}
}

// Start binds the listener and launches the accept loop.
func (s *TCPServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return scadaerr.Wrap(scadaerr.IO, "listen "+addr, err)
	}
	s.listener = ln
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every connected client.
func (s *TCPServer) Stop() {
	close(s.stopCh)
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.clients {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.log.WithError(err).Warn("accept failed")
				return
			}
		}
		s.mu.Lock()
		if len(s.clients) >= s.cfg.MaxConnections {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		ctx := &clientContext{conn: conn, ip: conn.RemoteAddr().String(), lastActivity: time.Now()}
		s.clients[conn] = ctx
		s.stats.mu.Lock()
		s.stats.ActiveClients = len(s.clients)
		s.stats.mu.Unlock()
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveClient(conn, ctx)
	}
}

// serveClient implements spec §4.5's "select-style readiness loop with a
// 1s tick" via a per-read deadline, evicting on peer-close or any
// non-timeout read error.
func (s *TCPServer) serveClient(conn net.Conn, ctx *clientContext) {
	defer s.wg.Done()
	defer s.evict(conn)

	header := make([]byte, mbapHeaderLen)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		if _, err := readFull(conn, header); err != nil {
			if isTimeout(err) {
				continue
			}
			return // peer closed or hard error
		}
		length := binary.BigEndian.Uint16(header[4:6])
		if length < 1 {
			return
		}
		body := make([]byte, int(length)-1)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, err := readFull(conn, body); err != nil {
			return
		}

		adu := append(append([]byte(nil), header...), body...)
		s.mu.Lock()
		ctx.lastActivity = time.Now()
		s.mu.Unlock()
		s.stats.mu.Lock()
		s.stats.RequestsReceived++
		s.stats.BytesReceived += uint64(len(adu))
		s.stats.mu.Unlock()

		transactionID, unitID, pdu, err := decodeMBAP(adu)
		if err != nil {
			s.log.WithError(err).Warn("malformed MBAP frame")
			continue
		}
		respPDU := s.handler(unitID, pdu)
		if respPDU == nil {
			continue
		}
		if _, _, ok := IsException(respPDU); ok {
			s.stats.mu.Lock()
			s.stats.Exceptions++
			s.stats.mu.Unlock()
		}
		out := encodeMBAP(transactionID, unitID, respPDU)
		if _, err := conn.Write(out); err != nil {
			return
		}
		s.stats.mu.Lock()
		s.stats.ResponsesSent++
		s.stats.BytesSent += uint64(len(out))
		s.stats.mu.Unlock()
	}
}

func (s *TCPServer) evict(conn net.Conn) {
	conn.Close()
	s.mu.Lock()
	delete(s.clients, conn)
	s.stats.mu.Lock()
	s.stats.ActiveClients = len(s.clients)
	s.stats.mu.Unlock()
	s.mu.Unlock()
}

// Stats returns a snapshot of this server's counters.
func (s *TCPServer) Stats() TCPStats { return s.stats.Snapshot() }

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
