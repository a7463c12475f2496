package modbus

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/goburrow/serial"
	"github.com/sirupsen/logrus"
)

// RTUConfig is the serial line configuration for an RTU server or client
// (spec §6 "Modbus RTU server config").
type RTUConfig struct {
	Device   string
	Baud     int
	Parity   string // "N", "E", "O"
	DataBits int    // default 8
	StopBits int    // default 1
	SlaveID  byte   // this server's own address; clients ignore it
}

// charTime is the duration of one character (1 start + 8 data + parity/stop
// bits, approximated as 11 bits) at the configured baud rate.
func charTime(baud int) time.Duration {
	if baud <= 0 {
		baud = 9600
	}
	return time.Duration(11*1000000000/baud) * time.Nanosecond
}

// interFrameGap is 3.5 character times, the RTU silent interval that marks
// the end of one ADU and the start of the next (spec §4.5).
func interFrameGap(baud int) time.Duration {
	return time.Duration(float64(charTime(baud)) * 3.5)
}

// RTUStats mirrors the per-transport counters spec §6 requires exposed as
// telemetry.
type RTUStats struct {
	mu               sync.Mutex
	RequestsReceived uint64
	ResponsesSent    uint64
	CRCErrors        uint64
	BytesSent        uint64
	BytesReceived    uint64
}

func (s *RTUStats) addReceived(n int) {
	s.mu.Lock()
	s.RequestsReceived++
	s.BytesReceived += uint64(n)
	s.mu.Unlock()
}

func (s *RTUStats) addSent(n int) {
	s.mu.Lock()
	s.ResponsesSent++
	s.BytesSent += uint64(n)
	s.mu.Unlock()
}

func (s *RTUStats) addCRCError() {
	s.mu.Lock()
	s.CRCErrors++
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (s *RTUStats) Snapshot() RTUStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RTUStats{
		RequestsReceived: s.RequestsReceived,
		ResponsesSent:    s.ResponsesSent,
		CRCErrors:        s.CRCErrors,
		BytesSent:        s.BytesSent,
		BytesReceived:    s.BytesReceived,
	}
}

// encodeRTUFrame builds slave_addr + pdu + CRC16, low byte first on the
// wire (spec §4.5, §8).
func encodeRTUFrame(slaveAddr byte, pdu []byte) []byte {
	out := make([]byte, 0, 1+len(pdu)+2)
	out = append(out, slaveAddr)
	out = append(out, pdu...)
	crc := crc16(out)
	var crcBytes [2]byte
	binary.LittleEndian.PutUint16(crcBytes[:], crc)
	out = append(out, crcBytes[:]...)
	return out
}

// decodeRTUFrame validates the trailing CRC16 and splits slave address from
// PDU. A bad CRC is reported via ok=false; the caller increments crc_errors
// and drops the frame silently (spec §4.5).
func decodeRTUFrame(frame []byte) (slaveAddr byte, pdu []byte, ok bool) {
	if len(frame) < 4 { // addr + at least 1 PDU byte + 2 CRC bytes
		return 0, nil, false
	}
	body := frame[:len(frame)-2]
	want := binary.LittleEndian.Uint16(frame[len(frame)-2:])
	if crc16(body) != want {
		return 0, nil, false
	}
	return body[0], body[1:], true
}

// RTUServer answers Modbus requests arriving over one serial line, framing
// by inter-frame silence the way the teacher's UART device frames bytes by
// register offset under one lock (core_engine/devices/serial.go).
type RTUServer struct {
	cfg     RTUConfig
	handler RequestHandler
	log     *logrus.Entry
	stats   RTUStats

	port serial.Port

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewRTUServer(cfg RTUConfig, handler RequestHandler, logger *logrus.Logger) *RTUServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RTUServer{
		cfg:     cfg,
		handler: handler,
		log:     logger.WithField("component", "modbus-rtu"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Open opens the serial port described by cfg.
func (s *RTUServer) Open() error {
	port, err := serial.Open(&serial.Config{
		Address:  s.cfg.Device,
		BaudRate: s.cfg.Baud,
		DataBits: dataBitsOr(s.cfg.DataBits, 8),
		StopBits: stopBitsOr(s.cfg.StopBits, 1),
		Parity:   parityOr(s.cfg.Parity, "N"),
		Timeout:  readTimeout,
	})
	if err != nil {
		return err
	}
	s.port = port
	return nil
}

const readTimeout = 50 * time.Millisecond

func dataBitsOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func stopBitsOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parityOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Serve collects bytes until a read returns no data within the port's fixed
// read timeout (readTimeout, 50 ms), treats what it collected as one frame,
// and answers it with handler, writing the response back with a fresh CRC.
// The 3.5-character gap computed by interFrameGap is not used to delimit
// frames. Serve blocks until Stop is called.
func (s *RTUServer) Serve() {
	defer close(s.doneCh)
	gap := interFrameGap(s.cfg.Baud)
	buf := make([]byte, 0, 256)
	chunk := make([]byte, 256)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		n, err := s.port.Read(chunk)
		if err != nil {
			if len(buf) > 0 {
				s.handleFrame(buf)
				buf = buf[:0]
			}
			continue
		}
		if n == 0 {
			if len(buf) > 0 {
				s.handleFrame(buf)
				buf = buf[:0]
			}
			continue
		}
		buf = append(buf, chunk[:n]...)
		_ = gap // unused: frames end on the port's read timeout instead
	}
}

func (s *RTUServer) handleFrame(frame []byte) {
	s.stats.addReceived(len(frame))
	slaveAddr, pdu, ok := decodeRTUFrame(frame)
	if !ok {
		s.stats.addCRCError()
		return
	}
	if slaveAddr != s.cfg.SlaveID && slaveAddr != 0 {
		return // not addressed to us and not a broadcast
	}
	resp := s.handler(slaveAddr, pdu)
	if resp == nil {
		return
	}
	out := encodeRTUFrame(slaveAddr, resp)
	if _, err := s.port.Write(out); err != nil {
		s.log.WithError(err).Warn("RTU write failed")
		return
	}
	s.stats.addSent(len(out))
}

// Stop signals Serve to return and closes the port.
func (s *RTUServer) Stop() {
	close(s.stopCh)
	<-s.doneCh
	if s.port != nil {
		s.port.Close()
	}
}

// Stats returns a snapshot of this server's counters.
func (s *RTUServer) Stats() RTUStats { return s.stats.Snapshot() }
