package statusch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/librescoot/fwupload/pkg/transport"
)

const (
	syncByte1 = 0xF6
	syncByte2 = 0xD9

	frameIDRequest  byte = 0x01
	frameIDResponse byte = 0x02

	maxPayloadLength = 256
)

// crc16Table is the CRC-16/ARC table, kept verbatim from the teacher's
// pkg/usock (same reflected polynomial, same generation approach as
// pkg/crc32engine but at 16 bits for this side channel's shorter frames).
var crc16Table = [256]uint16{
	0x0000, 0xC0C1, 0xC181, 0x0140, 0xC301, 0x03C0, 0x0280, 0xC241, 0xC601, 0x06C0, 0x0780, 0xC741,
	0x0500, 0xC5C1, 0xC481, 0x0440, 0xCC01, 0x0CC0, 0x0D80, 0xCD41, 0x0F00, 0xCFC1, 0xCE81, 0x0E40,
	0x0A00, 0xCAC1, 0xCB81, 0x0B40, 0xC901, 0x09C0, 0x0880, 0xC841, 0xD801, 0x18C0, 0x1980, 0xD941,
	0x1B00, 0xDBC1, 0xDA81, 0x1A40, 0x1E00, 0xDEC1, 0xDF81, 0x1F40, 0xDD01, 0x1DC0, 0x1C80, 0xDC41,
	0x1400, 0xD4C1, 0xD581, 0x1540, 0xD701, 0x17C0, 0x1680, 0xD641, 0xD201, 0x12C0, 0x1380, 0xD341,
	0x1100, 0xD1C1, 0xD081, 0x1040, 0xF001, 0x30C0, 0x3180, 0xF141, 0x3300, 0xF3C1, 0xF281, 0x3240,
	0x3600, 0xF6C1, 0xF781, 0x3740, 0xF501, 0x35C0, 0x3480, 0xF441, 0x3C00, 0xFCC1, 0xFD81, 0x3D40,
	0xFF01, 0x3FC0, 0x3E80, 0xFE41, 0xFA01, 0x3AC0, 0x3B80, 0xFB41, 0x3900, 0xF9C1, 0xF881, 0x3840,
	0x2800, 0xE8C1, 0xE981, 0x2940, 0xEB01, 0x2BC0, 0x2A80, 0xEA41, 0xEE01, 0x2EC0, 0x2F80, 0xEF41,
	0x2D00, 0xEDC1, 0xEC81, 0x2C40, 0xE401, 0x24C0, 0x2580, 0xE541, 0x2700, 0xE7C1, 0xE681, 0x2640,
	0x2200, 0xE2C1, 0xE381, 0x2340, 0xE101, 0x21C0, 0x2080, 0xE041, 0xA001, 0x60C0, 0x6180, 0xA141,
	0x6300, 0xA3C1, 0xA281, 0x6240, 0x6600, 0xA6C1, 0xA781, 0x6740, 0xA501, 0x65C0, 0x6480, 0xA441,
	0x6C00, 0xACC1, 0xAD81, 0x6D40, 0xAF01, 0x6FC0, 0x6E80, 0xAE41, 0xAA01, 0x6AC0, 0x6B80, 0xAB41,
	0x6900, 0xA9C1, 0xA881, 0x6840, 0x7800, 0xB8C1, 0xB981, 0x7940, 0xBB01, 0x7BC0, 0x7A80, 0xBA41,
	0xBE01, 0x7EC0, 0x7F80, 0xBF41, 0x7D00, 0xBDC1, 0xBC81, 0x7C40, 0xB401, 0x74C0, 0x7580, 0xB541,
	0x7700, 0xB7C1, 0xB681, 0x7640, 0x7200, 0xB2C1, 0xB381, 0x7340, 0xB101, 0x71C0, 0x7080, 0xB041,
	0x5000, 0x90C1, 0x9181, 0x5140, 0x9301, 0x53C0, 0x5280, 0x9241, 0x9601, 0x56C0, 0x5780, 0x9741,
	0x5500, 0x95C1, 0x9481, 0x5440, 0x9C01, 0x5CC0, 0x5D80, 0x9D41, 0x5F00, 0x9FC1, 0x9E81, 0x5E40,
	0x5A00, 0x9AC1, 0x9B81, 0x5B40, 0x9901, 0x59C0, 0x5880, 0x9841, 0x8801, 0x48C0, 0x4980, 0x8941,
	0x4B00, 0x8BC1, 0x8A81, 0x4A40, 0x4E00, 0x8EC1, 0x8F81, 0x4F40, 0x8D01, 0x4DC0, 0x4C80, 0x8C41,
	0x4400, 0x84C1, 0x8581, 0x4540, 0x8701, 0x47C0, 0x4680, 0x8641, 0x8201, 0x42C0, 0x4380, 0x8341,
	0x4100, 0x81C1, 0x8081, 0x4040,
}

func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		idx := (crc ^ uint16(b)) & 0xFF
		crc = (crc >> 8) ^ crc16Table[idx]
	}
	return crc
}

// ErrCRC is returned when a frame's trailing CRC does not match its
// header+payload.
var ErrCRC = errors.New("statusch: frame crc mismatch")

func encodeFrame(frameID byte, payload []byte) []byte {
	header := []byte{syncByte1, syncByte2, frameID}
	lenBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBytes, uint16(len(payload)))
	header = append(header, lenBytes...)

	buf := make([]byte, 0, len(header)+2+len(payload)+2)
	buf = append(buf, header...)
	hcrc := crc16(header)
	buf = append(buf, byte(hcrc), byte(hcrc>>8))
	buf = append(buf, payload...)
	pcrc := crc16(payload)
	buf = append(buf, byte(pcrc), byte(pcrc>>8))
	return buf
}

// decoder reads one framed message a byte at a time, mirroring the
// teacher's usock state machine (sync, frame ID, length, header CRC,
// payload, payload CRC) but over a blocking transport.Port instead of a
// free-running read loop.
type decoder struct {
	port    transport.Port
	timeout time.Duration
}

func newDecoder(port transport.Port, timeout time.Duration) *decoder {
	return &decoder{port: port, timeout: timeout}
}

func (d *decoder) readByte() (byte, error) {
	b, err := d.port.ReadExact(1, d.timeout)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// decode reads one complete frame, returning its frame ID and payload.
func (d *decoder) decode() (frameID byte, payload []byte, err error) {
	for {
		b, err := d.readByte()
		if err != nil {
			return 0, nil, err
		}
		if b == syncByte1 {
			break
		}
	}
	b2, err := d.readByte()
	if err != nil {
		return 0, nil, err
	}
	if b2 != syncByte2 {
		return 0, nil, fmt.Errorf("statusch: expected second sync byte, got 0x%02x", b2)
	}

	header := []byte{syncByte1, syncByte2}
	idByte, err := d.readByte()
	if err != nil {
		return 0, nil, err
	}
	header = append(header, idByte)

	lenLo, err := d.readByte()
	if err != nil {
		return 0, nil, err
	}
	lenHi, err := d.readByte()
	if err != nil {
		return 0, nil, err
	}
	header = append(header, lenLo, lenHi)
	payloadLen := binary.LittleEndian.Uint16([]byte{lenLo, lenHi})
	if int(payloadLen) > maxPayloadLength {
		return 0, nil, fmt.Errorf("statusch: payload length %d exceeds maximum %d", payloadLen, maxPayloadLength)
	}

	hcrcLo, err := d.readByte()
	if err != nil {
		return 0, nil, err
	}
	hcrcHi, err := d.readByte()
	if err != nil {
		return 0, nil, err
	}
	gotHCRC := binary.LittleEndian.Uint16([]byte{hcrcLo, hcrcHi})
	if gotHCRC != crc16(header) {
		return 0, nil, ErrCRC
	}

	payload = make([]byte, payloadLen)
	for i := range payload {
		payload[i], err = d.readByte()
		if err != nil {
			return 0, nil, err
		}
	}

	pcrcLo, err := d.readByte()
	if err != nil {
		return 0, nil, err
	}
	pcrcHi, err := d.readByte()
	if err != nil {
		return 0, nil, err
	}
	gotPCRC := binary.LittleEndian.Uint16([]byte{pcrcLo, pcrcHi})
	if gotPCRC != crc16(payload) {
		return 0, nil, ErrCRC
	}

	return idByte, payload, nil
}

// Channel is the host-side handle for querying a device over the status
// side channel. It must only be used while no upload session is in
// progress: the side channel and the core upload protocol share the same
// wire and are never active at once (spec §1's single-image-per-session
// model, extended here to "single logical channel active per session").
type Channel struct {
	port    transport.Port
	timeout time.Duration
}

// NewChannel wraps an already-open transport.Port.
func NewChannel(port transport.Port, timeout time.Duration) *Channel {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Channel{port: port, timeout: timeout}
}

// Query sends a request and waits for the matching DeviceInfo response.
func (c *Channel) Query(kind QueryKind) (DeviceInfo, error) {
	reqPayload, err := cbor.Marshal(Query{Kind: kind})
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("statusch: encode query: %w", err)
	}
	if err := c.port.WriteAll(encodeFrame(frameIDRequest, reqPayload)); err != nil {
		return DeviceInfo{}, fmt.Errorf("statusch: write query: %w", err)
	}
	if err := c.port.Drain(); err != nil {
		return DeviceInfo{}, fmt.Errorf("statusch: drain: %w", err)
	}

	dec := newDecoder(c.port, c.timeout)
	id, payload, err := dec.decode()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("statusch: decode response: %w", err)
	}
	if id != frameIDResponse {
		return DeviceInfo{}, fmt.Errorf("statusch: unexpected frame id 0x%02x", id)
	}
	var info DeviceInfo
	if err := cbor.Unmarshal(payload, &info); err != nil {
		return DeviceInfo{}, fmt.Errorf("statusch: decode device info: %w", err)
	}
	return info, nil
}

// Responder answers status queries from the device side, for use while no
// upload session is active. The device-simulation harness
// (cmd/fwdevice-sim) does not run one; this package's tests do.
type Responder struct {
	port transport.Port
	info func() DeviceInfo
}

// NewResponder returns a Responder that answers every query with
// whatever infoFn returns at the time of the query (so LastResult can
// reflect the most recently completed session).
func NewResponder(port transport.Port, infoFn func() DeviceInfo) *Responder {
	return &Responder{port: port, info: infoFn}
}

// ServeOne decodes one request and writes back the current DeviceInfo. It
// blocks until a request arrives or timeout elapses.
func (r *Responder) ServeOne(timeout time.Duration) error {
	dec := newDecoder(r.port, timeout)
	id, payload, err := dec.decode()
	if err != nil {
		return err
	}
	if id != frameIDRequest {
		return fmt.Errorf("statusch: unexpected frame id 0x%02x", id)
	}
	var q Query
	if err := cbor.Unmarshal(payload, &q); err != nil {
		return fmt.Errorf("statusch: decode query: %w", err)
	}

	info := r.info()
	respPayload, err := cbor.Marshal(info)
	if err != nil {
		return fmt.Errorf("statusch: encode device info: %w", err)
	}
	if err := r.port.WriteAll(encodeFrame(frameIDResponse, respPayload)); err != nil {
		return fmt.Errorf("statusch: write response: %w", err)
	}
	return r.port.Drain()
}
