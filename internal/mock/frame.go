package mock

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	mbapHeaderSize = 7
	maxPDUSize     = 253

	FuncReadHoldingRegisters uint8 = 0x03
	ExceptionIllegalFunction uint8 = 0x01
)

var (
	ErrProtocolID  = errors.New("mbap: 非 Modbus 协议标识")
	ErrFrameLength = errors.New("mbap: 长度字段非法")
)

// Frame 一个 Modbus TCP 帧 (MBAP 头 + PDU)
type Frame struct {
	TransactionID uint16
	ProtocolID    uint16
	UnitID        uint8
	PDU           []byte
}

// ReadFrame 从连接中读取一个完整的帧
func ReadFrame(r io.Reader) (*Frame, error) {
	var header [mbapHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	f := &Frame{
		TransactionID: binary.BigEndian.Uint16(header[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(header[2:4]),
		UnitID:        header[6],
	}
	// 长度字段包含 unit id
	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 2 || length-1 > maxPDUSize {
		return nil, fmt.Errorf("%w: %d", ErrFrameLength, length)
	}
	f.PDU = make([]byte, length-1)
	if _, err := io.ReadFull(r, f.PDU); err != nil {
		return nil, err
	}
	if f.ProtocolID != 0 {
		return f, ErrProtocolID
	}
	return f, nil
}

// Function 功能码
func (f *Frame) Function() uint8 {
	return f.PDU[0]
}

// Reply 构造同一事务的应答帧
func (f *Frame) Reply(pdu []byte) *Frame {
	return &Frame{
		TransactionID: f.TransactionID,
		ProtocolID:    f.ProtocolID,
		UnitID:        f.UnitID,
		PDU:           pdu,
	}
}

// Bytes 编码为线上格式
func (f *Frame) Bytes() []byte {
	buf := make([]byte, mbapHeaderSize+len(f.PDU))
	binary.BigEndian.PutUint16(buf[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], f.ProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(f.PDU)+1))
	buf[6] = f.UnitID
	copy(buf[mbapHeaderSize:], f.PDU)
	return buf
}

// decodeReadRequest 解析 FC3 请求, PDU 不足 5 字节时返回 false
func decodeReadRequest(pdu []byte) (ReadRequest, bool) {
	if len(pdu) < 5 {
		return ReadRequest{}, false
	}
	return ReadRequest{
		Address:  int(binary.BigEndian.Uint16(pdu[1:3])),
		Quantity: int(binary.BigEndian.Uint16(pdu[3:5])),
	}, true
}

// readResponsePDU FC3 应答: 功能码 + 字节数 + 数据
func readResponsePDU(payload []byte) []byte {
	pdu := make([]byte, 2+len(payload))
	pdu[0] = FuncReadHoldingRegisters
	pdu[1] = byte(len(payload))
	copy(pdu[2:], payload)
	return pdu
}

func exceptionPDU(function, code uint8) []byte {
	return []byte{function | 0x80, code}
}
