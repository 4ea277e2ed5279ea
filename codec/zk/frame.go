package zk

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/aaronwong1989/zklink/codec"
)

// Frame 一个完整报文：报文头 + 负载
type Frame struct {
	Header
	Payload []byte
}

var _ codec.Codec = (*Frame)(nil)

// NewFrame 构造报文，校验码在 Encode 时计算
func NewFrame(command, sessionID, replyID uint16, payload []byte) *Frame {
	return &Frame{
		Header:  Header{Command: command, SessionId: sessionID, ReplyId: replyID},
		Payload: payload,
	}
}

// Encode 生成不带 TCP 前缀的报文，并回写校验码
func (f *Frame) Encode() []byte {
	buf := make([]byte, HeadLength+len(f.Payload))
	f.CheckSum = 0
	f.Header.put(buf)
	copy(buf[HeadLength:], f.Payload)
	f.CheckSum = Checksum(buf)
	binary.LittleEndian.PutUint16(buf[2:4], f.CheckSum)
	return buf
}

func (f *Frame) Decode(header codec.IHead, payload []byte) error {
	h, ok := header.(*Header)
	if !ok || h == nil {
		return ErrorPacket
	}
	f.Header = *h
	f.Payload = payload
	return nil
}

// Valid 按收到的报文头和负载重新计算校验码
func (f *Frame) Valid() bool {
	h := f.Header
	h.CheckSum = 0
	buf := make([]byte, HeadLength+len(f.Payload))
	h.put(buf)
	copy(buf[HeadLength:], f.Payload)
	return Checksum(buf) == f.CheckSum
}

func (f *Frame) String() string {
	return fmt.Sprintf("{ Header: %s, Payload: %d bytes }", &f.Header, len(f.Payload))
}

// Wrap 加上 TCP 前缀：4 字节魔数、2 字节内部长度、2 字节保留
func Wrap(frame []byte) []byte {
	buf := make([]byte, EnvelopeLength+len(frame))
	copy(buf[0:4], envelopeMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(frame)))
	copy(buf[EnvelopeLength:], frame)
	return buf
}

// HasEnvelope 判断是否以 TCP 前缀魔数开头
func HasEnvelope(buf []byte) bool {
	return len(buf) >= EnvelopeLength && bytes.Equal(buf[0:4], envelopeMagic[:])
}

// Unwrap 去掉 TCP 前缀；没有前缀时原样返回
func Unwrap(buf []byte) []byte {
	if !HasEnvelope(buf) {
		return buf
	}
	return buf[EnvelopeLength:]
}

// InnerLength 读取 TCP 前缀中声明的内部长度
func InnerLength(envelope []byte) (int, error) {
	if !HasEnvelope(envelope) {
		return 0, ErrorPacket
	}
	return int(binary.LittleEndian.Uint16(envelope[4:6])), nil
}

// Encode 按传输方式生成线上报文
func Encode(kind TransportKind, command, sessionID, replyID uint16, payload []byte) []byte {
	frame := NewFrame(command, sessionID, replyID, payload).Encode()
	if kind == Stream {
		return Wrap(frame)
	}
	return frame
}

// Decode 解析线上报文。TCP 报文缺少前缀时按已剥离处理；校验码只解析不拒绝
func Decode(kind TransportKind, buf []byte) (*Frame, error) {
	if kind == Stream && HasEnvelope(buf) {
		inner := int(binary.LittleEndian.Uint16(buf[4:6]))
		buf = buf[EnvelopeLength:]
		if inner < HeadLength || inner > len(buf) {
			return nil, ErrorPacket
		}
		buf = buf[:inner]
	}
	header := &Header{}
	if err := header.Decode(buf); err != nil {
		return nil, err
	}
	f := &Frame{}
	if err := f.Decode(header, buf[HeadLength:]); err != nil {
		return nil, err
	}
	return f, nil
}
