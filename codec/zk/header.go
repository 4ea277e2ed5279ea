package zk

import (
	"encoding/binary"
	"fmt"
)

// Header 8字节报文头，全部字段小端
type Header struct {
	Command   uint16
	CheckSum  uint16
	SessionId uint16
	ReplyId   uint16
}

func (header *Header) Encode() []byte {
	frame := make([]byte, HeadLength)
	header.put(frame)
	return frame
}

func (header *Header) put(frame []byte) {
	binary.LittleEndian.PutUint16(frame[0:2], header.Command)
	binary.LittleEndian.PutUint16(frame[2:4], header.CheckSum)
	binary.LittleEndian.PutUint16(frame[4:6], header.SessionId)
	binary.LittleEndian.PutUint16(frame[6:8], header.ReplyId)
}

func (header *Header) Decode(frame []byte) error {
	if len(frame) < HeadLength {
		return ErrorPacket
	}
	header.Command = binary.LittleEndian.Uint16(frame[0:2])
	header.CheckSum = binary.LittleEndian.Uint16(frame[2:4])
	header.SessionId = binary.LittleEndian.Uint16(frame[4:6])
	header.ReplyId = binary.LittleEndian.Uint16(frame[6:8])
	return nil
}

func (header *Header) String() string {
	return fmt.Sprintf("{ Command: %s, CheckSum: %#04x, SessionId: %d, ReplyId: %d }",
		CommandName(header.Command), header.CheckSum, header.SessionId, header.ReplyId)
}

// Checksum 按小端 16 位字累加，每步对 65535 取模，奇数长度时最后一个字节直接累加
func Checksum(buf []byte) uint16 {
	var sum uint32
	n := len(buf)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.LittleEndian.Uint16(buf[i : i+2]))
		sum %= USHRT_MAX
	}
	if n%2 == 1 {
		sum += uint32(buf[n-1])
		sum %= USHRT_MAX
	}
	return uint16((USHRT_MAX - sum - 1) % USHRT_MAX)
}
