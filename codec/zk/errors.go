package zk

import (
	"errors"
	"fmt"
)

var (
	ErrorPacket      = errors.New("error packet")
	ErrShortRecord   = errors.New("record shorter than layout")
	ErrChecksum      = errors.New("checksum mismatch")
	ErrNotConnected  = errors.New("not connected")
	ErrSizeMismatch  = errors.New("declared size not reached")
	ErrUnexpectedCmd = errors.New("unexpected reply command")
)

// Kind 错误分类，在传输边界一次性转换，之后只按分类判断
type Kind uint8

const (
	KindUnknown Kind = iota
	KindTransportConnectFailed
	KindTransportTimeout
	KindTransportClosed
	KindMalformedFrame
	KindProtocolNack
	KindDecodeError
	KindChecksumMismatch

	// 仅供连接管理器决定是否回退到 UDP
	KindConnRefused
	KindAddrInUse
)

var kindNames = map[Kind]string{
	KindUnknown:                "Unknown",
	KindTransportConnectFailed: "TransportConnectFailed",
	KindTransportTimeout:       "TransportTimeout",
	KindTransportClosed:        "TransportClosed",
	KindMalformedFrame:         "MalformedFrame",
	KindProtocolNack:           "ProtocolNack",
	KindDecodeError:            "DecodeError",
	KindChecksumMismatch:       "ChecksumMismatch",
	KindConnRefused:            "ConnRefused",
	KindAddrInUse:              "AddrInUse",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Error 带上下文的协议错误，展示层根据 Kind 自行格式化提示
type Error struct {
	Kind    Kind
	Op      string // dial / send / recv / decode
	Command uint16
	IP      string
	Err     error
}

func NewError(kind Kind, op string, command uint16, ip string, err error) *Error {
	return &Error{Kind: kind, Op: op, Command: command, IP: ip, Err: err}
}

func (e *Error) Error() string {
	msg := "zk: " + e.Kind.String()
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Command != 0 {
		msg += " " + CommandName(e.Command)
	}
	if e.IP != "" {
		msg += " ip=" + e.IP
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 同类错误视为相等，便于 errors.Is(err, &zk.Error{Kind: zk.KindTransportTimeout})
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf 返回错误链中第一个 *Error 的分类
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsTimeout(err error) bool {
	return KindOf(err) == KindTransportTimeout
}
