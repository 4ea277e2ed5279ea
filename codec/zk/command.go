package zk

import "fmt"

const (
	USHRT_MAX = 65535

	DefaultPort = 4370 // 设备默认端口，TCP 与 UDP 相同

	HeadLength     = 8 // 报文头长度
	EnvelopeLength = 8 // TCP 外层前缀长度

	MaxChunkStream   = 65472 // TCP 单次分片上限
	MaxChunkDatagram = 16384 // UDP 单次分片上限
)

// 命令字，取值由设备固件决定
const (
	CMD_USER_WRQ       = uint16(8)    // 写入用户
	CMD_USERTEMP_RRQ   = uint16(9)    // 读取用户/模板
	CMD_ATTLOG_RRQ     = uint16(13)   // 读取考勤记录
	CMD_CLEAR_ATTLOG   = uint16(15)   // 清空考勤记录
	CMD_GET_FREE_SIZES = uint16(50)   // 读取容量信息
	CMD_GET_TIME       = uint16(201)  // 读取设备时间
	CMD_SET_TIME       = uint16(202)  // 设置设备时间
	CMD_REG_EVENT      = uint16(500)  // 注册实时事件
	CMD_CONNECT        = uint16(1000) // 建立会话
	CMD_EXIT           = uint16(1001) // 结束会话
	CMD_ENABLEDEVICE   = uint16(1002) // 启用设备
	CMD_DISABLEDEVICE  = uint16(1003) // 禁用设备
	CMD_RESTART        = uint16(1004) // 重启
	CMD_GET_VERSION    = uint16(1100) // 固件版本
	CMD_PREPARE_DATA   = uint16(1500) // 准备发送数据
	CMD_DATA           = uint16(1501) // 数据
	CMD_FREE_DATA      = uint16(1502) // 释放设备端缓冲
	CMD_DATA_WRRQ      = uint16(1503) // 批量读取请求
	CMD_DATA_RDY       = uint16(1504) // 请求一个分片
	CMD_ACK_OK         = uint16(2000) // 成功
	CMD_ACK_ERROR      = uint16(2001) // 失败
	CMD_ACK_DATA       = uint16(2002) // 返回数据
	CMD_ACK_UNAUTH     = uint16(2005) // 未认证
)

// 实时事件掩码
const (
	EF_ATTLOG       = uint32(1)
	EF_FINGER       = uint32(2)
	EF_ENROLLUSER   = uint32(4)
	EF_ENROLLFINGER = uint32(8)
	EF_BUTTON       = uint32(16)
	EF_UNLOCK       = uint32(32)
	EF_VERIFY       = uint32(128)
	EF_FPFTR        = uint32(256)
	EF_ALARM        = uint32(512)
)

// 批量读取的数据选择器，作为 CMD_DATA_WRRQ 的负载
var (
	ReqGetUsers          = []byte{0x01, 0x09, 0x00, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	ReqGetAttendanceLogs = []byte{0x01, 0x0d, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	ReqGetRealTimeEvent  = []byte{0x01, 0x00, 0x00, 0x00}
	ReqDisableDevice     = []byte{0x00, 0x00, 0x00, 0x00}
)

var envelopeMagic = [4]byte{0x50, 0x50, 0x82, 0x7d}

var CommandMap = map[uint16]string{
	CMD_USER_WRQ:       "CMD_USER_WRQ",
	CMD_USERTEMP_RRQ:   "CMD_USERTEMP_RRQ",
	CMD_ATTLOG_RRQ:     "CMD_ATTLOG_RRQ",
	CMD_CLEAR_ATTLOG:   "CMD_CLEAR_ATTLOG",
	CMD_GET_FREE_SIZES: "CMD_GET_FREE_SIZES",
	CMD_GET_TIME:       "CMD_GET_TIME",
	CMD_SET_TIME:       "CMD_SET_TIME",
	CMD_REG_EVENT:      "CMD_REG_EVENT",
	CMD_CONNECT:        "CMD_CONNECT",
	CMD_EXIT:           "CMD_EXIT",
	CMD_ENABLEDEVICE:   "CMD_ENABLEDEVICE",
	CMD_DISABLEDEVICE:  "CMD_DISABLEDEVICE",
	CMD_RESTART:        "CMD_RESTART",
	CMD_GET_VERSION:    "CMD_GET_VERSION",
	CMD_PREPARE_DATA:   "CMD_PREPARE_DATA",
	CMD_DATA:           "CMD_DATA",
	CMD_FREE_DATA:      "CMD_FREE_DATA",
	CMD_DATA_WRRQ:      "CMD_DATA_WRRQ",
	CMD_DATA_RDY:       "CMD_DATA_RDY",
	CMD_ACK_OK:         "CMD_ACK_OK",
	CMD_ACK_ERROR:      "CMD_ACK_ERROR",
	CMD_ACK_DATA:       "CMD_ACK_DATA",
	CMD_ACK_UNAUTH:     "CMD_ACK_UNAUTH",
}

// CommandName 命令字名称，未知命令返回数字形式
func CommandName(cmd uint16) string {
	if name, ok := CommandMap[cmd]; ok {
		return name
	}
	return fmt.Sprintf("CMD_%d", cmd)
}

// TransportKind 传输方式，决定报文是否带 TCP 前缀以及记录布局
type TransportKind uint8

const (
	Stream TransportKind = iota
	Datagram
)

func (k TransportKind) String() string {
	if k == Stream {
		return "tcp"
	}
	return "udp"
}

// MaxChunk 传输方式对应的分片上限
func (k TransportKind) MaxChunk() int {
	if k == Stream {
		return MaxChunkStream
	}
	return MaxChunkDatagram
}
