package zk

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	binarypack "github.com/canhlinh/go-binary-pack"

	"github.com/aaronwong1989/zklink/comm"
	"github.com/aaronwong1989/zklink/comm/logging"
)

// 定长记录布局
const (
	UserShortLen       = 28 // UDP 用户记录
	UserLongLen        = 72 // TCP 用户记录
	AttendanceShortLen = 16 // UDP 考勤记录
	AttendanceLongLen  = 40 // TCP 考勤记录
	EventShortLen      = 18 // UDP 实时事件，含 8 字节报文头
	EventLongLen       = 52 // TCP 实时事件，含前缀和报文头
	DeviceInfoLen      = 68 // CMD_GET_FREE_SIZES 负载至少长度

	eventLongPayloadLen = EventLongLen - EnvelopeLength - HeadLength
)

// UserRecord 用户。短布局没有的字段保持 nil
type UserRecord struct {
	UID        uint16
	Role       uint8
	Password   *string
	Name       string
	CardNumber *uint32
	UserID     string
}

func (u *UserRecord) String() string {
	card := "-"
	if u.CardNumber != nil {
		card = strconv.FormatUint(uint64(*u.CardNumber), 10)
	}
	return fmt.Sprintf("{ UID: %d, Role: %d, Name: %s, Card: %s, UserID: %s }", u.UID, u.Role, u.Name, card, u.UserID)
}

// AttendanceRecord 考勤记录，Timestamp 的 Month 为 1-12。UserSN 仅长布局有
type AttendanceRecord struct {
	UserSN       *uint16
	DeviceUserID string
	Timestamp    Timestamp
}

func (a *AttendanceRecord) Time(loc *time.Location) time.Time {
	return a.Timestamp.toTime(loc, 1)
}

func (a *AttendanceRecord) String() string {
	return fmt.Sprintf("{ DeviceUserID: %s, Timestamp: %s }", a.DeviceUserID, a.Timestamp)
}

// RealTimeEvent 实时打卡事件，Timestamp 的 Month 为 0-11
type RealTimeEvent struct {
	UserID    string
	Timestamp Timestamp
}

func (e *RealTimeEvent) Time(loc *time.Location) time.Time {
	return e.Timestamp.toTime(loc, 0)
}

func (e *RealTimeEvent) String() string {
	return fmt.Sprintf("{ UserID: %s, Timestamp: %s }", e.UserID, e.Timestamp)
}

// DeviceInfo 设备容量信息
type DeviceInfo struct {
	UserCount   uint32
	LogCount    uint32
	LogCapacity uint32
}

// DecodeDeviceInfo 解析 CMD_GET_FREE_SIZES 应答负载
func DecodeDeviceInfo(payload []byte) (*DeviceInfo, error) {
	if err := need("DeviceInfo", payload, DeviceInfoLen); err != nil {
		return nil, err
	}
	return &DeviceInfo{
		UserCount:   binary.LittleEndian.Uint32(payload[16:20]),
		LogCount:    binary.LittleEndian.Uint32(payload[32:36]),
		LogCapacity: binary.LittleEndian.Uint32(payload[64:68]),
	}, nil
}

func need(name string, b []byte, width int) error {
	if len(b) < width {
		return NewError(KindDecodeError, "decode", 0, "",
			fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortRecord, name, width, len(b)))
	}
	return nil
}

// Decoder 定长记录解码器，文本字段按 Charset 解码
type Decoder struct {
	Charset comm.Charset
	log     logging.Logger
}

func NewDecoder(cs comm.Charset) *Decoder {
	return &Decoder{Charset: cs, log: logging.GetDefaultLogger()}
}

// WithLogger 设置跳过坏记录时使用的日志
func (d *Decoder) WithLogger(l logging.Logger) *Decoder {
	d.log = l
	return d
}

func (d *Decoder) text(name string, field []byte) (string, error) {
	s, err := d.Charset.Decode(field)
	if err != nil {
		return "", NewError(KindDecodeError, "decode", 0, "", fmt.Errorf("%s: %w", name, err))
	}
	return s, nil
}

// UserShort uid:u16@0 role:u8@2 name@8..16 user_id:u32@24..28
func (d *Decoder) UserShort(b []byte) (*UserRecord, error) {
	if err := need("UserShort", b, UserShortLen); err != nil {
		return nil, err
	}
	name, err := d.text("name", b[8:16])
	if err != nil {
		return nil, err
	}
	return &UserRecord{
		UID:    binary.LittleEndian.Uint16(b[0:2]),
		Role:   b[2],
		Name:   name,
		UserID: strconv.FormatUint(uint64(binary.LittleEndian.Uint32(b[24:28])), 10),
	}, nil
}

// UserLong uid:u16@0 role:u8@2 password@3..11 name@11..35 card:u32@35..39 user_id@48..57
func (d *Decoder) UserLong(b []byte) (*UserRecord, error) {
	if err := need("UserLong", b, UserLongLen); err != nil {
		return nil, err
	}
	password, err := d.text("password", b[3:11])
	if err != nil {
		return nil, err
	}
	name, err := d.text("name", b[11:35])
	if err != nil {
		return nil, err
	}
	userID, err := d.text("user_id", b[48:57])
	if err != nil {
		return nil, err
	}
	card := binary.LittleEndian.Uint32(b[35:39])
	return &UserRecord{
		UID:        binary.LittleEndian.Uint16(b[0:2]),
		Role:       b[2],
		Password:   &password,
		Name:       name,
		CardNumber: &card,
		UserID:     userID,
	}, nil
}

// AttendanceShort device_user_id:u16@0 time:u32@4..8
func (d *Decoder) AttendanceShort(b []byte) (*AttendanceRecord, error) {
	if err := need("AttendanceShort", b, AttendanceShortLen); err != nil {
		return nil, err
	}
	return &AttendanceRecord{
		DeviceUserID: strconv.FormatUint(uint64(binary.LittleEndian.Uint16(b[0:2])), 10),
		Timestamp:    DecodeInt(binary.LittleEndian.Uint32(b[4:8])),
	}, nil
}

// AttendanceLong user_sn:u16@0 device_user_id@2..11 time:u32@27..31
func (d *Decoder) AttendanceLong(b []byte) (*AttendanceRecord, error) {
	if err := need("AttendanceLong", b, AttendanceLongLen); err != nil {
		return nil, err
	}
	userID, err := d.text("device_user_id", b[2:11])
	if err != nil {
		return nil, err
	}
	sn := binary.LittleEndian.Uint16(b[0:2])
	return &AttendanceRecord{
		UserSN:       &sn,
		DeviceUserID: userID,
		Timestamp:    DecodeInt(binary.LittleEndian.Uint32(b[27:31])),
	}, nil
}

// EventShort 整个 UDP 报文：user_id:u8@8 time:hex@12..18
func (d *Decoder) EventShort(b []byte) (*RealTimeEvent, error) {
	if err := need("EventShort", b, EventShortLen); err != nil {
		return nil, err
	}
	ts, _ := DecodeHex(b[12:18])
	return &RealTimeEvent{
		UserID:    strconv.Itoa(int(b[8])),
		Timestamp: ts,
	}, nil
}

// EventLong 整个 TCP 单元，去掉前缀和报文头后 user_id@0..9 time:hex@26..32
func (d *Decoder) EventLong(b []byte) (*RealTimeEvent, error) {
	if err := need("EventLong", b, EventLongLen); err != nil {
		return nil, err
	}
	payload := Unwrap(b)[HeadLength:]
	if err := need("EventLong payload", payload, eventLongPayloadLen); err != nil {
		return nil, err
	}
	userID, err := d.text("user_id", payload[0:9])
	if err != nil {
		return nil, err
	}
	ts, _ := DecodeHex(payload[26:32])
	return &RealTimeEvent{UserID: userID, Timestamp: ts}, nil
}

// Users 解析批量读取结果，跳过开头 4 字节记录数和无法解码的记录
func (d *Decoder) Users(kind TransportKind, data []byte) ([]*UserRecord, error) {
	width, decode := UserShortLen, d.UserShort
	if kind == Stream {
		width, decode = UserLongLen, d.UserLong
	}
	var users []*UserRecord
	for body := skipCount(data); len(body) >= width; body = body[width:] {
		u, err := decode(body[:width])
		if err != nil {
			// 单条记录的文本无法解码时跳过该用户
			d.log.Warnf("[%-9s] skip user record %x: %v", "Decode", body[:width], err)
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

// Attendances 解析批量读取结果，跳过开头 4 字节记录数和无法解码的记录
func (d *Decoder) Attendances(kind TransportKind, data []byte) ([]*AttendanceRecord, error) {
	width, decode := AttendanceShortLen, d.AttendanceShort
	if kind == Stream {
		width, decode = AttendanceLongLen, d.AttendanceLong
	}
	var records []*AttendanceRecord
	for body := skipCount(data); len(body) >= width; body = body[width:] {
		r, err := decode(body[:width])
		if err != nil {
			d.log.Warnf("[%-9s] skip attendance record %x: %v", "Decode", body[:width], err)
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

// Event 按传输方式解析实时事件单元
func (d *Decoder) Event(kind TransportKind, unit []byte) (*RealTimeEvent, error) {
	if kind == Stream {
		return d.EventLong(unit)
	}
	return d.EventShort(unit)
}

// EventWidth 实时事件单元的固定长度
func EventWidth(kind TransportKind) int {
	if kind == Stream {
		return EventLongLen
	}
	return EventShortLen
}

func skipCount(data []byte) []byte {
	if len(data) < 4 {
		return nil
	}
	return data[4:]
}

// EncodeUserLong 生成 72 字节用户记录，用于 CMD_USER_WRQ
func EncodeUserLong(u *UserRecord, cs comm.Charset) ([]byte, error) {
	password := ""
	if u.Password != nil {
		password = *u.Password
	}
	card := 0
	if u.CardNumber != nil {
		card = int(*u.CardNumber)
	}
	fields := []struct {
		s     string
		width int
	}{{password, 8}, {u.Name, 24}, {u.UserID, 24}}
	packed := make([]string, len(fields))
	for i, f := range fields {
		bts, err := cs.Encode(f.s)
		if err != nil {
			return nil, err
		}
		if len(bts) > f.width {
			bts = bts[:f.width]
		}
		packed[i] = string(bts)
	}

	format := []string{"H", "B", "8s", "24s", "I", "B", "7s", "B", "24s"}
	values := []interface{}{int(u.UID), int(u.Role), packed[0], packed[1], card, 0, "", 0, packed[2]}
	return (&binarypack.BinaryPack{}).Pack(format, values)
}

// EncodeUserShort 生成 28 字节用户记录，UserID 必须是数字
func EncodeUserShort(u *UserRecord, cs comm.Charset) ([]byte, error) {
	id, err := strconv.ParseUint(u.UserID, 10, 32)
	if err != nil {
		return nil, err
	}
	name, err := cs.Encode(u.Name)
	if err != nil {
		return nil, err
	}
	b := make([]byte, UserShortLen)
	binary.LittleEndian.PutUint16(b[0:2], u.UID)
	b[2] = u.Role
	comm.CopyStr(b, string(name), 8, 8)
	binary.LittleEndian.PutUint32(b[24:28], uint32(id))
	return b, nil
}

// EncodeAttendanceShort 生成 16 字节考勤记录
func EncodeAttendanceShort(userID uint16, ts Timestamp) []byte {
	b := make([]byte, AttendanceShortLen)
	binary.LittleEndian.PutUint16(b[0:2], userID)
	binary.LittleEndian.PutUint32(b[4:8], EncodeInt(ts))
	return b
}

// EncodeAttendanceLong 生成 40 字节考勤记录
func EncodeAttendanceLong(sn uint16, userID string, ts Timestamp) []byte {
	b := make([]byte, AttendanceLongLen)
	binary.LittleEndian.PutUint16(b[0:2], sn)
	comm.CopyStr(b, userID, 2, 9)
	binary.LittleEndian.PutUint32(b[27:31], EncodeInt(ts))
	return b
}

// EventPayloadShort UDP 实时事件负载（报文头之后 10 字节）
func EventPayloadShort(userID uint8, hexTime []byte) []byte {
	b := make([]byte, EventShortLen-HeadLength)
	b[0] = userID
	copy(b[4:10], hexTime)
	return b
}

// EventPayloadLong TCP 实时事件负载（报文头之后 36 字节）
func EventPayloadLong(userID string, hexTime []byte) []byte {
	b := make([]byte, eventLongPayloadLen)
	comm.CopyStr(b, userID, 0, 9)
	copy(b[26:32], hexTime)
	return b
}
