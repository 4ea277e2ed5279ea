package simulator

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aaronwong1989/zklink/codec/zk"
	"github.com/aaronwong1989/zklink/comm"
	"github.com/aaronwong1989/zklink/comm/logging"
)

var log = logging.GetDefaultLogger()

const (
	DefaultVersion  = "Ver 6.60 Sep 13 2023"
	DefaultCapacity = 100000
	// 不超过此长度的批量数据直接以 CMD_DATA 返回
	DefaultSingleShot = 1024
)

// Device 模拟终端的协议逻辑，与网络无关，可并发调用
type Device struct {
	sync.Mutex
	Charset    comm.Charset
	Version    string
	Capacity   uint32
	SingleShot int

	users       map[uint16]*zk.UserRecord
	attendances []*zk.AttendanceRecord
	clockOffset time.Duration
	enabled     bool
	nextSession uint16
	sessions    map[uint16]*session
}

type session struct {
	pending []byte
}

func NewDevice() *Device {
	seed := uuid.New()
	return &Device{
		Charset:     comm.ASCII,
		Version:     DefaultVersion,
		Capacity:    DefaultCapacity,
		SingleShot:  DefaultSingleShot,
		users:       make(map[uint16]*zk.UserRecord),
		enabled:     true,
		nextSession: binary.LittleEndian.Uint16(seed[0:2])&0x7fff + 1,
		sessions:    make(map[uint16]*session),
	}
}

// AddUser 新增或覆盖用户
func (d *Device) AddUser(u *zk.UserRecord) {
	d.Lock()
	defer d.Unlock()
	d.users[u.UID] = u
}

func (d *Device) Users() []*zk.UserRecord {
	d.Lock()
	defer d.Unlock()
	return d.sortedUsers()
}

func (d *Device) sortedUsers() []*zk.UserRecord {
	users := make([]*zk.UserRecord, 0, len(d.users))
	for _, u := range d.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UID < users[j].UID })
	return users
}

// Punch 追加一条考勤记录
func (d *Device) Punch(userID string, t time.Time) *zk.AttendanceRecord {
	d.Lock()
	defer d.Unlock()
	sn := uint16(len(d.attendances) + 1)
	r := &zk.AttendanceRecord{UserSN: &sn, DeviceUserID: userID, Timestamp: zk.FromTime(t)}
	d.attendances = append(d.attendances, r)
	return r
}

func (d *Device) Attendances() []*zk.AttendanceRecord {
	d.Lock()
	defer d.Unlock()
	return append([]*zk.AttendanceRecord(nil), d.attendances...)
}

func (d *Device) Enabled() bool {
	d.Lock()
	defer d.Unlock()
	return d.enabled
}

func (d *Device) Now() time.Time {
	d.Lock()
	defer d.Unlock()
	return time.Now().Add(d.clockOffset)
}

// Handle 处理一个请求单元，返回按顺序发送的应答单元。无法解析的请求没有应答
func (d *Device) Handle(kind zk.TransportKind, unit []byte) [][]byte {
	req, err := zk.Decode(kind, unit)
	if err != nil {
		log.Warnf("[%-9s] drop %d bytes: %v", "Device", len(unit), err)
		return nil
	}
	if !req.Valid() {
		log.Warnf("[%-9s] checksum mismatch: %s", "Device", req)
	}
	log.Debugf("[%-9s] <<< %s", "Device", req)

	d.Lock()
	defer d.Unlock()

	reply := func(command uint16, payload []byte) [][]byte {
		return [][]byte{zk.Encode(kind, command, req.SessionId, req.ReplyId, payload)}
	}

	if req.Command == zk.CMD_CONNECT {
		id := d.nextSession
		d.nextSession++
		if d.nextSession == 0 {
			d.nextSession = 1
		}
		d.sessions[id] = &session{}
		return [][]byte{zk.Encode(kind, zk.CMD_ACK_OK, id, req.ReplyId, nil)}
	}
	s, ok := d.sessions[req.SessionId]
	if !ok {
		return reply(zk.CMD_ACK_UNAUTH, nil)
	}

	switch req.Command {
	case zk.CMD_EXIT:
		delete(d.sessions, req.SessionId)
		return reply(zk.CMD_ACK_OK, nil)
	case zk.CMD_FREE_DATA:
		s.pending = nil
		return reply(zk.CMD_ACK_OK, nil)
	case zk.CMD_DATA_WRRQ:
		return d.prepare(kind, s, req, reply)
	case zk.CMD_DATA_RDY:
		return d.chunk(s, req, reply)
	case zk.CMD_GET_FREE_SIZES:
		return reply(zk.CMD_ACK_OK, d.freeSizes())
	case zk.CMD_GET_TIME:
		payload := make([]byte, 4)
		binary.LittleEndian.PutUint32(payload, zk.EncodeInt(zk.FromTime(time.Now().Add(d.clockOffset))))
		return reply(zk.CMD_ACK_OK, payload)
	case zk.CMD_SET_TIME:
		if len(req.Payload) < 4 {
			return reply(zk.CMD_ACK_ERROR, nil)
		}
		ts := zk.DecodeInt(binary.LittleEndian.Uint32(req.Payload[0:4]))
		target := time.Date(ts.Year, time.Month(ts.Month), ts.Day, ts.Hour, ts.Minute, ts.Second, 0, time.Local)
		d.clockOffset = time.Until(target)
		return reply(zk.CMD_ACK_OK, nil)
	case zk.CMD_CLEAR_ATTLOG:
		d.attendances = nil
		return reply(zk.CMD_ACK_OK, nil)
	case zk.CMD_ENABLEDEVICE:
		d.enabled = true
		return reply(zk.CMD_ACK_OK, nil)
	case zk.CMD_DISABLEDEVICE:
		d.enabled = false
		return reply(zk.CMD_ACK_OK, nil)
	case zk.CMD_RESTART:
		return reply(zk.CMD_ACK_OK, nil)
	case zk.CMD_GET_VERSION:
		return reply(zk.CMD_ACK_OK, append([]byte(d.Version), 0))
	case zk.CMD_USER_WRQ:
		return d.writeUser(kind, req, reply)
	case zk.CMD_REG_EVENT:
		return reply(zk.CMD_ACK_OK, nil)
	}
	return reply(zk.CMD_ACK_ERROR, nil)
}

func (d *Device) prepare(kind zk.TransportKind, s *session, req *zk.Frame, reply func(uint16, []byte) [][]byte) [][]byte {
	if len(req.Payload) < 2 {
		return reply(zk.CMD_ACK_ERROR, nil)
	}
	var data []byte
	var err error
	switch req.Payload[1] {
	case zk.ReqGetUsers[1]:
		data, err = d.userTable(kind)
	case zk.ReqGetAttendanceLogs[1]:
		data = d.attendanceTable(kind)
	default:
		return reply(zk.CMD_ACK_ERROR, nil)
	}
	if err != nil {
		log.Errorf("[%-9s] encode table: %v", "Device", err)
		return reply(zk.CMD_ACK_ERROR, nil)
	}
	if len(data) <= d.SingleShot {
		return reply(zk.CMD_DATA, data)
	}
	s.pending = data
	size := make([]byte, 9)
	binary.LittleEndian.PutUint32(size[1:5], uint32(len(data)))
	if kind == zk.Stream {
		return reply(zk.CMD_PREPARE_DATA, size)
	}
	return reply(zk.CMD_ACK_OK, size)
}

func (d *Device) chunk(s *session, req *zk.Frame, reply func(uint16, []byte) [][]byte) [][]byte {
	if len(req.Payload) < 8 {
		return reply(zk.CMD_ACK_ERROR, nil)
	}
	start := int(binary.LittleEndian.Uint32(req.Payload[0:4]))
	size := int(binary.LittleEndian.Uint32(req.Payload[4:8]))
	if start > len(s.pending) {
		return reply(zk.CMD_ACK_ERROR, nil)
	}
	end := start + size
	if end > len(s.pending) {
		end = len(s.pending)
	}
	return reply(zk.CMD_DATA, s.pending[start:end])
}

// userTable 4 字节数据长度加用户记录
func (d *Device) userTable(kind zk.TransportKind) ([]byte, error) {
	var body []byte
	for _, u := range d.sortedUsers() {
		var rec []byte
		var err error
		if kind == zk.Stream {
			rec, err = zk.EncodeUserLong(u, d.Charset)
		} else {
			rec, err = zk.EncodeUserShort(u, d.Charset)
		}
		if err != nil {
			return nil, fmt.Errorf("uid %d: %w", u.UID, err)
		}
		body = append(body, rec...)
	}
	return withCount(body), nil
}

func (d *Device) attendanceTable(kind zk.TransportKind) []byte {
	var body []byte
	for i, r := range d.attendances {
		if kind == zk.Stream {
			body = append(body, zk.EncodeAttendanceLong(uint16(i+1), r.DeviceUserID, r.Timestamp)...)
		} else {
			id, _ := strconv.ParseUint(r.DeviceUserID, 10, 16)
			body = append(body, zk.EncodeAttendanceShort(uint16(id), r.Timestamp)...)
		}
	}
	return withCount(body)
}

func withCount(body []byte) []byte {
	data := make([]byte, 4, 4+len(body))
	binary.LittleEndian.PutUint32(data, uint32(len(body)))
	return append(data, body...)
}

func (d *Device) freeSizes() []byte {
	payload := make([]byte, 92)
	binary.LittleEndian.PutUint32(payload[16:20], uint32(len(d.users)))
	binary.LittleEndian.PutUint32(payload[32:36], uint32(len(d.attendances)))
	binary.LittleEndian.PutUint32(payload[64:68], d.Capacity)
	return payload
}

func (d *Device) writeUser(kind zk.TransportKind, req *zk.Frame, reply func(uint16, []byte) [][]byte) [][]byte {
	decoder := zk.NewDecoder(d.Charset)
	var u *zk.UserRecord
	var err error
	if kind == zk.Stream {
		u, err = decoder.UserLong(req.Payload)
	} else {
		u, err = decoder.UserShort(req.Payload)
	}
	if err != nil {
		log.Warnf("[%-9s] CMD_USER_WRQ: %v", "Device", err)
		return reply(zk.CMD_ACK_ERROR, nil)
	}
	d.users[u.UID] = u
	return reply(zk.CMD_ACK_OK, nil)
}

// EventUnit 生成一条推送的实时考勤事件。UDP 的用户号只有一个字节
func EventUnit(kind zk.TransportKind, userID string, t time.Time) []byte {
	hexTime := zk.HexFromTime(t)
	if kind == zk.Stream {
		return zk.Encode(zk.Stream, zk.CMD_REG_EVENT, uint16(zk.EF_ATTLOG), 0, zk.EventPayloadLong(userID, hexTime))
	}
	id, _ := strconv.ParseUint(userID, 10, 8)
	return zk.Encode(zk.Datagram, zk.CMD_REG_EVENT, uint16(zk.EF_ATTLOG), 0, zk.EventPayloadShort(uint8(id), hexTime))
}
