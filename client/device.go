package client

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/aaronwong1989/zklink/codec/zk"
	"github.com/aaronwong1989/zklink/comm"
)

// request 在已有连接上执行一条命令，要求设备以 CMD_ACK_OK 应答
func (m *Manager) request(ctx context.Context, command uint16, payload []byte) (*zk.Frame, error) {
	t, err := m.connected(command)
	if err != nil {
		return nil, err
	}
	reply, err := t.SendRequest(ctx, command, payload)
	if err != nil {
		return nil, err
	}
	if reply.Command != zk.CMD_ACK_OK {
		e := nack(command, m.cfg.IP, reply)
		m.metrics.fail(e)
		return nil, e
	}
	return reply, nil
}

func (m *Manager) bulk(ctx context.Context, selector []byte) (zk.TransportKind, []byte, error) {
	t, err := m.connected(zk.CMD_DATA_WRRQ)
	if err != nil {
		return 0, nil, err
	}
	r := &bulkReader{t: t, ip: m.cfg.IP, maxChunk: m.cfg.maxChunk(t.Kind()), log: m.log, metrics: m.metrics}
	data, err := r.Read(ctx, selector)
	return t.Kind(), data, err
}

// GetUsers 读取全部用户，TCP 为 72 字节布局，UDP 为 28 字节布局
func (m *Manager) GetUsers(ctx context.Context) ([]*zk.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kind, data, err := m.bulk(ctx, zk.ReqGetUsers)
	if err != nil {
		return nil, err
	}
	users, err := m.decoder.Users(kind, data)
	if err != nil {
		m.metrics.fail(err)
	}
	return users, err
}

// GetAttendances 读取全部考勤记录，TCP 为 40 字节布局，UDP 为 16 字节布局
func (m *Manager) GetAttendances(ctx context.Context) ([]*zk.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kind, data, err := m.bulk(ctx, zk.ReqGetAttendanceLogs)
	if err != nil {
		return nil, err
	}
	records, err := m.decoder.Attendances(kind, data)
	if err != nil {
		m.metrics.fail(err)
	}
	return records, err
}

func (m *Manager) GetInfo(ctx context.Context) (*zk.DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reply, err := m.request(ctx, zk.CMD_GET_FREE_SIZES, nil)
	if err != nil {
		return nil, err
	}
	return zk.DecodeDeviceInfo(reply.Payload)
}

// GetTime 设备时间，Month 为 1-12
func (m *Manager) GetTime(ctx context.Context) (zk.Timestamp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reply, err := m.request(ctx, zk.CMD_GET_TIME, nil)
	if err != nil {
		return zk.Timestamp{}, err
	}
	if len(reply.Payload) < 4 {
		return zk.Timestamp{}, zk.NewError(zk.KindDecodeError, "decode", zk.CMD_GET_TIME, m.cfg.IP, zk.ErrShortRecord)
	}
	return zk.DecodeInt(binary.LittleEndian.Uint32(reply.Payload[0:4])), nil
}

func (m *Manager) SetTime(ctx context.Context, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, zk.EncodeInt(zk.FromTime(t)))
	_, err := m.request(ctx, zk.CMD_SET_TIME, payload)
	return err
}

func (m *Manager) ClearAttendanceLog(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.request(ctx, zk.CMD_CLEAR_ATTLOG, nil)
	return err
}

func (m *Manager) EnableDevice(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.request(ctx, zk.CMD_ENABLEDEVICE, nil)
	return err
}

// DisableDevice 锁定设备键盘，批量读取前调用可避免数据变化
func (m *Manager) DisableDevice(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.request(ctx, zk.CMD_DISABLEDEVICE, zk.ReqDisableDevice)
	return err
}

func (m *Manager) GetVersion(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reply, err := m.request(ctx, zk.CMD_GET_VERSION, nil)
	if err != nil {
		return "", err
	}
	return comm.TrimStr(reply.Payload), nil
}

// SetUser 写入或覆盖用户，按当前传输方式选择记录布局
func (m *Manager) SetUser(ctx context.Context, u *zk.UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.connected(zk.CMD_USER_WRQ)
	if err != nil {
		return err
	}
	var payload []byte
	if t.Kind() == zk.Stream {
		payload, err = zk.EncodeUserLong(u, m.decoder.Charset)
	} else {
		payload, err = zk.EncodeUserShort(u, m.decoder.Charset)
	}
	if err != nil {
		return zk.NewError(zk.KindDecodeError, "send", zk.CMD_USER_WRQ, m.cfg.IP, err)
	}
	_, err = m.request(ctx, zk.CMD_USER_WRQ, payload)
	return err
}

// Restart 设备确认后重启，连接随之关闭
func (m *Manager) Restart(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.request(ctx, zk.CMD_RESTART, nil); err != nil {
		return err
	}
	_ = m.active.Close()
	m.active = nil
	m.event(ctx, evDisconnect)
	return nil
}
