package client

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronwong1989/zklink/codec/zk"
	"github.com/aaronwong1989/zklink/comm/logging"
	"github.com/aaronwong1989/zklink/simulator"
)

func seededDevice(users, punches int) *simulator.Device {
	d := simulator.NewDevice()
	for i := 1; i <= users; i++ {
		card := uint32(9000 + i)
		pwd := "p" + strconv.Itoa(i)
		d.AddUser(&zk.UserRecord{UID: uint16(i), Name: fmt.Sprintf("user-%02d", i), Password: &pwd, CardNumber: &card, UserID: strconv.Itoa(100 + i)})
	}
	for i := 0; i < punches; i++ {
		d.Punch(strconv.Itoa(101+i%users), punch.Add(time.Duration(i)*time.Minute))
	}
	return d
}

func TestSession_Sequencing(t *testing.T) {
	s := newSession()
	sid, rid := s.next(zk.CMD_CONNECT)
	assert.Equal(t, uint16(0), sid)
	assert.Equal(t, uint16(0), rid)

	s.ID = 77
	for i := 1; i <= 3; i++ {
		sid, rid = s.next(zk.CMD_GET_TIME)
		assert.Equal(t, uint16(77), sid)
		assert.Equal(t, uint16(i), rid)
	}
	assert.Equal(t, uint16(3), s.ReplyID())

	sid, rid = s.next(zk.CMD_CONNECT)
	assert.Equal(t, uint16(0), sid)
	assert.Equal(t, uint16(0), rid)
	assert.Equal(t, uint16(0), s.ID)
}

func TestStream_DeviceOperations(t *testing.T) {
	d := seededDevice(30, 50)
	port := serveStream(t, d)
	cfg := testConfig(port)
	cfg.MaxChunkStream = 500
	m := newTestManager(t, cfg)

	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))
	defer func() { _ = m.Disconnect(ctx) }()
	assert.Equal(t, StateConnectedStream, m.State())
	assert.NotZero(t, m.Transport().Session().ID)

	users, err := m.GetUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 30)
	assert.Equal(t, "user-01", users[0].Name)
	assert.Equal(t, "p30", *users[29].Password)
	assert.Equal(t, uint32(9030), *users[29].CardNumber)
	assert.Equal(t, "130", users[29].UserID)

	records, err := m.GetAttendances(ctx)
	require.NoError(t, err)
	require.Len(t, records, 50)
	assert.Equal(t, "101", records[0].DeviceUserID)
	assert.Equal(t, punch, records[0].Time(time.Local))
	assert.Equal(t, uint16(50), *records[49].UserSN)

	info, err := m.GetInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, &zk.DeviceInfo{UserCount: 30, LogCount: 50, LogCapacity: simulator.DefaultCapacity}, info)

	version, err := m.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, simulator.DefaultVersion, version)

	card := uint32(1)
	require.NoError(t, m.SetUser(ctx, &zk.UserRecord{UID: 31, Name: "new", CardNumber: &card, UserID: "E31"}))
	assert.Len(t, d.Users(), 31)

	target := time.Date(2031, 1, 2, 3, 4, 5, 0, time.Local)
	require.NoError(t, m.SetTime(ctx, target))
	ts, err := m.GetTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2031, ts.Year)
	assert.Equal(t, 1, ts.Month)

	require.NoError(t, m.DisableDevice(ctx))
	assert.False(t, d.Enabled())
	require.NoError(t, m.EnableDevice(ctx))
	assert.True(t, d.Enabled())

	require.NoError(t, m.ClearAttendanceLog(ctx))
	records, err = m.GetAttendances(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	assert.NoError(t, m.Restart(ctx))
	assert.Equal(t, StateDisconnected, m.State())
}

func TestStream_Listen(t *testing.T) {
	d := seededDevice(2, 0)
	noise := zk.Encode(zk.Stream, zk.CMD_REG_EVENT, uint16(zk.EF_FINGER), 0, zk.EventPayloadLong("101", zk.HexFromTime(punch)))
	port := serveStream(t, d,
		simulator.EventUnit(zk.Stream, "101", punch),
		noise,
		simulator.EventUnit(zk.Stream, "102", punch.Add(time.Second)),
	)
	m := newTestManager(t, testConfig(port))
	require.NoError(t, m.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var mu sync.Mutex
	var ids []string
	err := m.Listen(ctx, func(ev *zk.RealTimeEvent) {
		mu.Lock()
		defer mu.Unlock()
		ids = append(ids, ev.UserID)
		if len(ids) == 2 {
			cancel()
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"101", "102"}, ids)

	// 取消监听后连接仍可用
	_, err = m.GetVersion(context.Background())
	assert.NoError(t, err)
}

func TestDatagram_FallbackAndBulk(t *testing.T) {
	d := seededDevice(60, 0)
	// 同一端口没有 TCP 监听，连接被拒绝后回退到 UDP
	port := serveDatagram(t, d, nil)
	cfg := testConfig(port)
	cfg.MaxChunkDatagram = 256
	m := newTestManager(t, cfg)

	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))
	assert.Equal(t, StateConnectedDatagram, m.State())

	users, err := m.GetUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 60)
	assert.Equal(t, "160", users[59].UserID)
	assert.Nil(t, users[0].Password)

	require.NoError(t, m.Disconnect(ctx))
	assert.Equal(t, StateDisconnected, m.State())
}

func TestDatagram_TimeoutKeepsSession(t *testing.T) {
	d := simulator.NewDevice()
	var mu sync.Mutex
	dropped := false
	port := serveDatagram(t, d, func(f *zk.Frame) bool {
		mu.Lock()
		defer mu.Unlock()
		if f.Command == zk.CMD_GET_VERSION && !dropped {
			dropped = true
			return true
		}
		return false
	})
	cfg := testConfig(port)
	cfg.Timeout = 200 * time.Millisecond
	tr := newDatagramTransport(cfg, logging.NopLogger(), newMetrics(prometheus.NewRegistry()))
	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))
	defer tr.Close()
	sid := tr.Session().ID

	_, err := tr.SendRequest(ctx, zk.CMD_GET_VERSION, nil)
	require.Error(t, err)
	assert.True(t, zk.IsTimeout(err))
	assert.Equal(t, sid, tr.Session().ID)
	assert.Equal(t, uint16(1), tr.Session().ReplyID())

	reply, err := tr.SendRequest(ctx, zk.CMD_GET_VERSION, nil)
	require.NoError(t, err)
	assert.Equal(t, zk.CMD_ACK_OK, reply.Command)
	assert.Equal(t, uint16(2), reply.ReplyId)
}

func TestDatagram_AddrInUse(t *testing.T) {
	d := simulator.NewDevice()
	port := serveDatagram(t, d, nil)

	busy, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig(port)
	cfg.InPort = busy.LocalAddr().(*net.UDPAddr).Port
	m := newTestManager(t, cfg)
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnectedDatagram, m.State())

	// 第一条命令时改用随机端口完成握手
	version, err := m.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, simulator.DefaultVersion, version)
}

func TestStream_ChecksumStrict(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		for i := uint16(0); ; i++ {
			if _, err := conn.Read(buf); err != nil {
				return
			}
			reply := zk.Encode(zk.Stream, zk.CMD_ACK_OK, 5, i, nil)
			if i > 0 {
				reply[zk.EnvelopeLength+2] ^= 0xff
			}
			_, _ = conn.Write(reply)
		}
	}()

	cfg := testConfig(ln.Addr().(*net.TCPAddr).Port)
	cfg.StrictChecksum = true
	tr := newStreamTransport(cfg, logging.NopLogger(), newMetrics(prometheus.NewRegistry()))
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	_, err = tr.SendRequest(context.Background(), zk.CMD_GET_TIME, nil)
	assert.Equal(t, zk.KindChecksumMismatch, zk.KindOf(err))

	tr.strict = false
	reply, err := tr.SendRequest(context.Background(), zk.CMD_GET_TIME, nil)
	require.NoError(t, err)
	assert.Equal(t, zk.CMD_ACK_OK, reply.Command)
}

func TestDatagram_LateReplyDiscarded(t *testing.T) {
	d := simulator.NewDevice()
	var mu sync.Mutex
	delayed := false
	port := serveDatagramLate(t, d, func(f *zk.Frame) time.Duration {
		mu.Lock()
		defer mu.Unlock()
		if f.Command == zk.CMD_GET_VERSION && !delayed {
			delayed = true
			return 300 * time.Millisecond
		}
		return 0
	})
	cfg := testConfig(port)
	cfg.Timeout = 200 * time.Millisecond
	tr := newDatagramTransport(cfg, logging.NopLogger(), newMetrics(prometheus.NewRegistry()))
	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))
	defer tr.Close()

	_, err := tr.SendRequest(ctx, zk.CMD_GET_VERSION, nil)
	require.Error(t, err)
	assert.True(t, zk.IsTimeout(err))
	// 等旧应答进入接收缓冲
	time.Sleep(250 * time.Millisecond)

	reply, err := tr.SendRequest(ctx, zk.CMD_GET_TIME, nil)
	require.NoError(t, err)
	t.Logf("%s", reply)
	assert.Equal(t, zk.CMD_ACK_OK, reply.Command)
	assert.Equal(t, uint16(2), reply.ReplyId)
	assert.Len(t, reply.Payload, 4)
}

func TestStream_PushedEventsSkipped(t *testing.T) {
	d := seededDevice(1, 0)
	port := serveStream(t, d,
		simulator.EventUnit(zk.Stream, "101", punch),
		simulator.EventUnit(zk.Stream, "101", punch.Add(time.Second)),
	)
	tr := newStreamTransport(testConfig(port), logging.NopLogger(), newMetrics(prometheus.NewRegistry()))
	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))
	defer tr.Close()

	// 注册后不读取应答，设备还会推送事件
	require.NoError(t, tr.Post(ctx, zk.CMD_REG_EVENT, zk.ReqGetRealTimeEvent))

	reply, err := tr.SendRequest(ctx, zk.CMD_GET_VERSION, nil)
	require.NoError(t, err)
	assert.Equal(t, zk.CMD_ACK_OK, reply.Command)
	assert.Equal(t, uint16(2), reply.ReplyId)
	assert.Equal(t, simulator.DefaultVersion, string(reply.Payload[:len(reply.Payload)-1]))
}

func TestStream_ReceiveCancelled(t *testing.T) {
	port := serveStream(t, simulator.NewDevice())
	tr := newStreamTransport(testConfig(port), logging.NopLogger(), newMetrics(prometheus.NewRegistry()))
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Receive(ctx)
	assert.Equal(t, zk.KindTransportClosed, zk.KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)

	ctx, cancel = context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	done := make(chan error, 1)
	go func() {
		_, err := tr.Receive(ctx)
		done <- err
	}()
	select {
	case err = <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Receive did not return after cancel")
	}
}
