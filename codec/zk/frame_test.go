package zk

import (
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	connect := (&Header{Command: CMD_CONNECT}).Encode()
	assert.Equal(t, uint16(64534), Checksum(connect))

	assert.Equal(t, uint16(65534), Checksum(nil))
	assert.Equal(t, uint16(65534), Checksum([]byte{0xff, 0xff}))
	assert.Equal(t, uint16(65533), Checksum([]byte{0x01}))
	assert.Equal(t, uint16(0), Checksum([]byte{0xfe, 0xff}))
	// 重复计算结果不变
	assert.Equal(t, Checksum(connect), Checksum(connect))
}

func TestEncode_Golden(t *testing.T) {
	cases := []struct {
		name    string
		cmd     uint16
		sid     uint16
		rid     uint16
		payload []byte
		want    string
	}{
		{"connect", CMD_CONNECT, 0, 0, nil, "e80316fc00000000"},
		{"data_wrrq", CMD_DATA_WRRQ, 0x1234, 7, ReqGetUsers, "df05e3d9341207000109000500000000000000"},
		{"odd payload", CMD_DATA, 65535, 65535, []byte{0x01}, "dd0520faffffffff01"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Encode(Datagram, c.cmd, c.sid, c.rid, c.payload)
			t.Logf("% x", got)
			assert.Equal(t, c.want, hex.EncodeToString(got))

			wrapped := Encode(Stream, c.cmd, c.sid, c.rid, c.payload)
			assert.Equal(t, "5050827d", hex.EncodeToString(wrapped[0:4]))
			assert.Equal(t, c.want, hex.EncodeToString(wrapped[EnvelopeLength:]))
		})
	}
}

func TestFrame_RoundTrip(t *testing.T) {
	payloads := [][]byte{{}, {0x7f}, make([]byte, UserLongLen)}
	for i := range payloads[2] {
		payloads[2][i] = byte(i * 3)
	}
	ids := []uint16{0, 1, 0x7fff, 0xfffe, 0xffff}

	for _, kind := range []TransportKind{Stream, Datagram} {
		for _, payload := range payloads {
			for _, cmd := range ids {
				for _, id := range ids {
					buf := Encode(kind, cmd, id, ^id, payload)
					f, err := Decode(kind, buf)
					require.NoError(t, err)
					assert.Equal(t, cmd, f.Command)
					assert.Equal(t, id, f.SessionId)
					assert.Equal(t, ^id, f.ReplyId)
					assert.Equal(t, len(payload), len(f.Payload))
					if len(payload) > 0 {
						assert.Equal(t, payload, f.Payload)
					}
					assert.True(t, f.Valid())
				}
			}
		}
	}
}

func TestEnvelope(t *testing.T) {
	for _, n := range []int{0, 1, 71, 1024} {
		inner := NewFrame(CMD_DATA, 3, 4, make([]byte, n)).Encode()
		wrapped := Wrap(inner)
		l, err := InnerLength(wrapped)
		require.NoError(t, err)
		assert.Equal(t, HeadLength+n, l)
		assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(wrapped[6:8]))
		assert.Equal(t, inner, Unwrap(wrapped))
	}

	_, err := InnerLength([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	assert.ErrorIs(t, err, ErrorPacket)
}

func TestDecode_StreamWithoutEnvelope(t *testing.T) {
	bare := Encode(Datagram, CMD_ACK_OK, 9, 2, []byte{1, 2, 3})
	f, err := Decode(Stream, bare)
	require.NoError(t, err)
	assert.Equal(t, CMD_ACK_OK, f.Command)
	assert.Equal(t, []byte{1, 2, 3}, f.Payload)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode(Datagram, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrorPacket)

	// 前缀声明的长度超过实际数据
	buf := Encode(Stream, CMD_DATA, 0, 0, []byte{1, 2})
	binary.LittleEndian.PutUint16(buf[4:6], 100)
	_, err = Decode(Stream, buf)
	assert.ErrorIs(t, err, ErrorPacket)

	// 多余的尾部数据按声明长度截断
	buf = append(Encode(Stream, CMD_DATA, 0, 0, []byte{1, 2}), 0xaa, 0xbb)
	f, err := Decode(Stream, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, f.Payload)
}

func TestFrame_Valid(t *testing.T) {
	buf := Encode(Datagram, CMD_ACK_OK, 1, 1, []byte{9, 9})
	buf[2] ^= 0xff
	f, err := Decode(Datagram, buf)
	require.NoError(t, err)
	t.Logf("%s", f)
	assert.False(t, f.Valid())
}

func TestFrame_DecodeHeader(t *testing.T) {
	f := &Frame{}
	assert.ErrorIs(t, f.Decode(nil, nil), ErrorPacket)
	var h *Header
	assert.ErrorIs(t, f.Decode(h, nil), ErrorPacket)

	require.NoError(t, f.Decode(&Header{Command: CMD_DATA, SessionId: 3, ReplyId: 4}, []byte{1}))
	assert.Equal(t, CMD_DATA, f.Command)
	assert.Equal(t, uint16(4), f.ReplyId)
	assert.Equal(t, []byte{1}, f.Payload)
}

func TestError_Kind(t *testing.T) {
	err := NewError(KindTransportTimeout, "recv", CMD_GET_TIME, "10.0.0.1", ErrorPacket)
	t.Logf("%v", err)
	assert.True(t, IsTimeout(err))
	assert.ErrorIs(t, err, &Error{Kind: KindTransportTimeout})
	assert.ErrorIs(t, err, ErrorPacket)
	assert.NotErrorIs(t, err, &Error{Kind: KindDecodeError})
	assert.Equal(t, "zk: TransportTimeout recv CMD_GET_TIME ip=10.0.0.1: error packet", err.Error())
	assert.Equal(t, KindUnknown, KindOf(ErrorPacket))
	assert.Equal(t, "CMD_4242", CommandName(4242))
}
