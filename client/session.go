package client

import (
	"fmt"

	"github.com/aaronwong1989/zklink/codec"
	"github.com/aaronwong1989/zklink/codec/zk"
	"github.com/aaronwong1989/zklink/comm"
)

// Session 一条连接上的会话状态，调用方负责串行访问
type Session struct {
	ID      uint16
	replies codec.Sequence16
	last    uint16
}

func newSession() *Session {
	return &Session{replies: comm.NewCycleSequence()}
}

// next 返回下一条命令使用的会话号和回复序号。CONNECT 时两者归零
func (s *Session) next(command uint16) (sessionID, replyID uint16) {
	if command == zk.CMD_CONNECT {
		s.ID = 0
		s.replies.Reset()
		s.last = 0
		return 0, 0
	}
	s.last = s.replies.NextVal()
	return s.ID, s.last
}

// ReplyID 最近一条命令的回复序号
func (s *Session) ReplyID() uint16 {
	return s.last
}

func (s *Session) String() string {
	return fmt.Sprintf("{ SessionId: %d, ReplyId: %d }", s.ID, s.last)
}
