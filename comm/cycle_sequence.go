package comm

import "sync/atomic"

// CycleSequence 16 位循环序号，到 65535 后回到 0
type CycleSequence struct {
	val uint32
}

func NewCycleSequence() *CycleSequence {
	return &CycleSequence{}
}

// NextVal 先加一再返回
func (s *CycleSequence) NextVal() uint16 {
	return uint16(atomic.AddUint32(&s.val, 1))
}

// Current 最近一次 NextVal 的值，Reset 后为 0
func (s *CycleSequence) Current() uint16 {
	return uint16(atomic.LoadUint32(&s.val))
}

func (s *CycleSequence) Reset() {
	atomic.StoreUint32(&s.val, 0)
}
