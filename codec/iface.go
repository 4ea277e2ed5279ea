package codec

// IHead 定长报文头
type IHead interface {
	Encode() []byte
	Decode([]byte) error
	String() string
}

// Codec 带报文头的完整报文
type Codec interface {
	Encode() []byte
	Decode(header IHead, frame []byte) error
	String() string
}

// Sequence16 16位回复序号生成器，CONNECT 时归零
type Sequence16 interface {
	NextVal() uint16
	Reset()
}
