package comm

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/panjf2000/gnet/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"github.com/aaronwong1989/zklink/comm/logging"
)

var ErrNonASCII = errors.New("non-ascii byte in text field")

// TrimStr 截取到第一个 0 字节，没有 0 字节时整段都是文本
func TrimStr(bts []byte) string {
	var i = 0
	for ; i < len(bts); i++ {
		if bts[i] == 0 {
			break
		}
	}
	return string(bts[:i])
}

// CopyStr 把字符串写入定长字段，超长截断，不足补 0
func CopyStr(dest []byte, src string, index int, len int) int {
	field := dest[index : index+len]
	for i := range field {
		field[i] = 0
	}
	copy(field, src)
	index += len
	return index
}

// Charset 设备文本字段的字符集
type Charset struct {
	name string
	enc  encoding.Encoding
}

var ASCII = Charset{name: "ascii"}

// LookupCharset 按名称查找字符集，空名称返回 ASCII
func LookupCharset(name string) (Charset, error) {
	switch strings.ToLower(name) {
	case "", "ascii":
		return ASCII, nil
	case "gb18030", "gbk", "gb2312":
		return Charset{name: "gb18030", enc: simplifiedchinese.GB18030}, nil
	case "latin1", "iso-8859-1":
		return Charset{name: "latin1", enc: charmap.ISO8859_1}, nil
	case "windows-1252", "cp1252":
		return Charset{name: "windows-1252", enc: charmap.Windows1252}, nil
	}
	return Charset{}, fmt.Errorf("unsupported charset %q", name)
}

func (c Charset) String() string {
	if c.name == "" {
		return "ascii"
	}
	return c.name
}

// Decode 解码以 0 结尾的定长文本字段
func (c Charset) Decode(field []byte) (string, error) {
	var i = 0
	for ; i < len(field); i++ {
		if field[i] == 0 {
			break
		}
	}
	raw := field[:i]
	if c.enc == nil {
		for _, b := range raw {
			if b > 0x7f {
				return "", ErrNonASCII
			}
		}
		return string(raw), nil
	}
	bts, _, err := transform.Bytes(c.enc.NewDecoder(), raw)
	if err != nil {
		return "", err
	}
	return string(bts), nil
}

// Encode 编码为设备字符集，不做长度处理
func (c Charset) Encode(s string) ([]byte, error) {
	if c.enc == nil {
		for i := 0; i < len(s); i++ {
			if s[i] > 0x7f {
				return nil, ErrNonASCII
			}
		}
		return []byte(s), nil
	}
	bts, _, err := transform.Bytes(c.enc.NewEncoder(), []byte(s))
	return bts, err
}

// TakeBytes 消费一定字节数的数据
func TakeBytes(c gnet.Conn, bytes int) []byte {
	if c.InboundBuffered() < bytes {
		return nil
	}
	frame, err := c.Peek(bytes)
	if err != nil {
		logging.GetDefaultLogger().Errorf("[%-9s] decode error: %v", "OnTraffic", err)
		return nil
	}
	// Peek 返回的切片在 Discard 后会被复用
	out := make([]byte, len(frame))
	copy(out, frame)
	_, err = c.Discard(bytes)
	if err != nil {
		logging.GetDefaultLogger().Errorf("[%-9s] decode error: %v", "OnTraffic", err)
		return nil
	}
	return out
}

func LogHex(log logging.Logger, level logging.Level, model string, bts []byte) {
	msg := fmt.Sprintf("[%-9s] Hex %s: %x", "Frame", model, bts)
	if level == logging.DebugLevel {
		log.Debugf(msg)
	} else if level == logging.ErrorLevel {
		log.Errorf(msg)
	} else if level == logging.WarnLevel {
		log.Warnf(msg)
	} else {
		log.Infof(msg)
	}
}

// SavePid 在程序执行的当前目录生成pid文件
func SavePid(f string) string {
	file, err := os.OpenFile(f, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		logging.GetDefaultLogger().Errorf("%v", err)
		return ""
	}
	pid := fmt.Sprintf("%d", os.Getpid())

	writer := bufio.NewWriter(file)
	_, _ = writer.WriteString(pid)
	defer func(file *os.File, writer *bufio.Writer) {
		_ = writer.Flush()
		_ = file.Close()
	}(file, writer)

	return pid
}
