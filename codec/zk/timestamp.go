package zk

import (
	"fmt"
	"time"
)

// Timestamp 设备时间。设备固件按每月 31 天计算，不做日历校验。
//
// Month 的取值约定取决于解码入口：DecodeInt 返回 1-12，DecodeHex 返回原始字节减一（0-11）。
type Timestamp struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

// DecodeInt 逐级取模解码整型时间，Month 为 1-12
func DecodeInt(v uint32) Timestamp {
	t := v
	second := t % 60
	t /= 60
	minute := t % 60
	t /= 60
	hour := t % 24
	t /= 24
	day := t%31 + 1
	t /= 31
	month := t % 12
	t /= 12
	return Timestamp{
		Year:   int(t) + 2000,
		Month:  int(month) + 1,
		Day:    int(day),
		Hour:   int(hour),
		Minute: int(minute),
		Second: int(second),
	}
}

// EncodeInt 是 DecodeInt 的逆运算，Month 按 1-12 传入
func EncodeInt(ts Timestamp) uint32 {
	days := ((ts.Year-2000)*12+(ts.Month-1))*31 + (ts.Day - 1)
	return uint32(days*86400 + (ts.Hour*60+ts.Minute)*60 + ts.Second)
}

// DecodeHex 直接读取 6 字节时间，Month 为原始字节减一（0-11）
func DecodeHex(b []byte) (Timestamp, error) {
	if len(b) < 6 {
		return Timestamp{}, ErrShortRecord
	}
	return Timestamp{
		Year:   2000 + int(b[0]),
		Month:  int(b[1]) - 1,
		Day:    int(b[2]),
		Hour:   int(b[3]),
		Minute: int(b[4]),
		Second: int(b[5]),
	}, nil
}

// FromTime 转换为 DecodeInt 约定（Month 1-12）的设备时间
func FromTime(t time.Time) Timestamp {
	return Timestamp{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}
}

// HexFromTime 生成 DecodeHex 可读取的 6 字节时间
func HexFromTime(t time.Time) []byte {
	return []byte{
		byte(t.Year() - 2000),
		byte(t.Month()),
		byte(t.Day()),
		byte(t.Hour()),
		byte(t.Minute()),
		byte(t.Second()),
	}
}

// toTime monthBase 为 Month 字段中代表一月的值
func (ts Timestamp) toTime(loc *time.Location, monthBase int) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(ts.Year, time.Month(ts.Month-monthBase+1), ts.Day, ts.Hour, ts.Minute, ts.Second, 0, loc)
}

func (ts Timestamp) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", ts.Year, ts.Month, ts.Day, ts.Hour, ts.Minute, ts.Second)
}
