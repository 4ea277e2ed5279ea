package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aaronwong1989/zklink/codec/zk"
	"github.com/aaronwong1989/zklink/comm"
)

const (
	DefaultPort    = zk.DefaultPort
	DefaultTimeout = 10 * time.Second
)

type Config struct {
	// 设备地址
	IP     string `yaml:"ip"`
	Port   int    `yaml:"port"`
	InPort int    `yaml:"in-port"` // UDP 本地端口，0 为随机端口

	Timeout        time.Duration `yaml:"timeout"`
	StrictChecksum bool          `yaml:"strict-checksum"`
	Charset        string        `yaml:"charset"`

	ListenerWorkers  int `yaml:"listener-workers"`
	MaxChunkStream   int `yaml:"max-chunk-stream"`
	MaxChunkDatagram int `yaml:"max-chunk-datagram"`
}

func DefaultConfig() *Config {
	c := &Config{}
	c.normalize()
	return c
}

// LoadConfig 读取 yaml 配置，path 为空时使用 ZK_CONF_PATH
func LoadConfig(path string) (*Config, error) {
	if len(path) == 0 {
		path = os.Getenv("ZK_CONF_PATH")
	}
	if len(path) == 0 {
		return nil, errors.New("config path is empty, set ZK_CONF_PATH")
	}
	bts, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	conf := &Config{}
	if err = yaml.Unmarshal(bts, conf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	conf.normalize()
	return conf, conf.Validate()
}

func (c *Config) normalize() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ListenerWorkers <= 0 {
		c.ListenerWorkers = 1
	}
	if c.MaxChunkStream <= 0 {
		c.MaxChunkStream = zk.MaxChunkStream
	}
	if c.MaxChunkDatagram <= 0 {
		c.MaxChunkDatagram = zk.MaxChunkDatagram
	}
}

func (c *Config) Validate() error {
	if len(c.IP) == 0 {
		return errors.New("ip is required")
	}
	if c.Port < 0 || c.Port > 65535 || c.InPort < 0 || c.InPort > 65535 {
		return fmt.Errorf("port out of range: port=%d in-port=%d", c.Port, c.InPort)
	}
	_, err := c.charset()
	return err
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}

func (c *Config) maxChunk(kind zk.TransportKind) int {
	if kind == zk.Stream {
		return c.MaxChunkStream
	}
	return c.MaxChunkDatagram
}

func (c *Config) charset() (comm.Charset, error) {
	return comm.LookupCharset(c.Charset)
}
