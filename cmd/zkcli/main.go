package main

// export ZK_CONF_PATH="$HOME/.zk.yaml"
// export ZK_LOGGING_LEVEL=-1

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/aaronwong1989/zklink/client"
	"github.com/aaronwong1989/zklink/comm/logging"
)

var log = logging.GetDefaultLogger()

type globalFlags struct {
	config   string
	ip       string
	port     int
	inPort   int
	timeout  time.Duration
	charset  string
	registry *prometheus.Registry
}

func main() {
	g := &globalFlags{registry: prometheus.NewRegistry()}
	rootCmd := &cobra.Command{
		Use:   "zkcli",
		Short: "Talk to ZK attendance terminals over TCP or UDP",
		Long: `zkcli connects to a ZK biometric / access-control terminal, trying TCP
first and falling back to UDP when the TCP port refuses the connection.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&g.config, "config", "c", "", "yaml config file, defaults to $ZK_CONF_PATH")
	flags.StringVar(&g.ip, "ip", "", "device address, overrides config")
	flags.IntVar(&g.port, "port", 0, "device port, overrides config")
	flags.IntVar(&g.inPort, "in-port", 0, "local udp port, overrides config")
	flags.DurationVar(&g.timeout, "timeout", 0, "request timeout, overrides config")
	flags.StringVar(&g.charset, "charset", "", "text charset: ascii, gb18030, latin1, windows-1252")

	rootCmd.AddCommand(
		infoCmd(g),
		usersCmd(g),
		attendancesCmd(g),
		timeCmd(g),
		listenCmd(g),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		_ = logging.GetDefaultFlusher()()
		os.Exit(1)
	}
	_ = logging.GetDefaultFlusher()()
}

func (g *globalFlags) load() (*client.Config, error) {
	var conf *client.Config
	if len(g.config) > 0 || len(os.Getenv("ZK_CONF_PATH")) > 0 {
		c, err := client.LoadConfig(g.config)
		if err != nil && len(g.ip) == 0 {
			return nil, err
		}
		conf = c
	}
	if conf == nil {
		conf = client.DefaultConfig()
	}
	if len(g.ip) > 0 {
		conf.IP = g.ip
	}
	if g.port > 0 {
		conf.Port = g.port
	}
	if g.inPort > 0 {
		conf.InPort = g.inPort
	}
	if g.timeout > 0 {
		conf.Timeout = g.timeout
	}
	if len(g.charset) > 0 {
		conf.Charset = g.charset
	}
	return conf, conf.Validate()
}

// withDevice 连接设备执行 fn，结束后断开
func (g *globalFlags) withDevice(ctx context.Context, fn func(ctx context.Context, m *client.Manager) error) error {
	conf, err := g.load()
	if err != nil {
		return err
	}
	m, err := client.NewManager(conf, client.WithLogger(log), client.WithRegistry(g.registry))
	if err != nil {
		return err
	}
	if err = m.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = m.Disconnect(context.Background()) }()
	log.Infof("[%-9s] connected to %s, state=%s", "Main", conf.Addr(), m.State())
	return fn(ctx, m)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
