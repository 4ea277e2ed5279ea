package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aaronwong1989/zklink/client"
	"github.com/aaronwong1989/zklink/codec/zk"
)

func infoCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print firmware version and storage counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDevice(cmd.Context(), func(ctx context.Context, m *client.Manager) error {
				version, err := m.GetVersion(ctx)
				if err != nil {
					return err
				}
				info, err := m.GetInfo(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Transport:  %s\n", m.Transport().Kind())
				fmt.Printf("Firmware:   %s\n", version)
				fmt.Printf("Users:      %d\n", info.UserCount)
				fmt.Printf("Logs:       %d / %d\n", info.LogCount, info.LogCapacity)
				return nil
			})
		},
	}
}

func usersCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List enrolled users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDevice(cmd.Context(), func(ctx context.Context, m *client.Manager) error {
				users, err := m.GetUsers(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%-6s %-4s %-12s %-24s %s\n", "UID", "ROLE", "USER_ID", "NAME", "CARD")
				for _, u := range users {
					card := "-"
					if u.CardNumber != nil && *u.CardNumber != 0 {
						card = fmt.Sprintf("%d", *u.CardNumber)
					}
					fmt.Printf("%-6d %-4d %-12s %-24s %s\n", u.UID, u.Role, u.UserID, u.Name, card)
				}
				fmt.Printf("%d users\n", len(users))
				return nil
			})
		},
	}
}

func attendancesCmd(g *globalFlags) *cobra.Command {
	var clearLog bool
	cmd := &cobra.Command{
		Use:   "attendances",
		Short: "Dump the attendance log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDevice(cmd.Context(), func(ctx context.Context, m *client.Manager) error {
				if err := m.DisableDevice(ctx); err != nil {
					return err
				}
				defer func() { _ = m.EnableDevice(ctx) }()

				records, err := m.GetAttendances(ctx)
				if err != nil {
					return err
				}
				for _, r := range records {
					fmt.Printf("%-12s %s\n", r.DeviceUserID, r.Time(time.Local).Format("2006-01-02 15:04:05"))
				}
				fmt.Printf("%d records\n", len(records))
				if clearLog {
					return m.ClearAttendanceLog(ctx)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clearLog, "clear", false, "clear the log after a successful download")
	return cmd
}

func timeCmd(g *globalFlags) *cobra.Command {
	var syncClock bool
	cmd := &cobra.Command{
		Use:   "time",
		Short: "Show the device clock, or set it to local time with --sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDevice(cmd.Context(), func(ctx context.Context, m *client.Manager) error {
				if syncClock {
					if err := m.SetTime(ctx, time.Now()); err != nil {
						return err
					}
				}
				ts, err := m.GetTime(ctx)
				if err != nil {
					return err
				}
				fmt.Println(ts)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&syncClock, "sync", false, "set the device clock to local time first")
	return cmd
}

func listenCmd(g *globalFlags) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stream real-time attendance events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(metricsAddr) > 0 {
				go func() {
					mux := http.NewServeMux()
					mux.Handle("/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
					log.Infof("[%-9s] http://%s/metrics", "Metrics", metricsAddr)
					if err := http.ListenAndServe(metricsAddr, mux); err != nil {
						log.Errorf("[%-9s] %v", "Metrics", err)
					}
				}()
			}
			ctx, cancel := signalContext()
			defer cancel()
			return g.withDevice(ctx, func(ctx context.Context, m *client.Manager) error {
				return m.Listen(ctx, func(ev *zk.RealTimeEvent) {
					fmt.Printf("%s  user=%s\n", ev.Time(time.Local).Format("2006-01-02 15:04:05"), ev.UserID)
				})
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. :9101")
	return cmd
}
