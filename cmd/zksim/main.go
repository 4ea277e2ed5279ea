package main

// export ZK_LOGGING_LEVEL=-1
// export ZK_LOGGING_FILE="/var/log/zksim.log"

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/aaronwong1989/zklink/codec/zk"
	"github.com/aaronwong1989/zklink/comm"
	"github.com/aaronwong1989/zklink/comm/logging"
	"github.com/aaronwong1989/zklink/simulator"
)

var log = logging.GetDefaultLogger()

func main() {
	var port, users, punches, poolSize int
	var multicore, noTCP bool
	var interval time.Duration
	flag.IntVar(&port, "port", zk.DefaultPort, "--port 4370")
	flag.BoolVar(&multicore, "multicore", true, "--multicore=true")
	flag.BoolVar(&noTCP, "udp-only", false, "--udp-only")
	flag.IntVar(&users, "users", 20, "--users 20")
	flag.IntVar(&punches, "punches", 200, "--punches 200")
	flag.IntVar(&poolSize, "pool", 64, "--pool 64")
	flag.DurationVar(&interval, "event-interval", 5*time.Second, "--event-interval 5s, 0 disables pushed events")
	flag.Parse()

	log.Infof("current pid is %s.", comm.SavePid("zksim.pid"))
	device := seed(users, punches)

	pool, err := simulator.NewPool(poolSize)
	if err != nil {
		log.Fatalf("create pool: %v", err)
	}
	defer pool.Release()

	servers := []*simulator.Server{simulator.NewServer(device, "udp", port, multicore, 0, pool)}
	if !noTCP {
		servers = append(servers, simulator.NewServer(device, "tcp", port, multicore, interval, pool))
	}

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(s *simulator.Server) {
			defer wg.Done()
			err := s.Run()
			log.Errorf("server(%s) exits with error: %v", s.ProtoAddr(), err)
		}(s)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range servers {
		if err := s.Stop(ctx); err != nil {
			log.Warnf("stop %s: %v", s.ProtoAddr(), err)
		}
	}
	wg.Wait()
	_ = logging.GetDefaultFlusher()()
}

func seed(users, punches int) *simulator.Device {
	d := simulator.NewDevice()
	for i := 1; i <= users; i++ {
		card := uint32(10000 + i)
		d.AddUser(&zk.UserRecord{
			UID:        uint16(i),
			Name:       fmt.Sprintf("User %d", i),
			CardNumber: &card,
			UserID:     strconv.Itoa(i),
		})
	}
	start := time.Now().Add(-time.Duration(punches) * time.Hour)
	for i := 0; i < punches && users > 0; i++ {
		d.Punch(strconv.Itoa(i%users+1), start.Add(time.Duration(i)*time.Hour))
	}
	return d
}
