// Package main: worker service.
//
// The worker consumes the blockchain events published to the message broker and applies them to the marketplace
// database. Several workers may run against the same database: the advisory locks and the idempotent actions of the
// market make a duplicated delivery a no-op.
package main

import (
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tarancss/nftmarket/lib/cache"
	"github.com/tarancss/nftmarket/lib/config"
	"github.com/tarancss/nftmarket/lib/msg/amqp"
	"github.com/tarancss/nftmarket/lib/store/db"
	"github.com/tarancss/nftmarket/market"
	"github.com/tarancss/nftmarket/worker"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json or yaml file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9100/metrics")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	if conf.LogFile != "" {
		log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{Filename: conf.LogFile, MaxSize: 100, MaxBackups: 5}))
	}

	log.Printf("Configuration:%+v", conf)

	if conf.MbType != "amqp" {
		log.Fatalf("Unknown message broker type: %s\n", conf.MbType)
	}

	// connect to database
	log.Printf("Connecting to database:%+v\n", conf.DBType)

	dbConn, err := db.New(conf.DBType, conf.DBConn)
	if err != nil {
		panic(err)
	}

	defer func() {
		errClose := dbConn.Close()
		log.Printf("Disconnecting %v database, err:%e\n", conf.DBType, errClose)
	}()

	locks, err := db.NewLocks(conf.LockDBType, conf.LockDBConn, dbConn)
	if err != nil {
		panic(err)
	}

	defer locks.Close()

	// the cache is shared with the market service so the worker clears what it changes
	c, err := cache.New(conf.Cache)
	if err != nil {
		panic(err)
	}

	defer c.Close()

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Println("Serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())
			http.ListenAndServe(":9100", h)
		}()
	}

	// load message broker
	mb, err := amqp.New(conf.MbConn)
	if err != nil {
		time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

		if mb, err = amqp.New(conf.MbConn); err != nil {
			panic(err)
		}
	}

	if err = mb.Setup(nil); err != nil {
		panic(err)
	}

	defer func() {
		errClose := mb.Close()
		log.Printf("Closing messageBroker: %e", errClose)
	}()

	// events do not wait for receipts nor upload metadata
	m := market.New(market.Deps{
		DB:              dbConn,
		Locks:           locks,
		Lock:            conf.Lock,
		Cache:           c,
		Notifier:        mb,
		Commission:      conf.Commission,
		LockingContract: conf.LockingContract,
	})

	w := worker.New(m, mb)

	if err = w.ManageEvents(); err != nil {
		panic(err)
	}

	// capture CTRL+C or docker's SIGTERM for gracious exit
	sigchan := make(chan os.Signal, 10)
	signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
	<-sigchan
	log.Println("Program killed !")

	// wait for the event being applied
	w.Stop()

	log.Println("Worker: Done!")
}
