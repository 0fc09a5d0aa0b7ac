// Package main: market service.
//
// The service serves the RESTful API of the marketplace, including the /worker ingress used to post blockchain
// events over http. User notifications are published to the message broker, or logged when none is configured.
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

	"github.com/tarancss/nftmarket/lib/auth"
	"github.com/tarancss/nftmarket/lib/block"
	"github.com/tarancss/nftmarket/lib/cache"
	"github.com/tarancss/nftmarket/lib/config"
	"github.com/tarancss/nftmarket/lib/ipfs"
	"github.com/tarancss/nftmarket/lib/msg"
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

	// load cache
	c, err := cache.New(conf.Cache)
	if err != nil {
		panic(err)
	}

	defer c.Close()

	// load blockchain client
	chain, err := block.Init(conf.Chain)
	if err != nil {
		panic(err)
	}

	defer chain.Close()

	log.Print("Blockchain client loaded")

	// load IPFS providers
	var up ipfs.Uploader

	if len(conf.Ipfs.Providers) > 0 {
		if up, err = ipfs.New(conf.Ipfs); err != nil {
			panic(err)
		}
	}

	a, err := auth.New(conf.JWTSecret)
	if err != nil {
		panic(err)
	}

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
	var mb msg.MsgBroker

	var notifier msg.Notifier = msg.LogNotifier{}

	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
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

		notifier = mb
	default:
		log.Printf("Unknown message broker type: %s, notifications are logged\n", conf.MbType)
	}

	// create market service
	m := market.New(market.Deps{
		DB:              dbConn,
		Locks:           locks,
		Lock:            conf.Lock,
		Cache:           c,
		Chain:           block.NewWaiter(chain, conf.Chain),
		Ipfs:            up,
		Notifier:        notifier,
		Auth:            a,
		Commission:      conf.Commission,
		LockingContract: conf.LockingContract,
	})

	// events posted over http are applied by an in-process worker
	w := worker.New(m, nil)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		m.Stop()
	}()

	// init RESTful API, wait for its return and log response
	log.Printf("Market: %s\n", m.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey,
		w.Routes))
}
