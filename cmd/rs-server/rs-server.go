package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rsockets2/rsockets2/internal/common"
	"github.com/rsockets2/rsockets2/librsocket"
	log "github.com/sirupsen/logrus"
)

var version string

func resolveBindAddr(bindAddrs []string) ([]net.Addr, error) {
	var addrs []net.Addr
	for _, addr := range bindAddrs {
		bindAddr, err := net.ResolveTCPAddr("tcp", addr)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, bindAddr)
	}
	return addrs, nil
}

func main() {
	var config string

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	flag.StringVar(&config, "c", "server.toml", "config: path to the configuration file")
	askVersion := flag.Bool("v", false, "Print the version number")
	printUsage := flag.Bool("h", false, "Print this message")
	hashPassword := flag.String("hash", "", "Print the bcrypt hash of a password for the Users table")
	pprofAddr := flag.String("d", "", "debug use: ip:port to be listened by pprof profiler")
	verbosity := flag.String("verbosity", "info", "verbosity level")

	flag.Parse()

	if *askVersion {
		fmt.Printf("rs-server %s", version)
		return
	}
	if *printUsage {
		flag.Usage()
		return
	}
	if *hashPassword != "" {
		hash, err := hashOf(*hashPassword)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(hash)
		return
	}

	if *pprofAddr != "" {
		runtime.SetBlockProfileRate(5)
		go func() {
			log.Info(http.ListenAndServe(*pprofAddr, nil))
		}()
		log.Infof("pprof listening on %v", *pprofAddr)
	}

	lvl, err := log.ParseLevel(*verbosity)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(lvl)

	raw, err := librsocket.ParseServerConfig(config)
	if err != nil {
		log.Fatalf("Configuration file error: %v", err)
	}

	bindAddr, err := resolveBindAddr(raw.BindAddr)
	if err != nil {
		log.Fatalf("unable to parse BindAddr: %v", err)
	}

	server, err := raw.Process(echoResponder{}, common.RealWorldState)
	if err != nil {
		log.Fatalf("unable to initialise server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if raw.AdminAddr != "" {
		go func() {
			log.Infof("admin API listening on %v", raw.AdminAddr)
			log.Error(http.ListenAndServe(raw.AdminAddr, server.AdminRouter()))
		}()
	}

	if raw.WebSocketAddr != "" {
		mux := http.NewServeMux()
		mux.Handle(raw.WebSocketPath, server)
		hs := &http.Server{Addr: raw.WebSocketAddr, Handler: mux}
		context.AfterFunc(ctx, func() { _ = hs.Close() })
		go func() {
			log.Infof("Listening for WebSocket on %v%v", raw.WebSocketAddr, raw.WebSocketPath)
			if err := hs.ListenAndServe(); err != http.ErrServerClosed {
				log.Fatal(err)
			}
		}()
	}

	listen := func(bindAddr net.Addr) {
		listener, err := net.Listen("tcp", bindAddr.String())
		log.Infof("Listening on %v", bindAddr)
		if err != nil {
			log.Fatal(err)
		}
		log.Info(server.Serve(ctx, listener))
	}

	for _, addr := range bindAddr {
		go listen(addr)
	}
	<-ctx.Done()
	log.Info("shutting down")
}
