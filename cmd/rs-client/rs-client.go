package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/rsockets2/rsockets2/internal/common"
	"github.com/rsockets2/rsockets2/internal/frame"
	"github.com/rsockets2/rsockets2/librsocket"
	"github.com/rsockets2/rsockets2/librsocket/extension"
	log "github.com/sirupsen/logrus"
)

var version string

// buildMetadata puts route tags in composite metadata. Without routes the
// raw metadata is sent as is.
func buildMetadata(raw string, routes []string) ([]byte, error) {
	if len(routes) == 0 {
		if raw == "" {
			return nil, nil
		}
		return []byte(raw), nil
	}
	tags, err := extension.EncodeRoutes(routes...)
	if err != nil {
		return nil, err
	}
	entries := []extension.Entry{{MimeType: extension.MimeTypeRouting, Payload: tags}}
	if raw != "" {
		entries = append(entries, extension.Entry{MimeType: extension.MimeTypeOctetStream, Payload: []byte(raw)})
	}
	return extension.EncodeComposite(entries...)
}

type routeFlag []string

func (r *routeFlag) String() string { return fmt.Sprint(*r) }

func (r *routeFlag) Set(s string) error {
	*r = append(*r, s)
	return nil
}

func run(ctx context.Context, rs *librsocket.RSocket, mode string, req librsocket.Payload, n uint, out io.Writer) error {
	switch mode {
	case "rr":
		resp, err := rs.RequestResponse(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\n", resp.Data)
	case "stream":
		if n == 0 || n > frame.MaxRequestN {
			return fmt.Errorf("request-n must be between 1 and %v, got %v", frame.MaxRequestN, n)
		}
		s, err := rs.RequestStream(req, uint32(n))
		if err != nil {
			return err
		}
		defer s.Cancel()
		outstanding := n
		for {
			p, err := s.Next(ctx)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\n", p.Data)
			// ask for the next batch once the current one is used up
			if outstanding--; outstanding == 0 {
				if err := s.Request(uint32(n)); err != nil && !errors.Is(err, librsocket.ErrStreamClosed) {
					return err
				}
				outstanding = n
			}
		}
	case "fnf":
		return rs.FireAndForget(req)
	default:
		return fmt.Errorf("unknown mode %v", mode)
	}
	return nil
}

func main() {
	var config string
	var transport string
	var remoteAddr string
	var username string
	var password string
	var routes routeFlag

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	verbosity := flag.String("verbosity", "info", "verbosity level")
	flag.StringVar(&config, "c", "", "config: path to the configuration file")
	flag.StringVar(&transport, "t", "tcp", "transport: tcp or websocket")
	flag.StringVar(&remoteAddr, "s", "", "remoteAddr: host:port of the server, or a ws:// URL under websocket")
	flag.StringVar(&username, "u", "", "username for simple authentication")
	flag.StringVar(&password, "p", "", "password for simple authentication")
	flag.Var(&routes, "route", "route tag sent in composite metadata, may be repeated")
	mode := flag.String("mode", "rr", "interaction: rr, stream or fnf")
	data := flag.String("data", "", "request data")
	metadata := flag.String("metadata", "", "request metadata")
	n := flag.Uint("n", frame.MaxRequestN, "request-n for streams, 1 to 2147483647")
	askVersion := flag.Bool("v", false, "Print the version number")
	printUsage := flag.Bool("h", false, "Print this message")

	flag.Parse()

	if *askVersion {
		fmt.Printf("rs-client %s", version)
		return
	}
	if *printUsage {
		flag.Usage()
		return
	}

	lvl, err := log.ParseLevel(*verbosity)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(lvl)

	var rawConfig librsocket.Config
	if config != "" {
		rawConfig, err = librsocket.ParseConfig(config)
		if err != nil {
			log.Fatal(err)
		}
	}
	// commandline argument takes precedence over toml
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			rawConfig.Transport = transport
		case "s":
			rawConfig.RemoteAddr = remoteAddr
		case "u":
			rawConfig.Username = username
		case "p":
			rawConfig.Password = password
		}
	})
	if rawConfig.Transport == "" {
		rawConfig.Transport = transport
	}

	cc, err := rawConfig.Process(common.RealWorldState)
	if err != nil {
		log.Fatal(err)
	}
	md, err := buildMetadata(*metadata, routes)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rs, err := librsocket.Dial(ctx, cc, nil)
	if err != nil {
		log.Fatalf("failed to connect to %v: %v", rawConfig.RemoteAddr, err)
	}
	defer rs.Close()

	if err := run(ctx, rs, *mode, librsocket.Payload{Metadata: md, Data: []byte(*data)}, *n, os.Stdout); err != nil {
		log.Error(err)
		return
	}
}
