package librsocket

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/rsockets2/rsockets2/internal/common"
	"github.com/rsockets2/rsockets2/internal/multiplex"
	"github.com/rsockets2/rsockets2/internal/transport"
	"github.com/rsockets2/rsockets2/librsocket/extension"
)

// Duration is a time.Duration written as a string such as "30s" in
// configuration files
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config contains the configuration parameter fields for an RSocket client
type Config struct {
	// Required fields
	// Transport is either `tcp` or `websocket`
	Transport string
	// RemoteAddr is host:port under `tcp` and a ws:// or wss:// URL under
	// `websocket`
	RemoteAddr string

	// Optional fields
	// KeepaliveInterval is how often KEEPALIVE frames are sent.
	// Defaults to 30s
	KeepaliveInterval Duration
	// MaxLifetime is how long the server may stay silent before the
	// connection is considered dead.
	// Defaults to 100s
	MaxLifetime Duration
	// SetupTimeout bounds the wait for the server's answer to SETUP.
	// Defaults to 5s
	SetupTimeout Duration
	// MetadataMimeType and DataMimeType are announced in SETUP.
	// Both default to `application/octet-stream`
	MetadataMimeType string
	DataMimeType     string
	// HonorsLease announces that this client honors LEASE. Leases are not
	// enforced.
	HonorsLease bool
	// Resume lets the session survive a transport failure by reconnecting
	// and replaying the frames the server has not acknowledged
	Resume bool
	// ResumeRetryInterval is the pause between reconnection attempts.
	// Defaults to 1s
	ResumeRetryInterval Duration
	// ResumeTimeout bounds a single reconnection attempt including the wait
	// for RESUME_OK.
	// Defaults to 5s
	ResumeTimeout Duration
	// ResumeCacheTTL drops cached frames older than this even if they were
	// never acknowledged. Zero keeps them until acknowledged
	ResumeCacheTTL Duration
	// ResumeCachePath keeps the resume cache in a bbolt database at this path
	// instead of memory
	ResumeCachePath string
	// RxRate and TxRate cap the bytes per second read from and written to
	// the transport. Zero means unlimited
	RxRate int64
	TxRate int64
	// Workers is the number of handlers that may run at once for requests
	// opened by the server.
	// Defaults to 16
	Workers int
	// TCPKeepAlive is the interval between TCP keepalive probes under `tcp`.
	// Defaults to -1, which means no TCP keepalive is ever sent
	TCPKeepAlive Duration
	// Username and Password are sent as simple authentication in the
	// composite metadata of SETUP when Username is set
	Username string
	Password string
}

// ConnConfig is a processed Config ready to Dial
type ConnConfig struct {
	Multiplex      multiplex.Config
	TransportMaker func() transport.Transport
	// CacheMaker opens the resume cache. Nil uses an in-memory cache.
	CacheMaker func() (multiplex.SendCache, error)
	Workers    int64
}

// ParseConfig reads a TOML configuration file
func ParseConfig(path string) (config Config, err error) {
	if _, err = toml.DecodeFile(path, &config); err != nil {
		return config, errors.Wrapf(err, "failed to parse config file %v", path)
	}
	return config, nil
}

func (raw *Config) Process(worldState common.WorldState) (cc ConnConfig, err error) {
	if raw.RemoteAddr == "" {
		err = fmt.Errorf("RemoteAddr cannot be empty")
		return
	}

	switch strings.ToLower(raw.Transport) {
	case "tcp", "":
		if _, _, err = net.SplitHostPort(raw.RemoteAddr); err != nil {
			err = errors.Wrap(err, "invalid RemoteAddr")
			return
		}
		keepAlive := time.Duration(-1)
		if raw.TCPKeepAlive.Duration > 0 {
			keepAlive = raw.TCPKeepAlive.Duration
		}
		addr := raw.RemoteAddr
		cc.TransportMaker = func() transport.Transport {
			return transport.NewTCP(addr, &net.Dialer{KeepAlive: keepAlive})
		}
	case "websocket", "ws":
		var u *url.URL
		u, err = url.Parse(raw.RemoteAddr)
		if err != nil {
			err = errors.Wrap(err, "invalid RemoteAddr")
			return
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			err = fmt.Errorf("unknown websocket scheme %v", u.Scheme)
			return
		}
		addr := u.String()
		cc.TransportMaker = func() transport.Transport {
			return transport.NewWebSocket(addr, nil)
		}
	default:
		err = fmt.Errorf("unknown transport %v", raw.Transport)
		return
	}

	if raw.RxRate < 0 || raw.TxRate < 0 {
		err = fmt.Errorf("rates cannot be negative")
		return
	}
	valve := multiplex.UnlimitedValve()
	if raw.RxRate > 0 {
		valve.SetRxRate(raw.RxRate)
	}
	if raw.TxRate > 0 {
		valve.SetTxRate(raw.TxRate)
	}

	cc.Multiplex = multiplex.Config{
		Role:              multiplex.RoleClient,
		KeepaliveInterval: raw.KeepaliveInterval.Duration,
		MaxLifetime:       raw.MaxLifetime.Duration,
		SetupTimeout:      raw.SetupTimeout.Duration,
		MetadataMimeType:  raw.MetadataMimeType,
		DataMimeType:      raw.DataMimeType,
		HonorsLease:       raw.HonorsLease,
		Valve:             valve,
		WorldState:        worldState,
		Resume: multiplex.ResumeConfig{
			Enabled:       raw.Resume,
			RetryInterval: raw.ResumeRetryInterval.Duration,
			Timeout:       raw.ResumeTimeout.Duration,
			CacheTTL:      raw.ResumeCacheTTL.Duration,
		},
	}
	if raw.Username != "" {
		var auth []byte
		auth, err = extension.EncodeSimple(raw.Username, []byte(raw.Password))
		if err != nil {
			return
		}
		cc.Multiplex.SetupMetadata, err = extension.EncodeComposite(extension.Entry{MimeType: extension.MimeTypeAuthentication, Payload: auth})
		if err != nil {
			return
		}
		if cc.Multiplex.MetadataMimeType == "" {
			cc.Multiplex.MetadataMimeType = extension.MimeTypeCompositeMetadata
		}
	}
	cc.Multiplex.SetDefaultIfNotDefined()
	if cc.Multiplex.KeepaliveInterval > cc.Multiplex.MaxLifetime {
		err = fmt.Errorf("KeepaliveInterval %v exceeds MaxLifetime %v", cc.Multiplex.KeepaliveInterval, cc.Multiplex.MaxLifetime)
		return
	}

	if raw.Resume && raw.ResumeCachePath != "" {
		path := raw.ResumeCachePath
		cc.CacheMaker = func() (multiplex.SendCache, error) {
			return multiplex.OpenBoltSendCache(path)
		}
	}

	if raw.Workers <= 0 {
		cc.Workers = 16
	} else {
		cc.Workers = int64(raw.Workers)
	}
	return
}

// ServerConfig contains the configuration parameter fields for rs-server
type ServerConfig struct {
	// BindAddr lists the host:port pairs to accept TCP connections on
	BindAddr []string
	// WebSocketAddr, when set, serves RSocket over WebSocket on WebSocketPath.
	// WebSocketPath defaults to /
	WebSocketAddr string
	WebSocketPath string
	// AdminAddr, when set, serves the session admin API
	AdminAddr string
	// Users maps usernames to bcrypt password hashes. When not empty every
	// client must authenticate in its SETUP
	Users map[string]string

	SetupTimeout Duration
	RxRate       int64
	TxRate       int64
	Workers      int
}

func ParseServerConfig(path string) (config ServerConfig, err error) {
	if _, err = toml.DecodeFile(path, &config); err != nil {
		return config, errors.Wrapf(err, "failed to parse config file %v", path)
	}
	return config, nil
}

// Process builds a Server running responder
func (raw *ServerConfig) Process(responder Responder, worldState common.WorldState) (*Server, error) {
	if len(raw.BindAddr) == 0 && raw.WebSocketAddr == "" {
		return nil, fmt.Errorf("neither BindAddr nor WebSocketAddr is set")
	}
	if raw.RxRate < 0 || raw.TxRate < 0 {
		return nil, fmt.Errorf("rates cannot be negative")
	}
	if raw.WebSocketPath == "" {
		raw.WebSocketPath = "/"
	}
	s := &Server{
		Responder: responder,
		Config: multiplex.Config{
			SetupTimeout: raw.SetupTimeout.Duration,
			WorldState:   worldState,
		},
		Workers: int64(raw.Workers),
		RxRate:  raw.RxRate,
		TxRate:  raw.TxRate,
	}
	if len(raw.Users) > 0 {
		s.Credentials = extension.Credentials{}
		for user, hash := range raw.Users {
			if err := s.Credentials.AddHash(user, []byte(hash)); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}
