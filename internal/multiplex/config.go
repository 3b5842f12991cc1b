package multiplex

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/rsockets2/rsockets2/internal/common"
	"github.com/rsockets2/rsockets2/internal/frame"
)

type Role int

const (
	// RoleClient opens the connection with SETUP and allocates odd stream ids
	RoleClient Role = iota
	// RoleServer accepts a SETUP and allocates even stream ids
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

const (
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultMaxLifetime       = 100 * time.Second
	DefaultSetupTimeout      = 5 * time.Second
	DefaultMimeType          = "application/octet-stream"
	DefaultResumeRetry       = time.Second
	DefaultResumeTimeout     = 5 * time.Second
	// MinInterval is the floor for KeepaliveInterval and Resume.CacheTTL
	MinInterval = time.Millisecond

	MajorVersion = 1
	MinorVersion = 0
)

type ResumeConfig struct {
	Enabled bool
	// RetryInterval is the pause between two failed resume attempts
	RetryInterval time.Duration
	// Timeout bounds both reconnecting and waiting for RESUME_OK
	Timeout time.Duration
	// CacheTTL ages out cached frames regardless of acknowledgement. Zero
	// keeps them until the peer acknowledges.
	CacheTTL time.Duration
	// Cache defaults to a MemorySendCache
	Cache SendCache
}

type Config struct {
	Role Role

	// For a server these are replaced by the values in the peer's SETUP
	KeepaliveInterval time.Duration
	MaxLifetime       time.Duration
	MetadataMimeType  string
	DataMimeType      string
	HonorsLease       bool

	// Sent with SETUP by a client
	SetupMetadata []byte
	SetupData     []byte

	SetupTimeout time.Duration

	// AcceptSetup lets a server refuse a SETUP it otherwise understands. The
	// peer receives REJECTED_SETUP carrying the returned error.
	AcceptSetup func(*frame.Setup) error

	Resume ResumeConfig

	// Valve is used to limit transmission rates and record usage
	Valve *Valve

	MeterProvider metric.MeterProvider

	WorldState common.WorldState

	MaxPendingFragments int
	MaxFragmentedSize   int
}

func (c *Config) SetDefaultIfNotDefined() {
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	} else if c.KeepaliveInterval < MinInterval {
		c.KeepaliveInterval = MinInterval
	}
	if c.Resume.CacheTTL > 0 && c.Resume.CacheTTL < MinInterval {
		c.Resume.CacheTTL = MinInterval
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = DefaultMaxLifetime
	}
	if c.MetadataMimeType == "" {
		c.MetadataMimeType = DefaultMimeType
	}
	if c.DataMimeType == "" {
		c.DataMimeType = DefaultMimeType
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = DefaultSetupTimeout
	}
	if c.Resume.RetryInterval <= 0 {
		c.Resume.RetryInterval = DefaultResumeRetry
	}
	if c.Resume.Timeout <= 0 {
		c.Resume.Timeout = DefaultResumeTimeout
	}
	if c.Resume.Enabled && c.Resume.Cache == nil {
		c.Resume.Cache = NewMemorySendCache()
	}
	if c.Valve == nil {
		c.Valve = UnlimitedValve()
	}
	if c.MeterProvider == nil {
		c.MeterProvider = otel.GetMeterProvider()
	}
	if c.WorldState.Rand == nil || c.WorldState.Now == nil {
		c.WorldState = common.RealWorldState
	}
}
