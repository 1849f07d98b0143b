// Package config loads node settings from flags, falling back to environment
// variables, and also accepts the short positional form
//
//	node <port> <node id> <topology file>
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
	"github.com/ryandielhenn/zephyrmesh/pkg/transport"
)

type Config struct {
	SelfID int
	// SelfAddr overrides the address the node advertises; by default it is
	// taken from the topology.
	SelfAddr string
	// ListenAddr overrides the bind address; by default every interface on
	// the advertised port.
	ListenAddr   string
	TopologyFile string
	Transport    string

	SendTimeout     time.Duration
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMaxElapsed time.Duration
	Linger          time.Duration

	MaxPacket int
	IOTimeout time.Duration

	MetricsAddr   string
	EtcdEndpoints []string
	EtcdPrefix    string
	// Publish writes the topology file into etcd before starting.
	Publish bool

	LogLevel string
	LogDev   bool
}

// UsesEtcd reports whether an etcd cluster was configured.
func (c Config) UsesEtcd() bool { return len(c.EtcdEndpoints) > 0 }

// Load parses args (without the program name). getenv supplies defaults for
// every flag; pass os.Getenv.
func Load(args []string, getenv func(string) string) (Config, error) {
	var c Config
	// Bad env values only matter when the flag they default is not given.
	envErrs := make(map[string]error)
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	envInt := func(name, key string, def int) int {
		v := env(key, "")
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			envErrs[name] = fmt.Errorf("%s: %w", key, err)
			return def
		}
		return n
	}
	envDuration := func(name, key string, def time.Duration) time.Duration {
		v := env(key, "")
		if v == "" {
			return def
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			envErrs[name] = fmt.Errorf("%s: %w", key, err)
			return def
		}
		return d
	}
	envBool := func(name, key string) bool {
		b, err := strconv.ParseBool(env(key, "false"))
		if err != nil {
			envErrs[name] = fmt.Errorf("%s: %w", key, err)
		}
		return b
	}

	fs := flag.NewFlagSet("node", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&c.SelfID, "id", envInt("id", "SELF_ID", -1), "node id (SELF_ID)")
	fs.StringVar(&c.SelfAddr, "addr", env("SELF_ADDR", ""), "advertised host:port (SELF_ADDR)")
	fs.StringVar(&c.ListenAddr, "listen", env("LISTEN_ADDR", ""), "bind address (LISTEN_ADDR)")
	fs.StringVar(&c.TopologyFile, "topology", env("TOPOLOGY_FILE", ""), "topology file (TOPOLOGY_FILE)")
	fs.StringVar(&c.Transport, "transport", env("TRANSPORT", transport.KindUDP), "udp, tcp or http (TRANSPORT)")
	fs.DurationVar(&c.SendTimeout, "send-timeout", envDuration("send-timeout", "SEND_TIMEOUT", gossip.DefaultSendTimeout), "one delivery attempt (SEND_TIMEOUT)")
	fs.DurationVar(&c.RetryInitial, "retry-initial", envDuration("retry-initial", "RETRY_INITIAL", gossip.DefaultRetryInitial), "first retry backoff (RETRY_INITIAL)")
	fs.DurationVar(&c.RetryMax, "retry-max", envDuration("retry-max", "RETRY_MAX", gossip.DefaultRetryMax), "largest retry backoff (RETRY_MAX)")
	fs.DurationVar(&c.RetryMaxElapsed, "retry-max-elapsed", envDuration("retry-max-elapsed", "RETRY_MAX_ELAPSED", 0), "give up on a neighbor after this long, 0 never (RETRY_MAX_ELAPSED)")
	fs.DurationVar(&c.Linger, "linger", envDuration("linger", "LINGER", time.Second), "keep acknowledging after shutdown (LINGER)")
	fs.IntVar(&c.MaxPacket, "max-packet", envInt("max-packet", "MAX_PACKET", transport.DefaultMaxPacket), "largest udp datagram or http body in bytes (MAX_PACKET)")
	fs.DurationVar(&c.IOTimeout, "io-timeout", envDuration("io-timeout", "IO_TIMEOUT", transport.DefaultIOTimeout), "server side bound on one exchange (IO_TIMEOUT)")
	fs.StringVar(&c.MetricsAddr, "metrics", env("METRICS_ADDR", ""), "admin and metrics listen address (METRICS_ADDR)")
	endpoints := fs.String("etcd", env("ETCD_ENDPOINTS", ""), "comma separated etcd endpoints (ETCD_ENDPOINTS)")
	fs.StringVar(&c.EtcdPrefix, "etcd-prefix", env("ETCD_PREFIX", "/zephyrmesh"), "etcd key prefix (ETCD_PREFIX)")
	fs.BoolVar(&c.Publish, "publish", envBool("publish", "ETCD_PUBLISH"), "publish the topology file to etcd (ETCD_PUBLISH)")
	fs.StringVar(&c.LogLevel, "log-level", env("LOG_LEVEL", "info"), "log level (LOG_LEVEL)")
	fs.BoolVar(&c.LogDev, "log-dev", envBool("log-dev", "LOG_DEV"), "console logging (LOG_DEV)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	fs.Visit(func(f *flag.Flag) { delete(envErrs, f.Name) })

	switch fs.NArg() {
	case 0:
	case 3:
		port, err := strconv.Atoi(fs.Arg(0))
		if err != nil || port < 1 || port > 65535 {
			return Config{}, fmt.Errorf("invalid port %q", fs.Arg(0))
		}
		id, err := strconv.Atoi(fs.Arg(1))
		if err != nil {
			return Config{}, fmt.Errorf("invalid node id %q", fs.Arg(1))
		}
		c.ListenAddr = ":" + fs.Arg(0)
		c.SelfID = id
		c.TopologyFile = fs.Arg(2)
		delete(envErrs, "id")
	default:
		return Config{}, errors.New("usage: node [flags] [<port> <node id> <topology file>]")
	}
	if len(envErrs) > 0 {
		var errs error
		for _, name := range slices.Sorted(maps.Keys(envErrs)) {
			errs = multierr.Append(errs, envErrs[name])
		}
		return Config{}, errs
	}

	for _, ep := range strings.Split(*endpoints, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			c.EtcdEndpoints = append(c.EtcdEndpoints, ep)
		}
	}
	c.Transport = strings.ToLower(c.Transport)
	return c, c.Validate()
}

// TransportOptions maps the I/O limits onto transport options.
func (c Config) TransportOptions() []transport.Option {
	return []transport.Option{
		transport.WithMaxPacket(c.MaxPacket),
		transport.WithIOTimeout(c.IOTimeout),
	}
}

// BroadcastConfig maps the retry settings onto the broadcaster.
func (c Config) BroadcastConfig() gossip.BroadcastConfig {
	return gossip.BroadcastConfig{
		SendTimeout:     c.SendTimeout,
		RetryInitial:    c.RetryInitial,
		RetryMax:        c.RetryMax,
		RetryMaxElapsed: c.RetryMaxElapsed,
	}
}

func (c Config) Validate() error {
	var errs error
	if c.SelfID < 0 {
		errs = multierr.Append(errs, errors.New("node id is required"))
	}
	if c.TopologyFile == "" && !c.UsesEtcd() {
		errs = multierr.Append(errs, errors.New("a topology file or etcd endpoints are required"))
	}
	if c.Publish && (c.TopologyFile == "" || !c.UsesEtcd()) {
		errs = multierr.Append(errs, errors.New("publishing needs both a topology file and etcd endpoints"))
	}
	switch c.Transport {
	case transport.KindUDP, transport.KindTCP, transport.KindHTTP:
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if c.SendTimeout <= 0 {
		errs = multierr.Append(errs, errors.New("send timeout must be positive"))
	}
	if c.RetryInitial <= 0 || c.RetryMax < c.RetryInitial {
		errs = multierr.Append(errs, errors.New("retry backoff must satisfy 0 < initial <= max"))
	}
	if c.MaxPacket <= 0 {
		errs = multierr.Append(errs, errors.New("max packet must be positive"))
	}
	if c.IOTimeout <= 0 {
		errs = multierr.Append(errs, errors.New("io timeout must be positive"))
	}
	if c.RetryMaxElapsed < 0 {
		errs = multierr.Append(errs, errors.New("retry max elapsed must not be negative"))
	}
	return errs
}
