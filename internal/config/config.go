// Package config loads harness settings from defaults, an optional config file, PARITY_*
// environment variables and command line flags, in increasing order of precedence.
package config

import (
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/parity"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Report formats accepted by Report.Format.
const (
	FormatText  = "text"
	FormatCBOR  = "cbor"
	FormatArrow = "arrow"
)

type Config struct {
	Harness   HarnessConfig   `mapstructure:"harness"`
	Device    DeviceConfig    `mapstructure:"device"`
	Tolerance ToleranceConfig `mapstructure:"tolerance"`
	Report    ReportConfig    `mapstructure:"report"`
	Server    ServerConfig    `mapstructure:"server"`
	LogLevel  string          `mapstructure:"log_level"`
	Otel      bool            `mapstructure:"otel"`
}

type HarnessConfig struct {
	Reference        string   `mapstructure:"reference"`
	Target           string   `mapstructure:"target"`
	Seed             uint64   `mapstructure:"seed"`
	Parallelism      int      `mapstructure:"parallelism"`
	Suites           []string `mapstructure:"suites"`
	FailFast         bool     `mapstructure:"fail_fast"`
	AllowUnsupported bool     `mapstructure:"allow_unsupported"`
}

// DeviceConfig applies to the target device. The reference device only takes Workers.
type DeviceConfig struct {
	Workers           int      `mapstructure:"workers"`
	FuseNormalization bool     `mapstructure:"fuse_normalization"`
	Unsupported       []string `mapstructure:"unsupported"`
}

// ToleranceConfig overrides forward and gradient bounds. Atol and Rtol, when positive, apply
// to every float kind; Kinds and Grad are keyed by kind name and win over them.
type ToleranceConfig struct {
	Atol  float64                     `mapstructure:"atol"`
	Rtol  float64                     `mapstructure:"rtol"`
	Kinds map[string]parity.Tolerance `mapstructure:"kinds"`
	Grad  map[string]parity.Tolerance `mapstructure:"grad"`
}

type ReportConfig struct {
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FlightAddr string `mapstructure:"flight_addr"`
	Dataset    string `mapstructure:"dataset"`
}

type ServerConfig struct {
	ListenAddr    string `mapstructure:"listen_addr"`
	CollectorAddr string `mapstructure:"collector_addr"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
	CacheEntries  int    `mapstructure:"cache_entries"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Harness: HarnessConfig{
			Reference:   device.CPUName,
			Target:      device.AccelName,
			Seed:        1,
			Parallelism: 4,
		},
		Report: ReportConfig{
			Format:  FormatText,
			Dataset: "parity_results",
		},
		Server: ServerConfig{
			ListenAddr:    ":8080",
			MaxConcurrent: 2,
			CacheEntries:  4096,
		},
		LogLevel: "info",
	}
}

// keys maps every flag to its config key.
var keys = []struct{ flag, key string }{
	{"reference", "harness.reference"},
	{"target", "harness.target"},
	{"seed", "harness.seed"},
	{"parallelism", "harness.parallelism"},
	{"suites", "harness.suites"},
	{"fail-fast", "harness.fail_fast"},
	{"allow-unsupported", "harness.allow_unsupported"},
	{"device-workers", "device.workers"},
	{"device-fuse-normalization", "device.fuse_normalization"},
	{"device-unsupported", "device.unsupported"},
	{"tolerance-atol", "tolerance.atol"},
	{"tolerance-rtol", "tolerance.rtol"},
	{"report-format", "report.format"},
	{"report-output", "report.output"},
	{"report-flight-addr", "report.flight_addr"},
	{"report-dataset", "report.dataset"},
	{"server-listen-addr", "server.listen_addr"},
	{"server-collector-addr", "server.collector_addr"},
	{"server-max-concurrent", "server.max_concurrent"},
	{"server-cache-entries", "server.cache_entries"},
	{"log-level", "log_level"},
	{"otel", "otel"},
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("reference", defaults.Harness.Reference, "Reference device id")
	fs.String("target", defaults.Harness.Target, "Target device id")
	fs.Uint64("seed", defaults.Harness.Seed, "Base seed for operand synthesis")
	fs.Int("parallelism", defaults.Harness.Parallelism, "Cases of a suite run concurrently")
	fs.StringSlice("suites", defaults.Harness.Suites, "Suites to run (default all)")
	fs.Bool("fail-fast", defaults.Harness.FailFast, "Stop a suite at its first failing case")
	fs.Bool("allow-unsupported", defaults.Harness.AllowUnsupported, "Do not fail the run on unsupported target kernels")
	fs.Int("device-workers", defaults.Device.Workers, "Kernel worker goroutines per device (0 = NumCPU)")
	fs.Bool("device-fuse-normalization", defaults.Device.FuseNormalization, "Enable fused normalization kernels on the target")
	fs.StringSlice("device-unsupported", defaults.Device.Unsupported, "Target kernels to withhold, as op or op:kind")
	fs.Float64("tolerance-atol", defaults.Tolerance.Atol, "Absolute tolerance for every float kind (0 = suite default)")
	fs.Float64("tolerance-rtol", defaults.Tolerance.Rtol, "Relative tolerance for every float kind (0 = suite default)")
	fs.String("report-format", defaults.Report.Format, "Report format: text, cbor or arrow")
	fs.String("report-output", defaults.Report.Output, "Report file (default stdout)")
	fs.String("report-flight-addr", defaults.Report.FlightAddr, "Arrow Flight collector to upload results to")
	fs.String("report-dataset", defaults.Report.Dataset, "Flight dataset path for uploaded results")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.String("server-collector-addr", defaults.Server.CollectorAddr, "Arrow Flight collector listen address (empty disables)")
	fs.Int("server-max-concurrent", defaults.Server.MaxConcurrent, "Concurrent /run requests")
	fs.Int("server-cache-entries", defaults.Server.CacheEntries, "Reference outputs kept across /run requests")
	fs.String("log-level", defaults.LogLevel, "Log level: debug, info, warn, error")
	fs.Bool("otel", defaults.Otel, "Export traces to stdout")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		fs := opts.Cmd.Flags()
		for _, k := range keys {
			f := fs.Lookup(k.flag)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(k.key, f); err != nil {
				return Config{}, errors.Wrapf(err, "bind flag %s", k.flag)
			}
		}
	}

	v.SetEnvPrefix("PARITY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "read config file")
		}
	} else {
		v.SetConfigName("parity")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, errors.Wrap(err, "read config file")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("harness.reference", c.Harness.Reference)
	v.SetDefault("harness.target", c.Harness.Target)
	v.SetDefault("harness.seed", c.Harness.Seed)
	v.SetDefault("harness.parallelism", c.Harness.Parallelism)
	v.SetDefault("harness.suites", c.Harness.Suites)
	v.SetDefault("harness.fail_fast", c.Harness.FailFast)
	v.SetDefault("harness.allow_unsupported", c.Harness.AllowUnsupported)
	v.SetDefault("device.workers", c.Device.Workers)
	v.SetDefault("device.fuse_normalization", c.Device.FuseNormalization)
	v.SetDefault("device.unsupported", c.Device.Unsupported)
	v.SetDefault("tolerance.atol", c.Tolerance.Atol)
	v.SetDefault("tolerance.rtol", c.Tolerance.Rtol)
	v.SetDefault("report.format", c.Report.Format)
	v.SetDefault("report.output", c.Report.Output)
	v.SetDefault("report.flight_addr", c.Report.FlightAddr)
	v.SetDefault("report.dataset", c.Report.Dataset)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.collector_addr", c.Server.CollectorAddr)
	v.SetDefault("server.max_concurrent", c.Server.MaxConcurrent)
	v.SetDefault("server.cache_entries", c.Server.CacheEntries)
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("otel", c.Otel)
}

// Validate checks values the harness would otherwise reject late.
func (c Config) Validate() error {
	if c.Harness.Reference == "" || c.Harness.Target == "" {
		return errors.New("reference and target devices are required")
	}
	if c.Harness.Parallelism < 1 {
		return errors.Errorf("parallelism must be positive, got %d", c.Harness.Parallelism)
	}
	if !slices.Contains([]string{FormatText, FormatCBOR, FormatArrow}, c.Report.Format) {
		return errors.Errorf("unknown report format %q", c.Report.Format)
	}
	if c.Server.MaxConcurrent < 1 {
		return errors.Errorf("server max_concurrent must be positive, got %d", c.Server.MaxConcurrent)
	}
	if c.Server.CacheEntries < 1 {
		return errors.Errorf("server cache_entries must be positive, got %d", c.Server.CacheEntries)
	}
	if c.Tolerance.Atol < 0 || c.Tolerance.Rtol < 0 {
		return errors.New("tolerances must not be negative")
	}
	if _, err := toleranceSpec(c.Tolerance.Kinds); err != nil {
		return err
	}
	_, err := toleranceSpec(c.Tolerance.Grad)
	return err
}

// Parity converts c to the immutable harness configuration.
func (c Config) Parity() (parity.Config, error) {
	forward, err := toleranceSpec(c.Tolerance.Kinds)
	if err != nil {
		return parity.Config{}, err
	}
	grad, err := toleranceSpec(c.Tolerance.Grad)
	if err != nil {
		return parity.Config{}, err
	}
	if c.Tolerance.Atol > 0 || c.Tolerance.Rtol > 0 {
		uniform := parity.UniformTolerance(c.Tolerance.Atol, c.Tolerance.Rtol)
		forward = uniform.Merge(forward)
		grad = uniform.Merge(grad)
	}

	return parity.Config{
		Reference:       c.Harness.Reference,
		Target:          c.Harness.Target,
		ReferenceDevice: device.Config{Workers: c.Device.Workers},
		TargetDevice: device.Config{
			Workers:           c.Device.Workers,
			FuseNormalization: c.Device.FuseNormalization,
			Unsupported:       slices.Clone(c.Device.Unsupported),
		},
		Seed:          c.Harness.Seed,
		Tolerance:     forward,
		GradTolerance: grad,
		Parallelism:   c.Harness.Parallelism,
		FailFast:      c.Harness.FailFast,
	}, nil
}

func toleranceSpec(m map[string]parity.Tolerance) (parity.ToleranceSpec, error) {
	if len(m) == 0 {
		return nil, nil
	}
	spec := parity.ToleranceSpec{}
	for name, t := range m {
		kind, err := tensor.ParseKind(name)
		if err != nil {
			return nil, errors.Wrapf(err, "tolerance for %q", name)
		}
		if !kind.IsFloat() {
			return nil, errors.Errorf("tolerance for %q: integer kinds compare exactly", name)
		}
		if t.Atol < 0 || t.Rtol < 0 {
			return nil, errors.Errorf("tolerance for %q must not be negative", name)
		}
		spec[kind] = t
	}
	return spec, nil
}
