package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/InsulaLabs/nodekeeper/chain"
	"github.com/InsulaLabs/nodekeeper/home"
	"github.com/fatih/color"
)

const (
	ChainDataDirName = "chain_data"
	LogFileName      = "node-server.log"
)

type Pool struct {
	AcceptFeeBase     uint64  `toml:"accept_fee_base"`
	ReorgCachePeriod  int     `toml:"reorg_cache_period"` // minutes
	MaxPoolSize       int     `toml:"max_pool_size"`
	MaxStemSlots      int     `toml:"max_stem_slots"`
	MineableMaxWeight uint64  `toml:"mineable_max_weight"`
	AcceptRateLimit   float64 `toml:"accept_rate_limit"` // transactions per second
	AcceptBurst       int     `toml:"accept_burst"`
}

type P2P struct {
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Seeds           []string `toml:"seeds"`
	PeerMaxInbound  int      `toml:"peer_max_inbound"`
	PeerMaxOutbound int      `toml:"peer_max_outbound"`
}

type Server struct {
	ChainType            chain.Type `toml:"chain_type"`
	DBRoot               string     `toml:"db_root"`
	APIHTTPAddr          string     `toml:"api_http_addr"`
	APISecretPath        string     `toml:"api_secret_path"`
	ForeignAPISecretPath string     `toml:"foreign_api_secret_path"`
	FutureTimeLimit      uint64     `toml:"future_time_limit"` // seconds
	Pool                 Pool       `toml:"pool"`
	P2P                  P2P        `toml:"p2p"`
}

type Logging struct {
	LogToStdout    bool   `toml:"log_to_stdout"`
	StdoutLogLevel string `toml:"stdout_log_level"`
	LogToFile      bool   `toml:"log_to_file"`
	FileLogLevel   string `toml:"file_log_level"`
	LogFilePath    string `toml:"log_file_path"`
	LogFileAppend  bool   `toml:"log_file_append"`
}

// NodeConfig is the on-disk node server configuration. Values are copied into
// a running instance; nothing holds a reference across goroutines.
type NodeConfig struct {
	Server  Server  `toml:"server"`
	Logging Logging `toml:"logging"`

	FilePath    string   `toml:"-"`
	unknownKeys []string
}

var (
	ErrConfigFileUnreadable     = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable = errors.New("config file is unmarshallable")
	ErrConfigFileUnwritable     = errors.New("config file could not be written")
	ErrDBRootMissing            = errors.New("server.db_root is missing in config")
	ErrAPIAddrMissing           = errors.New("server.api_http_addr is missing in config")
	ErrChainTypeInvalid         = errors.New("server.chain_type is not a known chain")
	ErrChainTypeMismatch        = errors.New("server.chain_type does not match the requested chain")
	ErrFutureTimeLimitInvalid   = errors.New("server.future_time_limit must be greater than zero")
	ErrAcceptFeeBaseInvalid     = errors.New("server.pool.accept_fee_base must be greater than zero and its product with mineable_max_weight must fit in 64 bits")
	ErrMineableWeightInvalid    = errors.New("server.pool.mineable_max_weight must be greater than zero")
	ErrPoolSizeInvalid          = errors.New("server.pool.max_pool_size and max_stem_slots must be greater than zero")
	ErrReorgCachePeriodInvalid  = errors.New("server.pool.reorg_cache_period must be greater than zero")
	ErrAcceptRateInvalid        = errors.New("server.pool.accept_rate_limit and accept_burst must be greater than zero")
	ErrLogLevelInvalid          = errors.New("logging level is not one of trace, debug, info, warning, error")
	ErrLogFilePathMissing       = errors.New("logging.log_file_path is required when log_to_file is set")
)

// ForChain returns the defaults for a chain. Paths are relative until
// UpdatePaths is applied.
func ForChain(ct chain.Type) *NodeConfig {
	apiPort, p2pPort := 3413, 3414
	switch ct {
	case chain.Testnet:
		apiPort, p2pPort = 13413, 13414
	case chain.UserTesting:
		apiPort, p2pPort = 23413, 23414
	case chain.AutomatedTesting:
		apiPort, p2pPort = 33413, 33414
	}

	stdoutLevel := "warning"
	if !ct.IsMainnet() {
		stdoutLevel = "info"
	}

	return &NodeConfig{
		Server: Server{
			ChainType:            ct,
			DBRoot:               ChainDataDirName,
			APIHTTPAddr:          fmt.Sprintf("127.0.0.1:%d", apiPort),
			APISecretPath:        home.APISecretFileName,
			ForeignAPISecretPath: home.ForeignAPISecretFileName,
			FutureTimeLimit:      5 * 60,
			Pool: Pool{
				AcceptFeeBase:     500_000,
				ReorgCachePeriod:  30,
				MaxPoolSize:       50_000,
				MaxStemSlots:      500,
				MineableMaxWeight: 40_000,
				AcceptRateLimit:   100.0,
				AcceptBurst:       200,
			},
			P2P: P2P{
				Host:            "0.0.0.0",
				Port:            p2pPort,
				Seeds:           []string{},
				PeerMaxInbound:  128,
				PeerMaxOutbound: 8,
			},
		},
		Logging: Logging{
			LogToStdout:    true,
			StdoutLogLevel: stdoutLevel,
			LogToFile:      true,
			FileLogLevel:   "info",
			LogFilePath:    LogFileName,
			LogFileAppend:  true,
		},
	}
}

// UpdatePaths makes every relative path in the config absolute under homeDir.
func (c *NodeConfig) UpdatePaths(homeDir string) {
	c.Server.DBRoot = filepath.Join(homeDir, ChainDataDirName)
	c.Server.APISecretPath = filepath.Join(homeDir, home.APISecretFileName)
	c.Server.ForeignAPISecretPath = filepath.Join(homeDir, home.ForeignAPISecretFileName)
	c.Logging.LogFilePath = filepath.Join(homeDir, LogFileName)
}

// UnknownKeys lists keys present in the file that no field consumed.
func (c *NodeConfig) UnknownKeys() []string {
	return c.unknownKeys
}

// Clone returns a deep copy safe to hand to another goroutine.
func (c *NodeConfig) Clone() NodeConfig {
	out := *c
	out.Server.P2P.Seeds = slices.Clone(c.Server.P2P.Seeds)
	out.unknownKeys = slices.Clone(c.unknownKeys)
	return out
}

func (c *NodeConfig) WriteToFile(configFile string) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Node server configuration for %s\n\n", c.Server.ChainType)
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfigFileUnwritable, configFile, err)
	}

	f, err := os.OpenFile(configFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfigFileUnwritable, configFile, err)
	}
	defer f.Close()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfigFileUnwritable, configFile, err)
	}
	// the file must describe exactly what is about to run
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfigFileUnwritable, configFile, err)
	}
	return nil
}

func LoadConfig(configFile string) (*NodeConfig, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigFileUnreadable, configFile, err)
	}

	var cfg NodeConfig
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigFileUnmarshallable, configFile, err)
	}
	if !md.IsDefined("server", "chain_type") {
		return nil, fmt.Errorf("%s: %w: key is missing", configFile, ErrChainTypeInvalid)
	}
	for _, k := range md.Undecoded() {
		cfg.unknownKeys = append(cfg.unknownKeys, k.String())
	}
	cfg.FilePath = configFile

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", configFile, err)
	}
	return &cfg, nil
}

func (c *NodeConfig) Validate() error {
	if !c.Server.ChainType.Valid() {
		return ErrChainTypeInvalid
	}
	if c.Server.DBRoot == "" {
		return ErrDBRootMissing
	}
	if c.Server.APIHTTPAddr == "" {
		return ErrAPIAddrMissing
	}
	if c.Server.FutureTimeLimit == 0 {
		return ErrFutureTimeLimitInvalid
	}
	if c.Server.Pool.MineableMaxWeight == 0 {
		return ErrMineableWeightInvalid
	}
	// the largest minimum fee must be representable
	if hi, _ := bits.Mul64(c.Server.Pool.AcceptFeeBase, c.Server.Pool.MineableMaxWeight); c.Server.Pool.AcceptFeeBase == 0 || hi != 0 {
		return ErrAcceptFeeBaseInvalid
	}
	if c.Server.Pool.MaxPoolSize <= 0 || c.Server.Pool.MaxStemSlots <= 0 {
		return ErrPoolSizeInvalid
	}
	if c.Server.Pool.ReorgCachePeriod <= 0 {
		return ErrReorgCachePeriodInvalid
	}
	if c.Server.Pool.AcceptRateLimit <= 0 || c.Server.Pool.AcceptBurst <= 0 {
		return ErrAcceptRateInvalid
	}
	if c.Logging.LogToStdout {
		if _, ok := lookupLevel(c.Logging.StdoutLogLevel); !ok {
			return fmt.Errorf("%w: stdout_log_level %q", ErrLogLevelInvalid, c.Logging.StdoutLogLevel)
		}
	}
	if c.Logging.LogToFile {
		if _, ok := lookupLevel(c.Logging.FileLogLevel); !ok {
			return fmt.Errorf("%w: file_log_level %q", ErrLogLevelInvalid, c.Logging.FileLogLevel)
		}
		if c.Logging.LogFilePath == "" {
			return ErrLogFilePathMissing
		}
	}
	return nil
}

// LoadOrCreate reads the server config under homeDir, writing chain defaults
// first if the file does not exist. The returned value is always what was
// read back from disk.
func LoadOrCreate(logger *slog.Logger, homeDir string, ct chain.Type) (*NodeConfig, error) {
	configFile := home.ServerConfigPath(homeDir)

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		defaults := ForChain(ct)
		defaults.UpdatePaths(homeDir)
		if err := defaults.WriteToFile(configFile); err != nil {
			return nil, err
		}
		logger.Info("Wrote default node configuration", "path", configFile, "chain", ct.String())
	} else if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigFileUnreadable, configFile, err)
	}

	cfg, err := LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if cfg.Server.ChainType != ct {
		return nil, fmt.Errorf("%w: %s holds %s, wanted %s", ErrChainTypeMismatch, configFile, cfg.Server.ChainType, ct)
	}
	for _, k := range cfg.UnknownKeys() {
		logger.Warn("Ignoring unknown configuration key", "path", configFile, "key", k)
	}
	return cfg, nil
}

const LevelTrace = slog.Level(-8)

func lookupLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return LevelTrace, true
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warning", "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// ParseLevel maps a configured level name onto slog, defaulting to info.
func ParseLevel(name string) slog.Level {
	level, ok := lookupLevel(name)
	if !ok {
		color.HiYellow("Unknown logging level: %s, defaulting to info", name)
	}
	return level
}
