package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"smartroute/pkg/types"
	"smartroute/pkg/utils"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server          *ServerConfig              `yaml:"server"`
	ExchangeConfigs map[string]*ExchangeConfig `yaml:"exchange"`
	Routing         *RoutingConfig             `yaml:"routing"`
	Logging         *LoggingConfig             `yaml:"logging"`
	Journal         *JournalConfig             `yaml:"journal"`
}

type ServerConfig struct {
	HttpAddr string `yaml:"httpAddr"`
	WsAddr   string `yaml:"wsAddr"`
}

type ExchangeConfig struct {
	ExchangeName      types.ExchangeName `yaml:"exchange"`
	EnvPrefix         string             `yaml:"envPrefix"`
	ApiUrl            string             `yaml:"apiUrl"` // optional REST base url override
	WsUrl             string             `yaml:"wsUrl"`  // optional stream base url override
	DepthLimit        int                `yaml:"depthLimit"`
	RequestsPerSecond float64            `yaml:"requestsPerSecond"`
	Burst             int                `yaml:"burst"`
	Fixture           string             `yaml:"fixture"` // dummy exchange: JSON market/book seed file
}

type RoutingConfig struct {
	Exchange       string        `yaml:"exchange"` // exchange id used for routing
	Bridges        []string      `yaml:"bridges"`
	FiatAsset      string        `yaml:"fiatAsset"`
	SellFeeRate    float64       `yaml:"sellFeeRate"`
	BuyFeeRate     float64       `yaml:"buyFeeRate"`
	Debounce       time.Duration `yaml:"debounce"`
	MaxConcurrency int           `yaml:"maxConcurrency"`
	SmartRouting   *bool         `yaml:"smartRouting"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text | json
	Output     string `yaml:"output"` // file path; stdout when empty
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
	Prefix  string `yaml:"prefix"`
}

const (
	DefaultHttpAddr       = ":3000"
	DefaultWsAddr         = ":3001"
	DefaultDepthLimit     = 100
	DefaultRequestsPerSec = 10
	DefaultFiatAsset      = "USDT"
	DefaultFeeRate        = 0.001
	DefaultDebounce       = 400 * time.Millisecond
	DefaultMaxConcurrency = 8
	DefaultJournalRegion  = "ap-southeast-1"
)

var DefaultBridges = []string{"BTC", "ETH", "BNB", "USDT"}

func LoadConfig(envName types.EnvName) (*Config, error) {
	yamlFiles := map[types.EnvName]string{
		types.EnvLocal: "smartroute.yaml",
		types.EnvDev:   "smartroute.dev.yaml",
		types.EnvProd:  "smartroute.prod.yaml",
	}
	return LoadConfigFile(yamlFiles[envName])
}

// LoadConfigFile reads, defaults and validates a YAML config file.
func LoadConfigFile(fileName string) (*Config, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("fail to load config file '%s': %w", fileName, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("fail to decode config: %w", err)
	}
	config.ApplyDefaults()
	config.ApplyEnvOverrides()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) ApplyDefaults() {
	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.HttpAddr == "" {
		c.Server.HttpAddr = DefaultHttpAddr
	}
	if c.Server.WsAddr == "" {
		c.Server.WsAddr = DefaultWsAddr
	}

	for _, e := range c.ExchangeConfigs {
		if e == nil {
			continue
		}
		if e.DepthLimit == 0 {
			e.DepthLimit = DefaultDepthLimit
		}
		if e.RequestsPerSecond == 0 {
			e.RequestsPerSecond = DefaultRequestsPerSec
		}
		if e.Burst == 0 {
			e.Burst = int(e.RequestsPerSecond)
			if e.Burst < 1 {
				e.Burst = 1
			}
		}
	}

	if c.Routing == nil {
		c.Routing = &RoutingConfig{}
	}
	r := c.Routing
	if r.Exchange == "" && len(c.ExchangeConfigs) == 1 {
		for id := range c.ExchangeConfigs {
			r.Exchange = id
		}
	}
	if len(r.Bridges) == 0 {
		r.Bridges = append([]string(nil), DefaultBridges...)
	}
	if r.FiatAsset == "" {
		r.FiatAsset = DefaultFiatAsset
	}
	if r.SellFeeRate == 0 {
		r.SellFeeRate = DefaultFeeRate
	}
	if r.BuyFeeRate == 0 {
		r.BuyFeeRate = DefaultFeeRate
	}
	if r.Debounce == 0 {
		r.Debounce = DefaultDebounce
	}
	if r.MaxConcurrency == 0 {
		r.MaxConcurrency = DefaultMaxConcurrency
	}
	if r.SmartRouting == nil {
		enabled := true
		r.SmartRouting = &enabled
	}

	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 7
	}

	if c.Journal == nil {
		c.Journal = &JournalConfig{}
	}
	if c.Journal.Region == "" {
		c.Journal.Region = DefaultJournalRegion
	}
}

// ApplyEnvOverrides lets deployments tune routing and the journal without
// editing the YAML file.
func (c *Config) ApplyEnvOverrides() {
	r := c.Routing
	r.MaxConcurrency = utils.LoadIntEnvWithDefault("SMARTROUTE_MAX_CONCURRENCY", r.MaxConcurrency)
	if ms := utils.LoadIntEnvWithDefault("SMARTROUTE_DEBOUNCE_MS", -1); ms >= 0 {
		r.Debounce = time.Duration(ms) * time.Millisecond
	}
	smart := utils.LoadBoolEnvWithDefault("SMARTROUTE_SMART_ROUTING", r.SmartRoutingEnabled())
	r.SmartRouting = &smart
	c.Journal.Enabled = utils.LoadBoolEnvWithDefault("SMARTROUTE_JOURNAL", c.Journal.Enabled)
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.ExchangeConfigs) == 0 {
		errs = append(errs, errors.New("no exchange configured"))
	}
	for id, e := range c.ExchangeConfigs {
		if e == nil || e.ExchangeName == "" {
			errs = append(errs, fmt.Errorf("exchange '%s': missing exchange name", id))
			continue
		}
		if e.RequestsPerSecond < 0 || e.Burst < 0 || e.DepthLimit < 0 {
			errs = append(errs, fmt.Errorf("exchange '%s': negative limits", id))
		}
	}
	if _, ok := c.ExchangeConfigs[c.Routing.Exchange]; !ok && len(c.ExchangeConfigs) > 0 {
		errs = append(errs, fmt.Errorf("routing.exchange '%s' is not a configured exchange", c.Routing.Exchange))
	}
	if c.Routing.SellFeeRate < 0 || c.Routing.SellFeeRate >= 1 || c.Routing.BuyFeeRate < 0 || c.Routing.BuyFeeRate >= 1 {
		errs = append(errs, errors.New("routing fee rates must be in [0, 1)"))
	}
	if c.Routing.Debounce < 0 {
		errs = append(errs, errors.New("routing.debounce must not be negative"))
	}
	if c.Routing.MaxConcurrency < 0 {
		errs = append(errs, errors.New("routing.maxConcurrency must not be negative"))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format '%s' must be text or json", c.Logging.Format))
	}
	if c.Journal.Enabled && c.Journal.Bucket == "" {
		errs = append(errs, errors.New("journal.bucket is required when the journal is enabled"))
	}
	return errors.Join(errs...)
}

// SmartRoutingEnabled reports whether size changes trigger a full bridge ranking.
func (r *RoutingConfig) SmartRoutingEnabled() bool {
	return r.SmartRouting == nil || *r.SmartRouting
}
