package config

import "time"

// Config is the tagger configuration, loaded from fleettag.yaml and the environment.
type Config struct {
	Portal      PortalConfig    `yaml:"portal"`
	Credentials string          `yaml:"credentials"`
	Engine      EngineConfig    `yaml:"engine"`
	Fanout      FanoutConfig    `yaml:"fanout"`
	Tagger      TaggerConfig    `yaml:"tagger"`
	Paths       PathsConfig     `yaml:"paths"`
	Queries     []QueryTemplate `yaml:"queries"`
	Bus         BusConfig       `yaml:"bus"`
	S3          S3Config        `yaml:"s3"`
	Metrics     MetricsConfig   `yaml:"metrics"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

type PortalConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

type EngineConfig struct {
	Port               int           `yaml:"port"`
	Timeout            time.Duration `yaml:"timeout"`
	HumanReadable      bool          `yaml:"human_readable"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

type FanoutConfig struct {
	Workers int `yaml:"workers"`
}

type TaggerConfig struct {
	Settle            time.Duration `yaml:"settle"`
	FailOnUnreachable bool          `yaml:"fail_on_unreachable"`
}

type PathsConfig struct {
	Tags string `yaml:"tags"`
	Logs string `yaml:"logs"`
}

// QueryTemplate is the id-lookup statement for one (object type, category) pair.
type QueryTemplate struct {
	ObjectType string `yaml:"object_type"`
	Category   string `yaml:"category"`
	IDColumn   string `yaml:"id_column"`
	Query      string `yaml:"query"`
}

type BusConfig struct {
	URL string `yaml:"url"`
}

type S3Config struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// env holds the environment overrides; set variables win over the file.
type env struct {
	Credentials   string `env:"FLEETTAG_CREDENTIALS"`
	PortalAddress string `env:"FLEETTAG_PORTAL"`
	PortalPort    int    `env:"FLEETTAG_PORTAL_PORT"`
	TagsPath      string `env:"FLEETTAG_TAGS_PATH"`
	LogsPath      string `env:"FLEETTAG_LOG_PATH"`
	Workers       int    `env:"FLEETTAG_WORKERS"`
	NATSURL       string `env:"NATS_URL"`
	S3Bucket      string `env:"S3_BUCKET"`
	OTLPEndpoint  string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}
