package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultPath is used when neither --config nor T2V_CONFIG is given.
const DefaultPath = "config/config.yaml"

// MinLease is the smallest lease the worker accepts. Rendering a
// multi-minute video can take many minutes on its own, and a short lease
// causes redelivery and duplicate paid API calls.
const MinLease = 30 * time.Minute

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
		Domain    string `yaml:"domain"`
	} `yaml:"minio"`
	AI struct {
		WorkerAddr   string        `yaml:"worker_addr"`
		PollInterval time.Duration `yaml:"poll_interval"`
		JobTimeout   time.Duration `yaml:"job_timeout"`
	} `yaml:"ai"`
	Worker struct {
		Concurrency      int           `yaml:"concurrency"`
		Queue            string        `yaml:"queue"`
		Lease            time.Duration `yaml:"lease"`
		MaxRetry         int           `yaml:"max_retry"`
		SuccessRetention time.Duration `yaml:"success_retention"`
		FailureRetention time.Duration `yaml:"failure_retention"`
		JanitorInterval  time.Duration `yaml:"janitor_interval"`
	} `yaml:"worker"`
	Render struct {
		FPS             int           `yaml:"fps"`
		Composition     string        `yaml:"composition"`
		DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
		CRF             int           `yaml:"crf"`
	} `yaml:"render"`
	Probe struct {
		FFprobeBinary string `yaml:"ffprobe_binary"`
	} `yaml:"probe"`
	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
}

// Default returns a config populated with the built-in defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = ":8080"
	cfg.Redis.Addr = "localhost:6379"
	cfg.MinIO.Bucket = "assets"
	cfg.AI.PollInterval = 3 * time.Second
	cfg.AI.JobTimeout = 30 * time.Minute
	cfg.Worker.Concurrency = 2
	cfg.Worker.Queue = "video-generation"
	cfg.Worker.Lease = MinLease
	cfg.Worker.MaxRetry = 1
	cfg.Worker.SuccessRetention = time.Hour
	cfg.Worker.FailureRetention = 24 * time.Hour
	cfg.Worker.JanitorInterval = 10 * time.Minute
	cfg.Render.FPS = 30
	cfg.Render.Composition = "MyComp"
	cfg.Render.DispatchTimeout = 60 * time.Second
	cfg.Render.CRF = 24
	cfg.Probe.FFprobeBinary = "ffprobe"
	cfg.Log.Mode = "dev"
	return cfg
}

// ResolvePath picks the config path: explicit flag, then T2V_CONFIG, then DefaultPath.
func ResolvePath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("T2V_CONFIG")); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML file at path on top of Default and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML bytes on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.AI.WorkerAddr = strings.TrimRight(strings.TrimSpace(c.AI.WorkerAddr), "/")
	c.Worker.Queue = strings.TrimSpace(c.Worker.Queue)
	if c.Worker.Queue == "" {
		c.Worker.Queue = "video-generation"
	}
	if c.Probe.FFprobeBinary == "" {
		c.Probe.FFprobeBinary = "ffprobe"
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.MySQL.DSN) == "" {
		errs = append(errs, errors.New("mysql.dsn is required"))
	}
	if strings.TrimSpace(c.Redis.Addr) == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if strings.TrimSpace(c.MinIO.Bucket) == "" {
		errs = append(errs, errors.New("minio.bucket is required"))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("worker.concurrency must be >= 1, got %d", c.Worker.Concurrency))
	}
	if c.Worker.Lease < MinLease {
		errs = append(errs, fmt.Errorf("worker.lease must be >= %s, got %s", MinLease, c.Worker.Lease))
	}
	if c.Worker.MaxRetry < 0 {
		errs = append(errs, fmt.Errorf("worker.max_retry must be >= 0, got %d", c.Worker.MaxRetry))
	}
	if c.Render.FPS < 1 {
		errs = append(errs, fmt.Errorf("render.fps must be >= 1, got %d", c.Render.FPS))
	}
	if c.AI.PollInterval <= 0 {
		errs = append(errs, errors.New("ai.poll_interval must be positive"))
	}
	return errors.Join(errs...)
}
