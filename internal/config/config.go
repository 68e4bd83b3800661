// Package config loads the ini configuration shared by the blastq programs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/blastgcp/blastq/internal/domain"
)

// DefaultPath is used when -cfg is not given.
const DefaultPath = "etc/config.ini"

// Section names.
const (
	SectionGCP     = "blast-gcp"
	SectionAMI     = "blast-ami"
	SectionWeb     = "web-blast"
	SectionGateway = "blast-gcp-gateway"
	SectionWorker  = "blast-gcp-worker"
)

// DefaultWebURL is the public NCBI BLAST URL API endpoint.
const DefaultWebURL = "https://blast.ncbi.nlm.nih.gov/Blast.cgi"

// GCP configures the BLAST-GCP client.
type GCP struct {
	ServiceAddress string
	Program        string
	MaxWait        time.Duration
}

// Web configures the NCBI web BLAST client.
type Web struct {
	BaseURL      string
	AMIAddress   string
	PollInterval time.Duration
	MaxWait      time.Duration
	Tool         string
	Email        string
	Databases    []string
}

// Gateway configures the BLAST-GCP HTTP gateway.
type Gateway struct {
	ListenAddress string
	RedisAddress  string
	Databases     []string
	Rate          float64
	Burst         float64
	StatusTTL     time.Duration
}

// Worker configures the BLAST-GCP worker.
type Worker struct {
	RedisAddress string
	Image        string
	BlastDBDir   string
	Concurrency  int
	JobTimeout   time.Duration
	MemoryMB     int64
	StaleAfter   time.Duration
}

// Config is the typed view of the configuration file, loaded once at startup.
type Config struct {
	Path    string
	GCP     GCP
	Web     Web
	Gateway Gateway
	Worker  Worker

	file *ini.File
}

// Load reads and decodes path. Missing optional keys get defaults; required
// keys are checked by the Require* methods of the program that needs them.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &domain.ConfigError{Path: path, Err: err}
	}
	f, err := ini.Load(path)
	if err != nil {
		return nil, &domain.ConfigError{Path: path, Err: err}
	}

	c := &Config{Path: path, file: f}
	if err := c.decode(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) decode() error {
	gcp := c.file.Section(SectionGCP)
	c.GCP = GCP{
		ServiceAddress: strings.TrimSpace(gcp.Key("service-address").String()),
		Program:        gcp.Key("program").MustString("blastn"),
	}

	web := c.file.Section(SectionWeb)
	c.Web = Web{
		BaseURL:    web.Key("base-url").MustString(DefaultWebURL),
		AMIAddress: strings.TrimSpace(c.file.Section(SectionAMI).Key("service-address").String()),
		Tool:       web.Key("tool").MustString("web-blast"),
		Email:      web.Key("email").String(),
		Databases:  list(web.Key("databases").String()),
	}

	gw := c.file.Section(SectionGateway)
	c.Gateway = Gateway{
		ListenAddress: gw.Key("listen-address").MustString(":8080"),
		RedisAddress:  gw.Key("redis-address").MustString("localhost:6379"),
		Databases:     list(gw.Key("databases").MustString("nt, nt_v5")),
		Rate:          gw.Key("rate").MustFloat64(0.5),
		Burst:         gw.Key("burst").MustFloat64(5),
	}

	wk := c.file.Section(SectionWorker)
	c.Worker = Worker{
		RedisAddress: wk.Key("redis-address").MustString("localhost:6379"),
		Image:        wk.Key("image").MustString("ncbi/blast:latest"),
		BlastDBDir:   wk.Key("blastdb-dir").MustString("/blast/blastdb"),
		Concurrency:  wk.Key("concurrency").MustInt(2),
		MemoryMB:     wk.Key("memory-mb").MustInt64(2048),
	}

	durations := []struct {
		sec  *ini.Section
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{gcp, "max-wait", 30 * time.Minute, &c.GCP.MaxWait},
		{web, "poll-interval", 10 * time.Second, &c.Web.PollInterval},
		{web, "max-wait", time.Hour, &c.Web.MaxWait},
		{gw, "status-ttl", 24 * time.Hour, &c.Gateway.StatusTTL},
		{wk, "job-timeout", 30 * time.Minute, &c.Worker.JobTimeout},
		{wk, "stale-after", 2 * time.Hour, &c.Worker.StaleAfter},
	}
	for _, d := range durations {
		v, err := duration(d.sec, d.key, d.def)
		if err != nil {
			return &domain.ConfigError{Path: c.Path, Key: d.sec.Name() + "." + d.key, Err: err}
		}
		*d.dest = v
	}

	if c.Worker.Concurrency < 1 {
		return &domain.ConfigError{Path: c.Path, Key: SectionWorker + ".concurrency", Err: errors.New("must be at least 1")}
	}
	// A delivered job is held by the stream reader and then by the pool
	// hand-off, each for up to one full search, before a worker claims it.
	if c.Worker.StaleAfter <= 3*c.Worker.JobTimeout {
		return &domain.ConfigError{Path: c.Path, Key: SectionWorker + ".stale-after",
			Err: fmt.Errorf("must exceed three times job-timeout (%s)", c.Worker.JobTimeout)}
	}
	return nil
}

// RequireGCP fails when the keys blast-gcp needs are absent.
func (c *Config) RequireGCP() error {
	return c.require(SectionGCP, "service-address", c.GCP.ServiceAddress)
}

// RequireAMI fails when -ami is requested without a configured AMI address.
func (c *Config) RequireAMI() error {
	return c.require(SectionAMI, "service-address", c.Web.AMIAddress)
}

func (c *Config) require(section, key, value string) error {
	if value != "" {
		return nil
	}
	return &domain.ConfigError{Path: c.Path, Key: section + "." + key, Err: errors.New("required key is missing")}
}

// ApplyEnv lets REDIS_ADDR override the configured Redis address for the
// backend programs.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if addr := getenv("REDIS_ADDR"); addr != "" {
		c.Gateway.RedisAddress = addr
		c.Worker.RedisAddress = addr
	}
}

func duration(sec *ini.Section, key string, def time.Duration) (time.Duration, error) {
	if !sec.HasKey(key) {
		return def, nil
	}
	d, err := sec.Key(key).Duration()
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", sec.Key(key).String())
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", d)
	}
	return d, nil
}

func list(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
