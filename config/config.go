/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT   = "5010"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"PIGWATCH_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"PIGWATCH_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"PIGWATCH_SERVER_PORT"`
}

type DataSourceConfig struct {
	Driver string `json:"driver" envconfig:"PIGWATCH_DATA_SOURCE_DRIVER"`
	Dns    string `json:"dns" envconfig:"PIGWATCH_DATA_SOURCE_DNS"`
}

// RedisConfig is optional. When Dns is empty detectors run without the per-pig lock.
type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"PIGWATCH_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"PIGWATCH_REDIS_SKIP_TLS_VERIFY"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"PIGWATCH_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"PIGWATCH_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"PIGWATCH_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type DetectorConfig struct {
	PollIntervalSec   int    `json:"poll_interval_sec" envconfig:"PIGWATCH_DETECTOR_POLL_INTERVAL_SEC"`
	ActiveLookbackSec int    `json:"active_lookback_sec" envconfig:"PIGWATCH_DETECTOR_ACTIVE_LOOKBACK_SEC"`
	TickTimeoutSec    int    `json:"tick_timeout_sec" envconfig:"PIGWATCH_DETECTOR_TICK_TIMEOUT_SEC"`
	GapGraceSec       int    `json:"gap_grace_sec" envconfig:"PIGWATCH_DETECTOR_GAP_GRACE_SEC"`
	HeartbeatSec      int    `json:"heartbeat_sec" envconfig:"PIGWATCH_DETECTOR_HEARTBEAT_SEC"`
	PigLockTTLSec     int    `json:"pig_lock_ttl_sec" envconfig:"PIGWATCH_DETECTOR_PIG_LOCK_TTL_SEC"`
	ReferenceDir      string `json:"reference_dir" envconfig:"PIGWATCH_DETECTOR_REFERENCE_DIR"`
	DefaultToolType   string `json:"default_tool_type" envconfig:"PIGWATCH_DETECTOR_DEFAULT_TOOL_TYPE"`
}

// EngineConfig holds the geometry and speed tunables of the movement classifier.
type EngineConfig struct {
	MetersPerChannel    int               `json:"meters_per_channel"`
	POITolMeters        int               `json:"poi_tol_meters"`
	StoppedWindowSec    int               `json:"stopped_window_sec"`
	SpeedWindowSec      int               `json:"speed_window_sec"`
	SpeedShortWindowSec int               `json:"speed_short_window_sec"`
	MovingBoostSec      int               `json:"moving_boost_sec"`
	MinSpeedDtSec       int               `json:"min_speed_dt_sec"`
	SpeedSearchSec      int               `json:"speed_search_sec"`
	RouteAliases        map[string]string `json:"route_aliases"`
}

type SenderConfig struct {
	WorkerName        string            `json:"worker_name" envconfig:"PIGWATCH_SENDER_WORKER_NAME"`
	Endpoint          string            `json:"endpoint" envconfig:"PIGWATCH_SENDER_ENDPOINT"`
	Headers           map[string]string `json:"headers"`
	BatchSize         int               `json:"batch_size" envconfig:"PIGWATCH_SENDER_BATCH_SIZE"`
	PollIntervalSec   int               `json:"poll_interval_sec" envconfig:"PIGWATCH_SENDER_POLL_INTERVAL_SEC"`
	MaxAttempts       int               `json:"max_attempts" envconfig:"PIGWATCH_SENDER_MAX_ATTEMPTS"`
	RequestTimeoutSec int               `json:"request_timeout_sec" envconfig:"PIGWATCH_SENDER_REQUEST_TIMEOUT_SEC"`
	StaleLockSec      int               `json:"stale_lock_sec" envconfig:"PIGWATCH_SENDER_STALE_LOCK_SEC"`
	ReapEveryTicks    int               `json:"reap_every_ticks" envconfig:"PIGWATCH_SENDER_REAP_EVERY_TICKS"`
	Concurrency       int               `json:"concurrency" envconfig:"PIGWATCH_SENDER_CONCURRENCY"`
	TickTimeoutSec    int               `json:"tick_timeout_sec" envconfig:"PIGWATCH_SENDER_TICK_TIMEOUT_SEC"`
	BackoffScheduleS  []int             `json:"backoff_schedule_sec"`
	JitterPercent     int               `json:"jitter_percent" envconfig:"PIGWATCH_SENDER_JITTER_PERCENT"`
}

type ApprovalConfig struct {
	// GatedTypes lists notif types created WAITING. "*" gates every type.
	GatedTypes []string `json:"gated_types" envconfig:"PIGWATCH_APPROVAL_GATED_TYPES"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"PIGWATCH_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type TracingConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"PIGWATCH_TRACING_ENABLED"`
	Endpoint string `json:"endpoint" envconfig:"PIGWATCH_TRACING_ENDPOINT"`
	Insecure bool   `json:"insecure" envconfig:"PIGWATCH_TRACING_INSECURE"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"PIGWATCH_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
	Detector     DetectorConfig   `json:"detector"`
	Engine       EngineConfig     `json:"engine"`
	Sender       SenderConfig     `json:"sender"`
	Approval     ApprovalConfig   `json:"approval"`
	Notification Notification     `json:"notification"`
	Tracing      TracingConfig    `json:"tracing"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("pigwatch", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called pigwatch.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Pigwatch"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.DataSource.Driver = strings.ToLower(strings.TrimSpace(cnf.DataSource.Driver))
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Sender.Endpoint = strings.TrimSpace(cnf.Sender.Endpoint)

	switch cnf.DataSource.Driver {
	case "":
		cnf.DataSource.Driver = DriverPostgres
	case "sqlite":
		cnf.DataSource.Driver = DriverSQLite
	case DriverPostgres, DriverSQLite:
	default:
		return errors.New("data source driver must be postgres or sqlite3")
	}

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	cnf.Detector.addDefaults()
	cnf.Engine.addDefaults()
	cnf.Sender.addDefaults()

	return nil
}

func (d *DetectorConfig) addDefaults() {
	setDefault(&d.PollIntervalSec, 30)
	setDefault(&d.ActiveLookbackSec, 2100)
	setDefault(&d.TickTimeoutSec, 120)
	setDefault(&d.GapGraceSec, 600)
	setDefault(&d.HeartbeatSec, 1800)
	setDefault(&d.PigLockTTLSec, 60)
	if d.ReferenceDir == "" {
		d.ReferenceDir = "."
	}
	if d.DefaultToolType == "" {
		d.DefaultToolType = "Cleaning Tool"
	}
}

func (e *EngineConfig) addDefaults() {
	setDefault(&e.MetersPerChannel, 25)
	setDefault(&e.POITolMeters, 50)
	setDefault(&e.StoppedWindowSec, 300)
	setDefault(&e.SpeedWindowSec, 1500)
	setDefault(&e.SpeedShortWindowSec, 300)
	setDefault(&e.MovingBoostSec, 600)
	setDefault(&e.MinSpeedDtSec, 120)
	setDefault(&e.SpeedSearchSec, 2100)
}

func (s *SenderConfig) addDefaults() {
	if s.WorkerName == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "sender"
		}
		s.WorkerName = host
	}
	setDefault(&s.BatchSize, 20)
	setDefault(&s.PollIntervalSec, 2)
	setDefault(&s.MaxAttempts, 5)
	setDefault(&s.RequestTimeoutSec, 10)
	setDefault(&s.StaleLockSec, 300)
	setDefault(&s.ReapEveryTicks, 10)
	setDefault(&s.Concurrency, 1)
	setDefault(&s.TickTimeoutSec, 60)
	if len(s.BackoffScheduleS) == 0 {
		s.BackoffScheduleS = []int{10, 30, 60, 120, 300, 600}
	}
	if s.JitterPercent <= 0 {
		s.JitterPercent = 10
	}
}

// Seconds converts a config field expressed in seconds.
func Seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

func setDefault(field *int, value int) {
	if *field <= 0 {
		*field = value
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
