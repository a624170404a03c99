package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/tide-data-service/internal/domain"
	"github.com/couchcryptid/tide-data-service/internal/store"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	Harbors         []domain.Harbor
	HarborTimezone  string
	StoreBackend    string
	StoreDir        string
	UpdateInterval  time.Duration
	ScheduleSeed    int64
	WaterLevelPause time.Duration

	// Upstream request settings.
	RequestDelay      time.Duration
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	SHOMBaseURL       string
	SHOMHarborsURL    string
	MeteoBaseURL      string
	Referer           string
	UserAgent         string

	// Optional cycle event stream; disabled when KafkaBrokers is empty.
	KafkaBrokers     []string
	KafkaEventsTopic string
}

// Upstream defaults.
const (
	DefaultSHOMBaseURL    = "https://services.data.shom.fr/b2q8lrcdl4s04cbabsj4nhcb/hdm/spm"
	DefaultSHOMHarborsURL = "https://services.data.shom.fr/x13f1b4faeszdyinv9zqxmx1/wfs?service=WFS&version=1.0.0&srsName=EPSG:3857&request=GetFeature&typeName=SPM_PORTS_WFS:liste_ports_spm_h2m&outputFormat=application/json"
	DefaultMeteoBaseURL   = "https://ws.meteoconsult.fr/meteoconsultmarine/androidtab/115/fr/v30"
	DefaultReferer        = "https://maree.shom.fr/"
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/109.0.0.0 Safari/537.36"
)

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:         sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,
		HarborTimezone:   sharedcfg.EnvOrDefault("HARBOR_TIMEZONE", domain.DefaultTimezone),
		StoreBackend:     sharedcfg.EnvOrDefault("STORE_BACKEND", store.BackendFile),
		StoreDir:         sharedcfg.EnvOrDefault("STORE_DIR", "./data"),
		SHOMBaseURL:      strings.TrimRight(sharedcfg.EnvOrDefault("SHOM_BASE_URL", DefaultSHOMBaseURL), "/"),
		SHOMHarborsURL:   sharedcfg.EnvOrDefault("SHOM_HARBORS_URL", DefaultSHOMHarborsURL),
		MeteoBaseURL:     strings.TrimRight(sharedcfg.EnvOrDefault("METEO_BASE_URL", DefaultMeteoBaseURL), "/"),
		Referer:          sharedcfg.EnvOrDefault("UPSTREAM_REFERER", DefaultReferer),
		UserAgent:        sharedcfg.EnvOrDefault("UPSTREAM_USER_AGENT", DefaultUserAgent),
		KafkaEventsTopic: sharedcfg.EnvOrDefault("KAFKA_EVENTS_TOPIC", "tide-cycle-events"),
	}

	durations := []struct {
		env  string
		def  string
		dest *time.Duration
	}{
		{"UPDATE_INTERVAL", "5m", &cfg.UpdateInterval},
		{"REQUEST_DELAY", "200ms", &cfg.RequestDelay},
		{"RETRY_INITIAL_DELAY", "5s", &cfg.RetryInitialDelay},
		{"WATER_LEVEL_PAUSE", "2s", &cfg.WaterLevelPause},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(sharedcfg.EnvOrDefault(d.env, d.def))
		if err != nil || v < 0 || (v == 0 && d.env == "UPDATE_INTERVAL") {
			return nil, fmt.Errorf("invalid %s", d.env)
		}
		*d.dest = v
	}

	attempts, err := strconv.Atoi(sharedcfg.EnvOrDefault("RETRY_MAX_ATTEMPTS", "5"))
	if err != nil || attempts <= 0 {
		return nil, errors.New("invalid RETRY_MAX_ATTEMPTS")
	}
	cfg.RetryMaxAttempts = attempts

	if s := os.Getenv("SCHEDULE_SEED"); s != "" {
		seed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, errors.New("invalid SCHEDULE_SEED")
		}
		cfg.ScheduleSeed = seed
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); strings.TrimSpace(brokers) != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(brokers)
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaEventsTopic == "" {
		return nil, errors.New("KAFKA_EVENTS_TOPIC is required when KAFKA_BROKERS is set")
	}

	switch cfg.StoreBackend {
	case store.BackendFile, store.BackendBadger, store.BackendMemory:
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q", cfg.StoreBackend)
	}

	if _, err := domain.LoadLocation(cfg.HarborTimezone); err != nil {
		return nil, fmt.Errorf("invalid HARBOR_TIMEZONE: %w", err)
	}

	harbors, err := loadHarbors(cfg.HarborTimezone)
	if err != nil {
		return nil, err
	}
	cfg.Harbors = harbors

	return cfg, nil
}

// harborsFile is the YAML layout of HARBORS_FILE.
type harborsFile struct {
	Harbors []domain.Harbor `yaml:"harbors"`
}

func loadHarbors(defaultTZ string) ([]domain.Harbor, error) {
	var harbors []domain.Harbor

	if path := os.Getenv("HARBORS_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read HARBORS_FILE: %w", err)
		}
		var f harborsFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse HARBORS_FILE: %w", err)
		}
		harbors = f.Harbors
	} else {
		for _, id := range strings.Split(sharedcfg.EnvOrDefault("HARBORS", "PORNICHET"), ",") {
			if id = strings.TrimSpace(id); id != "" {
				harbors = append(harbors, domain.Harbor{ID: strings.ToUpper(id)})
			}
		}
	}

	if len(harbors) == 0 {
		return nil, errors.New("HARBORS is required")
	}

	seen := make(map[string]bool, len(harbors))
	for i := range harbors {
		h := &harbors[i]
		h.ID = strings.ToUpper(strings.TrimSpace(h.ID))
		if h.ID == "" {
			return nil, fmt.Errorf("HARBORS_FILE: harbor %d has no id", i)
		}
		if seen[h.ID] {
			return nil, fmt.Errorf("duplicate harbor %q", h.ID)
		}
		seen[h.ID] = true
		if h.Timezone == "" {
			h.Timezone = defaultTZ
		}
		if _, err := domain.LoadLocation(h.Timezone); err != nil {
			return nil, fmt.Errorf("harbor %s: %w", h.ID, err)
		}
		if (h.Lat == nil) != (h.Lon == nil) {
			return nil, fmt.Errorf("harbor %s: lat and lon must be set together", h.ID)
		}
	}
	return harbors, nil
}
