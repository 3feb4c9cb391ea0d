package swcache

import (
	"net/url"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/always-cache/sw-cache/cache"
	"github.com/always-cache/sw-cache/clients"
	"github.com/always-cache/sw-cache/notification"
	responsetransformer "github.com/always-cache/sw-cache/pkg/response-transformer"
	"github.com/always-cache/sw-cache/strategy"
)

// Settings configure a worker version. They are read once at startup.
type Settings struct {
	// URL of the origin server. Relative urls are resolved against it.
	// Origins with paths are not supported.
	Origin string `yaml:"origin" env:"SW_CACHE_ORIGIN"`
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string `yaml:"originHost" env:"SW_CACHE_ORIGIN_HOST"`
	// Installed versions wait for a SKIP_WAITING message before activating.
	HoldWaiting bool `yaml:"holdWaiting" env:"SW_CACHE_HOLD_WAITING"`
	// Path prefix of the control endpoints. Empty disables them.
	ControlPrefix string `yaml:"controlPrefix" env:"SW_CACHE_CONTROL_PREFIX"`
	// Bearer token required by the control endpoints. Without a token they
	// are open to anyone who can reach the worker.
	ControlToken string `yaml:"controlToken" env:"SW_CACHE_CONTROL_TOKEN"`
	// Maximum number of registered clients.
	ClientLimit int `yaml:"clientLimit" env:"SW_CACHE_CLIENT_LIMIT"`

	Cache         CacheSettings        `yaml:"cache"`
	Storage       StorageSettings      `yaml:"storage"`
	Notifications NotificationSettings `yaml:"notifications"`
	Telemetry     TelemetrySettings    `yaml:"telemetry"`
}

type CacheSettings struct {
	Prefix  string `yaml:"prefix" env:"SW_CACHE_CACHE_PREFIX"`
	Version string `yaml:"version" env:"SW_CACHE_CACHE_VERSION"`
	// Resources stored at install, in order.
	Precache []string `yaml:"precache" env:"SW_CACHE_PRECACHE" envSeparator:","`
	// Regular expressions of paths answered network first from the dynamic partition.
	APIPatterns []string `yaml:"apiPatterns" env:"SW_CACHE_API_PATTERNS" envSeparator:","`
	StaticPath  string   `yaml:"staticPath" env:"SW_CACHE_STATIC_PATH"`
	OfflinePage string   `yaml:"offlinePage" env:"SW_CACHE_OFFLINE_PAGE"`
	// Shared keeps responses that RFC 9111 reserves for private caches out of the cache.
	// Enable when one cache serves many users.
	Shared bool `yaml:"shared" env:"SW_CACHE_SHARED"`
	// Header rules applied to origin responses, first match wins.
	Rules responsetransformer.Rules `yaml:"rules"`
}

type StorageSettings struct {
	// One of sqlite, memory or redis.
	Provider       string `yaml:"provider" env:"SW_CACHE_STORAGE_PROVIDER"`
	DB             string `yaml:"db" env:"SW_CACHE_DB"`
	RedisURL       string `yaml:"redisURL" env:"SW_CACHE_REDIS_URL"`
	RedisNamespace string `yaml:"redisNamespace" env:"SW_CACHE_REDIS_NAMESPACE"`
}

type NotificationSettings struct {
	Locale       string `yaml:"locale" env:"SW_CACHE_LOCALE"`
	DefaultRoute string `yaml:"defaultRoute" env:"SW_CACHE_DEFAULT_ROUTE"`
	// Redis channel notification events are published on, if storage is redis.
	RedisChannel string `yaml:"redisChannel" env:"SW_CACHE_NOTIFICATION_CHANNEL"`
	// Maximum number of notifications kept in the tray.
	TrayLimit int `yaml:"trayLimit" env:"SW_CACHE_TRAY_LIMIT"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `yaml:"otlpEndpoint" env:"SW_CACHE_OTLP_ENDPOINT"`
	SampleRatio  float64 `yaml:"sampleRatio" env:"SW_CACHE_TRACE_SAMPLE_RATIO"`
}

var DefaultPrecache = []string{
	"/",
	"/static/manifest.json",
	"/dashboard",
	"/staking-plans",
	"/projects",
	"/profile",
	"/support",
	"https://cdn.jsdelivr.net/npm/tailwindcss@2.2.19/dist/tailwind.min.css",
	"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.5.0/css/all.min.css",
	"https://fonts.googleapis.com/css2?family=Inter:wght@300;400;500;600;700;800&display=swap",
	"/static/offline.html",
}

const (
	DefaultOfflinePage   = "/static/offline.html"
	DefaultControlPrefix = "/.sw"
)

func DefaultSettings() Settings {
	return Settings{
		ControlPrefix: DefaultControlPrefix,
		ClientLimit:   clients.DefaultLimit,
		Cache: CacheSettings{
			Prefix:      cache.DefaultPrefix,
			Version:     cache.DefaultVersion,
			Precache:    append([]string(nil), DefaultPrecache...),
			APIPatterns: append([]string(nil), strategy.DefaultAPIPatterns...),
			StaticPath:  strategy.DefaultStaticPath,
			OfflinePage: DefaultOfflinePage,
		},
		Storage: StorageSettings{
			Provider:       "sqlite",
			DB:             "sw-cache.db",
			RedisNamespace: "sw-cache",
		},
		Notifications: NotificationSettings{
			Locale:       notification.DefaultLocale.String(),
			DefaultRoute: notification.DefaultRoute,
			RedisChannel: "sw-cache:notifications",
			TrayLimit:    notification.DefaultTrayLimit,
		},
	}
}

// LoadSettings layers the config file (if any) and then the environment over the defaults.
func LoadSettings(filename string) (Settings, error) {
	settings := DefaultSettings()
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return settings, errors.Wrapf(err, errors.CodeInvalidConfig, "read config %s", filename)
		}
		if err := yaml.Unmarshal(configBytes, &settings); err != nil {
			return settings, errors.Wrapf(err, errors.CodeInvalidConfig, "parse config %s", filename)
		}
	}
	if err := env.Parse(&settings); err != nil {
		return settings, errors.Wrap(err, errors.CodeInvalidConfig, "parse env")
	}
	return settings, settings.Validate()
}

// Validate checks the settings that cannot be fixed with defaults.
func (s Settings) Validate() error {
	if s.Origin != "" {
		u, err := url.Parse(s.Origin)
		if err != nil {
			return errors.Wrapf(err, errors.CodeInvalidConfig, "invalid origin %s", s.Origin)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.Newf(errors.CodeInvalidConfig, "origin %s must be an http(s) url", s.Origin)
		}
	}
	switch s.Storage.Provider {
	case "sqlite", "memory", "redis":
	default:
		return errors.Newf(errors.CodeInvalidConfig, "unsupported storage provider %q", s.Storage.Provider)
	}
	if s.Storage.Provider == "redis" && s.Storage.RedisURL == "" {
		return errors.New(errors.CodeInvalidConfig, "redis storage needs a redis url")
	}
	if s.ControlPrefix != "" && (!strings.HasPrefix(s.ControlPrefix, "/") || strings.HasSuffix(s.ControlPrefix, "/")) {
		return errors.Newf(errors.CodeInvalidConfig, "control prefix %q must start and not end with /", s.ControlPrefix)
	}
	if s.ClientLimit < 0 || s.Notifications.TrayLimit < 0 {
		return errors.New(errors.CodeInvalidConfig, "limits must not be negative")
	}
	if s.Telemetry.SampleRatio < 0 || s.Telemetry.SampleRatio > 1 {
		return errors.Newf(errors.CodeInvalidConfig, "trace sample ratio %v out of range", s.Telemetry.SampleRatio)
	}
	return nil
}

// Names returns the partition names of the configured version.
func (s Settings) Names() cache.Names {
	return cache.NewNames(s.Cache.Prefix, s.Cache.Version)
}
