package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/classmeet/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type MediaConfig struct {
	ICEServers     []ICEServer   `mapstructure:"ice_servers"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	UDPPortMin     uint16        `mapstructure:"udp_port_min"`
	UDPPortMax     uint16        `mapstructure:"udp_port_max"`
}

type RateConfig struct {
	JoinLimit    int           `mapstructure:"join_limit"`
	JoinInterval time.Duration `mapstructure:"join_interval"`
	ChatLimit    int           `mapstructure:"chat_limit"`
	ChatInterval time.Duration `mapstructure:"chat_interval"`
}

type ChatConfig struct {
	MaxLength int `mapstructure:"max_length"`
}

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	StaticPath   string        `mapstructure:"static_path"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	Secret       string        `mapstructure:"secret"`
	LogLevel     string        `mapstructure:"log_level"`
	Backpressure string        `mapstructure:"backpressure"`

	Room  domain.Settings `mapstructure:"room"`
	Chat  ChatConfig      `mapstructure:"chat"`
	Rate  RateConfig      `mapstructure:"rate"`
	Media MediaConfig     `mapstructure:"media"`
}

// devSecret signs session cookies in development only.
const devSecret = "classmeet-dev-secret"

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"port":      "port",
	"mode":      "mode",
	"log-level": "log_level",
	"static":    "static_path",
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	fs.Int("port", 8080, "HTTP listen port")
	fs.String("mode", "release", "gin mode: debug or release")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("static", "./web", "directory with the web client")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", devSecret)
	v.SetDefault("log_level", "info")
	v.SetDefault("backpressure", "close")

	d := domain.DefaultSettings()
	v.SetDefault("room.max_participants", d.MaxParticipants)
	v.SetDefault("room.waiting_room_enabled", d.WaitingRoomEnabled)
	v.SetDefault("room.mute_on_join", d.MuteOnJoin)
	v.SetDefault("room.video_off_on_join", d.VideoOffOnJoin)
	v.SetDefault("room.chat_allowed", d.ChatAllowed)
	v.SetDefault("room.screen_share_allowed", d.ScreenShareAllowed)
	v.SetDefault("room.canvas_allowed", d.CanvasAllowed)

	v.SetDefault("chat.max_length", 1000)
	v.SetDefault("rate.join_limit", 10)
	v.SetDefault("rate.join_interval", "1m")
	v.SetDefault("rate.chat_limit", 20)
	v.SetDefault("rate.chat_interval", "10s")

	v.SetDefault("media.ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
	v.SetDefault("media.health_interval", "30s")
	v.SetDefault("media.udp_port_min", 0)
	v.SetDefault("media.udp_port_max", 0)
}

// Load reads config/config.<CONFIG_ENV>.yaml, then CLASSMEET_* environment
// variables, then flags set in fs. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			fileName = f.Value.String()
		}
	}
	v.SetConfigFile(fileName)

	setDefaults(v)

	v.SetEnvPrefix("CLASSMEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Mode != "debug" && c.Mode != "release" && c.Mode != "test" {
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	if c.Room.MaxParticipants <= 0 {
		errs = append(errs, errors.New("room.max_participants must be positive"))
	}
	if c.PongWait <= c.PingPeriod {
		errs = append(errs, errors.New("pong_wait must be longer than ping_period"))
	}
	switch {
	case c.Secret == "":
		errs = append(errs, errors.New("secret is empty"))
	case c.Secret == devSecret && c.Mode == "release":
		errs = append(errs, errors.New("secret must be set in release mode"))
	}
	if c.Media.UDPPortMax < c.Media.UDPPortMin {
		errs = append(errs, errors.New("media.udp_port_max below media.udp_port_min"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }
