package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const envPrefix = "VOICELOOP"

type Config struct {
	Listener  ListenerConfig  `mapstructure:"listener"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Log       LogConfig       `mapstructure:"log"`
}

type ListenerConfig struct {
	RestartDelayOnEnd    time.Duration `mapstructure:"restart_delay_on_end"`
	RestartDelayOnError  time.Duration `mapstructure:"restart_delay_on_error"`
	MaxSessionDuration   time.Duration `mapstructure:"max_session_duration"`
	PlaybackPollInterval time.Duration `mapstructure:"playback_poll_interval"`
	AnswerTimeout        time.Duration `mapstructure:"answer_timeout"`
	FallbackAnswer       string        `mapstructure:"fallback_answer"`
}

type CaptureConfig struct {
	ModelPath       string        `mapstructure:"model_path"`
	Language        string        `mapstructure:"language"`
	SampleRate      int           `mapstructure:"sample_rate"`
	QuietTime       time.Duration `mapstructure:"quiet_time"`
	NoSpeechTimeout time.Duration `mapstructure:"no_speech_timeout"`
	MaxUtterance    time.Duration `mapstructure:"max_utterance"`
	RecordDir       string        `mapstructure:"record_dir"`
}

type PlaybackConfig struct {
	Type    string   `mapstructure:"type"` // "command" or "silent"
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

type KnowledgeConfig struct {
	DBPath         string        `mapstructure:"db_path"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	MatchThreshold float64       `mapstructure:"match_threshold"`
}

type LogConfig struct {
	FilePath   string `mapstructure:"file_path"`
	Production bool   `mapstructure:"production"`
	Debug      bool   `mapstructure:"debug"`
}

// Load reads config.yaml from fs (working directory or ./config), then lets
// VOICELOOP_* environment variables override it. A missing file is not an error.
func Load(fs afero.Fs) (*Config, error) {
	// .env is a convenience for local runs only
	_ = godotenv.Load()

	v := viper.New()
	v.SetFs(fs)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listener.restart_delay_on_end", 500*time.Millisecond)
	v.SetDefault("listener.restart_delay_on_error", 800*time.Millisecond)
	v.SetDefault("listener.max_session_duration", 120*time.Second)
	v.SetDefault("listener.playback_poll_interval", 120*time.Millisecond)
	v.SetDefault("listener.answer_timeout", 5*time.Second)
	v.SetDefault("listener.fallback_answer", "इस प्रश्न का उत्तर मेरे ज्ञान में नहीं है।")

	v.SetDefault("capture.model_path", "models/ggml-base.bin")
	v.SetDefault("capture.language", "hi")
	v.SetDefault("capture.sample_rate", 16000)
	v.SetDefault("capture.quiet_time", 200*time.Millisecond)
	v.SetDefault("capture.no_speech_timeout", 8*time.Second)
	v.SetDefault("capture.max_utterance", 15*time.Second)
	v.SetDefault("capture.record_dir", "")

	v.SetDefault("playback.type", "command")
	v.SetDefault("playback.command", "espeak-ng")
	v.SetDefault("playback.args", []string{"-v", "hi", "--stdout"})

	v.SetDefault("knowledge.db_path", "knowledge.sqlite")
	v.SetDefault("knowledge.cache_ttl", 30*time.Second)
	v.SetDefault("knowledge.match_threshold", 0.5)

	v.SetDefault("log.file_path", "voice-loop.log")
	v.SetDefault("log.production", false)
	v.SetDefault("log.debug", false)
}
