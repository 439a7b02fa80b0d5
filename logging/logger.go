package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

// Logger is zerolog.Logger. Components receive it by value and derive children.
type Logger = zerolog.Logger

// Config contains logging configuration options.
type Config struct {
	// Level is the log level: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the log format: "json" or "text"
	// Default: "json"
	Format string `yaml:"format"`

	// Async writes through a diode ring buffer so the submission path never blocks on stderr.
	// Default: true
	Async bool `yaml:"async"`

	// AsyncBufferSize is the size of the diode ring buffer in messages.
	// Default: 10000
	AsyncBufferSize int `yaml:"async_buffer_size"`

	// AsyncPollInterval is the diode poll interval in milliseconds.
	// Default: 50
	AsyncPollInterval int `yaml:"async_poll_interval"`

	// Sampling keeps the first SamplingInitial messages per second and
	// then 1 in SamplingThereafter. Default: false
	Sampling           bool `yaml:"sampling"`
	SamplingInitial    int  `yaml:"sampling_initial"`
	SamplingThereafter int  `yaml:"sampling_thereafter"`

	// EnableCaller adds file:line to every entry.
	EnableCaller bool `yaml:"enable_caller"`
}

// DefaultConfig returns the logging defaults used by the relayer.
func DefaultConfig() Config {
	return Config{
		Level:              "info",
		Format:             "json",
		Async:              true,
		AsyncBufferSize:    10000,
		AsyncPollInterval:  50,
		Sampling:           false,
		SamplingInitial:    100,
		SamplingThereafter: 10,
		EnableCaller:       false,
	}
}

// NewLoggerFromConfig builds the process logger.
func NewLoggerFromConfig(config Config) Logger {
	return newLogger(config, os.Stderr)
}

func newLogger(config Config, out io.Writer) Logger {
	level := parseLevel(config.Level)

	output := out
	if strings.EqualFold(config.Format, "text") {
		output = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05.000",
		}
	}

	if config.Async {
		bufferSize := config.AsyncBufferSize
		if bufferSize <= 0 {
			bufferSize = 10000
		}
		pollInterval := config.AsyncPollInterval
		if pollInterval <= 0 {
			pollInterval = 50
		}

		output = diode.NewWriter(output, bufferSize, time.Duration(pollInterval)*time.Millisecond, func(missed int) {
			// The logger cannot log about itself here.
			if missed > 0 {
				_, _ = os.Stderr.WriteString("WARN: relayer dropped log messages, diode buffer full\n")
			}
		})
	}

	zctx := zerolog.New(output).Level(level).With().Timestamp()
	if config.EnableCaller {
		zctx = zctx.Caller()
	}
	logger := zctx.Logger()

	if config.Sampling {
		initial := config.SamplingInitial
		if initial <= 0 {
			initial = 100
		}
		thereafter := config.SamplingThereafter
		if thereafter <= 0 {
			thereafter = 10
		}
		logger = logger.Sample(&zerolog.BurstSampler{
			Burst:       uint32(initial),
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: uint32(thereafter)},
		})
	}

	return logger
}

// parseLevel returns the zerolog.Level for the given string, InfoLevel when unknown.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ForComponent returns a child logger with the component field set.
func ForComponent(logger Logger, component string) Logger {
	return logger.With().Str(FieldComponent, component).Logger()
}

// WithRequest returns a child logger scoped to one randomness request account.
func WithRequest(logger Logger, request string) Logger {
	return logger.With().Str(FieldRequest, request).Logger()
}

// ForInstance tags every entry with the relayer instance id.
func ForInstance(logger Logger, instanceID string) Logger {
	return logger.With().Str(FieldInstance, instanceID).Logger()
}

// ReplicaStatusProvider reports whether this instance currently holds leadership.
type ReplicaStatusProvider interface {
	IsLeader() bool
}

type replicaHook struct {
	provider ReplicaStatusProvider
}

func (h *replicaHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	if h.provider == nil {
		return
	}
	if h.provider.IsLeader() {
		e.Str(FieldReplica, ReplicaLeader)
		return
	}
	e.Str(FieldReplica, ReplicaStandby)
}

// WithReplicaStatus evaluates the replica role at log time, so entries follow
// leader election changes without rebuilding loggers.
func WithReplicaStatus(logger Logger, provider ReplicaStatusProvider) Logger {
	return logger.Hook(&replicaHook{provider: provider})
}
