package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type Level = slog.Level

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	LevelFatal   = slog.Level(12)
)

// Settings configure the process logger
type Settings struct {
	Level       string
	SampleRate  int
	OTELEnabled bool
	ServiceName string
	// Output receives JSON logs; nil means stdout
	Output io.Writer
}

var (
	Logger          *slog.Logger
	errorSampleRate atomic.Int32
	programLevel    = new(slog.LevelVar)
	shutdownFunc    func(context.Context) error
)

// Counters, incremented regardless of sampling
var (
	TotalErrors    atomic.Int64
	TotalWarnings  atomic.Int64
	Total5xxErrors atomic.Int64
	Total4xxErrors atomic.Int64
	Total400Errors atomic.Int64
	Total404Errors atomic.Int64
	Total429Errors atomic.Int64
	SlowRequests   atomic.Int64

	ConditionsEvaluated atomic.Int64
	ConditionsMet       atomic.Int64
	ActionFailures      atomic.Int64
	RunsNotRecorded     atomic.Int64
)

func init() {
	// Usable before Init: JSON at info, nothing sampled.
	errorSampleRate.Store(1)
	programLevel.Set(LevelInfo)
	setupJSONLogging(os.Stdout)
}

// Init replaces the process logger. When OTEL export cannot be set up it falls back to JSON
// and returns the setup error so the caller can report it.
func Init(s Settings) error {
	level, err := ParseLevel(s.Level)
	if err != nil {
		level = LevelInfo
	}
	programLevel.Set(level)

	rate := s.SampleRate
	if rate < 1 {
		rate = 1
	}
	errorSampleRate.Store(int32(rate))

	out := s.Output
	if out == nil {
		out = os.Stdout
	}
	if !s.OTELEnabled {
		setupJSONLogging(out)
		return nil
	}

	serviceName := strings.TrimSpace(s.ServiceName)
	if serviceName == "" {
		serviceName = "stageconditions"
	}
	shutdown, err := setupOTELLogging(context.Background(), serviceName)
	if err != nil {
		setupJSONLogging(out)
		return fmt.Errorf("otel logging disabled: %w", err)
	}
	shutdownFunc = shutdown
	return nil
}

func setupJSONLogging(out io.Writer) {
	Logger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: programLevel}))
	slog.SetDefault(Logger)
}

func setupOTELLogging(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	Logger = slog.New(&levelHandler{
		level:   programLevel,
		handler: otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider)),
	})
	slog.SetDefault(Logger)
	return provider.Shutdown, nil
}

// levelHandler filters records below level before they reach the OTEL bridge
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

// Shutdown flushes the OTEL exporter, if one is running
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}

func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

func GetLevel() slog.Level {
	return programLevel.Level()
}

// ParseLevel converts a level name to slog.Level. Empty means INFO.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s (defaulting to INFO)", levelStr)
	}
}

// shouldSample keeps 1 out of every errorSampleRate warnings and errors
func shouldSample() bool {
	rate := errorSampleRate.Load()
	if rate <= 1 {
		return true
	}
	return rand.Intn(int(rate)) == 0
}

func Trace(msg string, args ...any) {
	Logger.Log(context.Background(), LevelTrace, msg, args...)
}

func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn counts every call but only logs a sample
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if shouldSample() {
		Logger.Warn(msg, args...)
	}
}

// Error counts every call but only logs a sample
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if shouldSample() {
		Logger.Error(msg, args...)
	}
}

// Fatal logs, flushes OTEL and exits
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	if shutdownFunc != nil {
		_ = shutdownFunc(context.Background())
	}
	os.Exit(1)
}

func ErrorHttp5xx() {
	Total5xxErrors.Add(1)
	TotalErrors.Add(1)
}

func WarnHttp4xx(status int) {
	Total4xxErrors.Add(1)
	TotalWarnings.Add(1)
	switch status {
	case 400:
		Total400Errors.Add(1)
	case 404:
		Total404Errors.Add(1)
	case 429:
		Total429Errors.Add(1)
	}
}

func WarnSlowRequest() {
	SlowRequests.Add(1)
	TotalWarnings.Add(1)
}

// ConditionEvaluated counts one evaluation and whether it was met
func ConditionEvaluated(met bool) {
	ConditionsEvaluated.Add(1)
	if met {
		ConditionsMet.Add(1)
	}
}

// ActionsFailed counts failed action executions
func ActionsFailed(n int) {
	if n > 0 {
		ActionFailures.Add(int64(n))
	}
}

// RunNotRecorded counts a run the run store rejected
func RunNotRecorded() {
	RunsNotRecorded.Add(1)
}

// Counters returns a point-in-time copy of every counter
func Counters() map[string]int64 {
	return map[string]int64{
		"totalErrors":         TotalErrors.Load(),
		"totalWarnings":       TotalWarnings.Load(),
		"total5xxErrors":      Total5xxErrors.Load(),
		"total4xxErrors":      Total4xxErrors.Load(),
		"total400Errors":      Total400Errors.Load(),
		"total404Errors":      Total404Errors.Load(),
		"total429Errors":      Total429Errors.Load(),
		"slowRequests":        SlowRequests.Load(),
		"conditionsEvaluated": ConditionsEvaluated.Load(),
		"conditionsMet":       ConditionsMet.Load(),
		"actionFailures":      ActionFailures.Load(),
		"runsNotRecorded":     RunsNotRecorded.Load(),
	}
}
