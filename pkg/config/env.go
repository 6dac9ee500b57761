package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Переменные окружения
const (
	EnvDumpDir           = "MEDIA_TELEMETRY_DUMP_DIR"
	EnvLegacyDumpDir     = "GST_DEBUG_DUMP_DOT_DIR"
	EnvMuxName           = "MEDIA_TELEMETRY_MUX_NAME"
	EnvMaxLookupAttempts = "MEDIA_TELEMETRY_MAX_LOOKUP_ATTEMPTS"
	EnvRenderer          = "MEDIA_TELEMETRY_RENDERER"
	EnvRenderTimeout     = "MEDIA_TELEMETRY_RENDER_TIMEOUT"
	EnvSnapshotDetail    = "MEDIA_TELEMETRY_SNAPSHOT_DETAIL"
	EnvServiceHost       = "MEDIA_TELEMETRY_SERVICE_HOST"
	EnvServicePort       = "MEDIA_TELEMETRY_SERVICE_PORT"
	EnvSDPFile           = "MEDIA_TELEMETRY_SDP_FILE"
	EnvMetricsAddr       = "MEDIA_TELEMETRY_METRICS_ADDR"
	EnvLogLevel          = "MEDIA_TELEMETRY_LOG_LEVEL"
	EnvLogFormat         = "MEDIA_TELEMETRY_LOG_FORMAT"
)

// Environ собирает окружение: значения из envFile (если файл существует),
// поверх них переменные процесса
func Environ(envFile string) (map[string]string, error) {
	env := make(map[string]string)

	if envFile != "" {
		fileEnv, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			for k, v := range fileEnv {
				env[k] = v
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("чтение %s: %w", envFile, err)
		}
	}

	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env, nil
}

// ApplyEnv переносит значения из env в конфигурацию.
// MEDIA_TELEMETRY_DUMP_DIR приоритетнее GST_DEBUG_DUMP_DOT_DIR.
func (c *Config) ApplyEnv(env map[string]string) error {
	if v := env[EnvLegacyDumpDir]; v != "" {
		c.DumpDir = v
	}

	strs := map[string]*string{
		EnvDumpDir:        &c.DumpDir,
		EnvMuxName:        &c.MuxName,
		EnvRenderer:       &c.Renderer,
		EnvSnapshotDetail: &c.SnapshotDetail,
		EnvServiceHost:    &c.ServiceHost,
		EnvSDPFile:        &c.SDPFile,
		EnvMetricsAddr:    &c.MetricsAddr,
		EnvLogLevel:       &c.LogLevel,
		EnvLogFormat:      &c.LogFormat,
	}
	for key, dst := range strs {
		if v, ok := env[key]; ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		EnvMaxLookupAttempts: &c.MaxLookupAttempts,
		EnvServicePort:       &c.ServicePort,
	}
	for key, dst := range ints {
		v, ok := env[key]
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}

	if v := env[EnvRenderTimeout]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRenderTimeout, err)
		}
		c.RenderTimeout = d
	}

	return nil
}

// Load собирает конфигурацию: значения по умолчанию, файл path (если задан),
// затем окружение из envFile и процесса
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return cfg, err
		}
	}

	env, err := Environ(envFile)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(env); err != nil {
		return cfg, err
	}
	return cfg, nil
}
