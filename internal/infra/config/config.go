// Пакет config собирает конфигурацию бота из .env (через godotenv) и окружения:
// учётные данные MTProto и токен бота, администраторов, список серверов сервиса
// номеров, тарифы, окна и TTL, параметры логирования.
//
// Глобального состояния нет: Load возвращает *Config, который bootstrap передаёт
// зависимым компонентам. Некритичные ошибки не валят старт: подставляется
// значение по умолчанию, а в Warnings() копится предупреждение.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"telegram-smsbot/internal/infra/timeutil"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Server — сервер сервиса номеров из PROVIDERS.
type Server struct {
	Name    string
	BaseURL string
}

// EnvConfig — параметры из окружения после нормализации.
type EnvConfig struct {
	APIID       int
	APIHash     string
	BotToken    string
	AdminUIDs   []int64
	DBFile      string
	SessionFile string
	TestDC      bool
	ThrottleRPS int

	Servers            []Server
	ProviderRPS        int
	ProviderTimeoutSec int

	SMSCheckCost  decimal.Decimal
	StartBalance  decimal.Decimal
	RequestTTLMin int
	DedupWindow   int
	PageSize      int

	LogLevel          string
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool

	AppTimezone string
	CLIEnable   bool
}

// Config — загруженная конфигурация.
type Config struct {
	env      EnvConfig
	location *time.Location
	warnings []string
}

// Значения по умолчанию.
const (
	defaultDBFile             = "data/smsbot.bbolt"
	defaultSessionFile        = "data/session.json"
	defaultThrottleRPS        = 10
	defaultProviders          = "main=https://www.ivasms.com"
	defaultProviderRPS        = 2
	defaultProviderTimeoutSec = 30
	defaultSMSCheckCost       = "0.05"
	defaultStartBalance       = "0"
	defaultRequestTTLMin      = 10
	defaultDedupWindowSec     = 5
	defaultPageSize           = 8
	defaultLogLevel           = "info"
	defaultLogFileLevel       = "debug"
	defaultLogFileMaxSize     = 50
	defaultLogFileMaxBackups  = 3
	defaultLogFileMaxAge      = 7
	defaultLogFileCompress    = true
	defaultAppTimezone        = "UTC"
	defaultCLIEnable          = true
)

// Load читает .env по пути envPath (если файл есть) и окружение процесса.
// Отсутствующий .env не ошибка: переменные могут прийти из окружения контейнера.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}
	return FromEnv()
}

// FromEnv собирает конфигурацию из текущего окружения.
func FromEnv() (*Config, error) {
	apiID, err := parseRequiredInt("API_ID")
	if err != nil {
		return nil, err
	}
	apiHash := strings.TrimSpace(os.Getenv("API_HASH"))
	if apiHash == "" {
		return nil, errors.New("env API_HASH must be set")
	}
	botToken := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if botToken == "" {
		return nil, errors.New("env BOT_TOKEN must be set")
	}

	var warnings []string

	admins, err := parseIDList("ADMIN_UIDS", os.Getenv("ADMIN_UIDS"), &warnings)
	if err != nil {
		return nil, err
	}
	servers, err := parseServers(os.Getenv("PROVIDERS"), &warnings)
	if err != nil {
		return nil, err
	}

	appTimezone := sanitizeTimezoneFlexible("APP_TIMEZONE", os.Getenv("APP_TIMEZONE"), defaultAppTimezone, &warnings)
	loc, err := timeutil.ParseLocation(appTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", appTimezone, err)
	}

	env := EnvConfig{
		APIID:       apiID,
		APIHash:     apiHash,
		BotToken:    botToken,
		AdminUIDs:   admins,
		DBFile:      sanitizeFile("DB_FILE", os.Getenv("DB_FILE"), defaultDBFile, &warnings),
		SessionFile: sanitizeFile("SESSION_FILE", os.Getenv("SESSION_FILE"), defaultSessionFile, &warnings),
		TestDC:      parseBoolDefault("TEST_DC", false, nil),
		ThrottleRPS: parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings),

		Servers:            servers,
		ProviderRPS:        parseIntDefault("PROVIDER_RPS", defaultProviderRPS, greaterThanZero, &warnings),
		ProviderTimeoutSec: parseIntDefault("PROVIDER_TIMEOUT_SEC", defaultProviderTimeoutSec, greaterThanZero, &warnings),

		SMSCheckCost:  parseDecimalDefault("SMS_CHECK_COST", defaultSMSCheckCost, &warnings),
		StartBalance:  parseDecimalDefault("START_BALANCE", defaultStartBalance, &warnings),
		RequestTTLMin: parseIntDefault("REQUEST_TTL_MIN", defaultRequestTTLMin, greaterThanZero, &warnings),
		DedupWindow:   parseIntDefault("DEDUP_WINDOW_SEC", defaultDedupWindowSec, nonNegative, &warnings),
		PageSize:      parseIntDefault("PAGE_SIZE", defaultPageSize, greaterThanZero, &warnings),

		LogLevel:          sanitizeLogLevel("LOG_LEVEL", os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings),
		LogFile:           strings.TrimSpace(os.Getenv("LOG_FILE")),
		LogFileLevel:      sanitizeLogLevel("LOG_FILE_LEVEL", os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, nil),
		LogFileMaxSize:    parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, nil),
		LogFileMaxBackups: parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, nil),
		LogFileMaxAge:     parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, nil),
		LogFileCompress:   parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, nil),

		AppTimezone: appTimezone,
		CLIEnable:   parseBoolDefault("CLI_ENABLE", defaultCLIEnable, nil),
	}

	if env.SMSCheckCost.IsNegative() {
		appendWarningf(&warnings, "env SMS_CHECK_COST %s is negative; using default %s", env.SMSCheckCost, defaultSMSCheckCost)
		env.SMSCheckCost = decimal.RequireFromString(defaultSMSCheckCost)
	}

	return &Config{env: env, location: loc, warnings: warnings}, nil
}

// Env возвращает снимок параметров.
func (c *Config) Env() EnvConfig { return c.env }

// Location — таймзона приложения для отображения времени.
func (c *Config) Location() *time.Location { return c.location }

// RequestTTL — время жизни запроса SMS.
func (c *Config) RequestTTL() time.Duration {
	return time.Duration(c.env.RequestTTLMin) * time.Minute
}

// DedupWindow — окно подавления двойной отправки.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.env.DedupWindow) * time.Second
}

// ProviderTimeout — таймаут HTTP-запроса к сервису номеров.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.env.ProviderTimeoutSec) * time.Second
}

// IsAdmin сообщает, указан ли id в ADMIN_UIDS.
func (c *Config) IsAdmin(id int64) bool { return slices.Contains(c.env.AdminUIDs, id) }

// Warnings возвращает копию накопленных предупреждений.
func (c *Config) Warnings() []string { return slices.Clone(c.warnings) }

// parseRequiredInt читает обязательную целочисленную переменную.
func parseRequiredInt(name string) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, fmt.Errorf("env %s must be set", name)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("env %s must be a valid integer: %w", name, err)
	}
	return v, nil
}

// parseIntDefault читает int; при пустом/некорректном значении — defaultVal и предупреждение.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// parseDecimalDefault читает десятичную сумму (баланс, тариф).
func parseDecimalDefault(name, defaultVal string, warnings *[]string) decimal.Decimal {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %s", name, defaultVal)
		return decimal.RequireFromString(defaultVal)
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid decimal; using default %s", name, value, defaultVal)
		return decimal.RequireFromString(defaultVal)
	}
	return v
}

// parseBoolDefault читает bool; при пустом/некорректном значении — defaultVal.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// parseIDList разбирает CSV числовых id. Некорректный элемент — ошибка:
// опечатка в списке администраторов не должна молча отнимать права.
func parseIDList(name, value string, warnings *[]string) ([]int64, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		appendWarningf(warnings, "env %s is not set; admin commands are available only via CLI", name)
		return nil, nil
	}
	var out []int64
	for part := range strings.SplitSeq(raw, ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		id, err := strconv.ParseInt(token, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("env %s: invalid user id %q", name, token)
		}
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out, nil
}

// parseServers разбирает PROVIDERS вида "main=https://a,backup=https://b".
// Элемент без имени получает имя "main" (для первого) или "srvN".
func parseServers(value string, warnings *[]string) ([]Server, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		appendWarningf(warnings, "env PROVIDERS is not set; using default %q", defaultProviders)
		raw = defaultProviders
	}

	var out []Server
	for part := range strings.SplitSeq(raw, ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		name, base, found := strings.Cut(token, "=")
		if !found {
			name, base = "", token
		}
		name, base = strings.TrimSpace(name), strings.TrimSpace(base)
		if name == "" {
			name = "main"
			if len(out) > 0 {
				name = "srv" + strconv.Itoa(len(out)+1)
			}
		}
		u, err := url.Parse(base)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("env PROVIDERS: server %q has invalid url %q", name, base)
		}
		if slices.ContainsFunc(out, func(s Server) bool { return s.Name == name }) {
			return nil, fmt.Errorf("env PROVIDERS: duplicate server name %q", name)
		}
		out = append(out, Server{Name: name, BaseURL: base})
	}
	if len(out) == 0 {
		return nil, errors.New("env PROVIDERS: no servers configured")
	}
	return out, nil
}

func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

// sanitizeLogLevel ограничивает уровень набором {debug, info, warn, error}.
func sanitizeLogLevel(name, level, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env %s value %q is invalid; using default %q", name, level, defaultVal)
		return defaultVal
	}
}

// sanitizeFile подставляет fallback для пустого пути.
func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

// sanitizeTimezoneFlexible принимает IANA-зону или UTC-смещение.
func sanitizeTimezoneFlexible(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	if _, err := timeutil.ParseLocation(v); err != nil {
		appendWarningf(warnings, "env %s value %q is invalid; using default %q", name, v, fallback)
		return fallback
	}
	return v
}
