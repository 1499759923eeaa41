package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера подземелий.
// Незаданные значения берутся из переменных окружения DUNGEON_*, затем из значений по умолчанию.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Players   PlayersConfig   `yaml:"players"`
	Cache     CacheConfig     `yaml:"cache"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Dungeon   DungeonConfig   `yaml:"dungeon"`
	Auth      AuthConfig      `yaml:"auth"`
}

type ServerConfig struct {
	RESTPort        int `yaml:"rest_port"`
	ShutdownTimeout int `yaml:"shutdown_timeout_seconds"`
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getIntWithEnvFallback(s.RESTPort, "DUNGEON_REST_PORT", 8088)
}

// GetShutdownTimeout время на корректное завершение HTTP-сервера
func (s *ServerConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(getIntWithEnvFallback(s.ShutdownTimeout, "DUNGEON_SHUTDOWN_TIMEOUT", 10)) * time.Second
}

type LoggingConfig struct {
	Dir          string `yaml:"dir"`
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
}

func (l *LoggingConfig) GetDir() string {
	return getStringWithEnvFallback(l.Dir, "DUNGEON_LOG_DIR", "")
}

func (l *LoggingConfig) GetConsoleLevel() string {
	return getStringWithEnvFallback(l.ConsoleLevel, "DUNGEON_LOG_LEVEL", "info")
}

func (l *LoggingConfig) GetFileLevel() string {
	return getStringWithEnvFallback(l.FileLevel, "DUNGEON_LOG_FILE_LEVEL", "debug")
}

// Поддерживаемые хранилища комнат и шаблонов
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendBadger = "badger"
	BackendMaria  = "maria"
)

type StorageConfig struct {
	Backend         string `yaml:"backend"`
	MongoURI        string `yaml:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database"`
	UseTransactions *bool  `yaml:"use_transactions"`
	BadgerPath      string `yaml:"badger_path"`
}

func (s *StorageConfig) GetBackend() string {
	return getStringWithEnvFallback(s.Backend, "DUNGEON_STORAGE", BackendMemory)
}

func (s *StorageConfig) GetMongoURI() string {
	return getStringWithEnvFallback(s.MongoURI, "DUNGEON_MONGO_URI", "mongodb://localhost:27017")
}

func (s *StorageConfig) GetMongoDatabase() string {
	return getStringWithEnvFallback(s.MongoDatabase, "DUNGEON_MONGO_DB", "dungeon")
}

// GetUseTransactions транзакции MongoDB требуют replica set
func (s *StorageConfig) GetUseTransactions() bool {
	return getBoolWithEnvFallback(s.UseTransactions, "DUNGEON_MONGO_TRANSACTIONS", false)
}

func (s *StorageConfig) GetBadgerPath() string {
	return getStringWithEnvFallback(s.BadgerPath, "DUNGEON_BADGER_PATH", "data")
}

type PlayersConfig struct {
	Backend  string `yaml:"backend"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

func (p *PlayersConfig) GetBackend() string {
	return getStringWithEnvFallback(p.Backend, "DUNGEON_PLAYERS", BackendMemory)
}

func (p *PlayersConfig) GetUser() string {
	return getStringWithEnvFallback(p.User, "DUNGEON_MARIA_USER", "dungeon")
}

func (p *PlayersConfig) GetPassword() string {
	return getStringWithEnvFallback(p.Password, "DUNGEON_MARIA_PASSWORD", "")
}

func (p *PlayersConfig) GetHost() string {
	return getStringWithEnvFallback(p.Host, "DUNGEON_MARIA_HOST", "localhost")
}

func (p *PlayersConfig) GetPort() int {
	return getIntWithEnvFallback(p.Port, "DUNGEON_MARIA_PORT", 3306)
}

func (p *PlayersConfig) GetDatabase() string {
	return getStringWithEnvFallback(p.Database, "DUNGEON_MARIA_DB", "dungeon")
}

type CacheConfig struct {
	Enabled       *bool  `yaml:"enabled"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	TTLSeconds    int    `yaml:"ttl_seconds"`
	// NATSURL пустой: инвалидация между узлами не рассылается
	NATSURL string `yaml:"nats_url"`
}

func (c *CacheConfig) GetEnabled() bool {
	return getBoolWithEnvFallback(c.Enabled, "DUNGEON_CACHE", false)
}

func (c *CacheConfig) GetRedisAddr() string {
	return getStringWithEnvFallback(c.RedisAddr, "DUNGEON_REDIS_ADDR", "localhost:6379")
}

func (c *CacheConfig) GetRedisPassword() string {
	return getStringWithEnvFallback(c.RedisPassword, "DUNGEON_REDIS_PASSWORD", "")
}

func (c *CacheConfig) GetRedisDB() int {
	return getIntWithEnvFallback(c.RedisDB, "DUNGEON_REDIS_DB", 0)
}

func (c *CacheConfig) GetTTL() time.Duration {
	return time.Duration(getIntWithEnvFallback(c.TTLSeconds, "DUNGEON_CACHE_TTL", 600)) * time.Second
}

func (c *CacheConfig) GetNATSURL() string {
	return getStringWithEnvFallback(c.NATSURL, "DUNGEON_CACHE_NATS_URL", "")
}

// EventBusConfig пустой URL означает шину в памяти процесса
type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Buffer    int    `yaml:"buffer"`
}

func (e *EventBusConfig) GetURL() string {
	return getStringWithEnvFallback(e.URL, "DUNGEON_NATS_URL", "")
}

func (e *EventBusConfig) GetStream() string {
	return getStringWithEnvFallback(e.Stream, "DUNGEON_NATS_STREAM", "DUNGEON")
}

func (e *EventBusConfig) GetRetention() time.Duration {
	return time.Duration(getIntWithEnvFallback(e.Retention, "DUNGEON_NATS_RETENTION_HOURS", 72)) * time.Hour
}

func (e *EventBusConfig) GetBuffer() int {
	return getIntWithEnvFallback(e.Buffer, "DUNGEON_EVENTBUS_BUFFER", 1024)
}

type TelemetryConfig struct {
	Enabled     *bool  `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

func (t *TelemetryConfig) GetEnabled() bool {
	return getBoolWithEnvFallback(t.Enabled, "DUNGEON_TELEMETRY", false)
}

func (t *TelemetryConfig) GetServiceName() string {
	return getStringWithEnvFallback(t.ServiceName, "DUNGEON_SERVICE_NAME", "grid-dungeon")
}

type DungeonConfig struct {
	StartTemplate string `yaml:"start_template"`
	SeedTemplates *bool  `yaml:"seed_templates"`
	Seed          int64  `yaml:"seed"`
	RoomWidth     int    `yaml:"room_width"`
	RoomHeight    int    `yaml:"room_height"`
	LinkRetries   int    `yaml:"link_retries"`
}

func (d *DungeonConfig) GetStartTemplate() string {
	return getStringWithEnvFallback(d.StartTemplate, "DUNGEON_START_TEMPLATE", "First")
}

func (d *DungeonConfig) GetSeedTemplates() bool {
	return getBoolWithEnvFallback(d.SeedTemplates, "DUNGEON_SEED_TEMPLATES", true)
}

// GetSeed 0 означает случайное зерно
func (d *DungeonConfig) GetSeed() int64 {
	if d.Seed != 0 {
		return d.Seed
	}
	if v := os.Getenv("DUNGEON_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

func (d *DungeonConfig) GetRoomWidth() int {
	return getIntWithEnvFallback(d.RoomWidth, "DUNGEON_ROOM_WIDTH", 15)
}

func (d *DungeonConfig) GetRoomHeight() int {
	return getIntWithEnvFallback(d.RoomHeight, "DUNGEON_ROOM_HEIGHT", 11)
}

func (d *DungeonConfig) GetLinkRetries() int {
	return getIntWithEnvFallback(d.LinkRetries, "DUNGEON_LINK_RETRIES", 3)
}

type AuthConfig struct {
	// JWTSecret base64; пустой: случайный ключ на время жизни процесса
	JWTSecret     string `yaml:"jwt_secret"`
	AdminUser     string `yaml:"admin_user"`
	AdminPassword string `yaml:"admin_password"`
}

// GetJWTSecret декодирует ключ подписи токенов; nil, если ключ не задан
func (a *AuthConfig) GetJWTSecret() ([]byte, error) {
	raw := getStringWithEnvFallback(a.JWTSecret, "DUNGEON_JWT_SECRET", "")
	if raw == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("auth.jwt_secret: %w", err)
	}
	return key, nil
}

func (a *AuthConfig) GetAdminUser() string {
	return getStringWithEnvFallback(a.AdminUser, "DUNGEON_ADMIN_USER", "admin")
}

func (a *AuthConfig) GetAdminPassword() string {
	return getStringWithEnvFallback(a.AdminPassword, "DUNGEON_ADMIN_PASSWORD", "")
}

// getIntWithEnvFallback возвращает значение с приоритетом: config -> env -> default
func getIntWithEnvFallback(configVal int, envVar string, defaultVal int) int {
	if configVal > 0 {
		return configVal
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.Atoi(envVal); err == nil && v > 0 {
			return v
		}
	}
	return defaultVal
}

func getStringWithEnvFallback(configVal, envVar, defaultVal string) string {
	if configVal != "" {
		return configVal
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		return envVal
	}
	return defaultVal
}

func getBoolWithEnvFallback(configVal *bool, envVar string, defaultVal bool) bool {
	if configVal != nil {
		return *configVal
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.ParseBool(envVal); err == nil {
			return v
		}
	}
	return defaultVal
}

// Load читает YAML файл конфигурации.
// Если path == "", используется DUNGEON_CONFIG; без файла возвращается пустая
// конфигурация, и все значения берутся из окружения или по умолчанию.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("DUNGEON_CONFIG")
		if path == "" {
			return &Config{}, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}
