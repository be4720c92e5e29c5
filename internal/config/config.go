// Package config loads the two configuration layers this system
// needs: process bootstrap config from the environment (broker/cache
// addresses, timeouts, storage credentials), read with a plain
// os.Getenv-with-default pattern, and the WorkerConfig catalog from a
// JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the process-wide bootstrap configuration, built once at
// startup from the environment.
type Config struct {
	RootDomain string
	ConfigPath string

	BrokerHost string
	BrokerPort int
	CacheHost  string
	CachePort  int

	// ServiceAddr maps a job type's routing key to its Service RPC
	// address (host:port), e.g. "IMAGE_GENERATION" -> "localhost:9001".
	ServiceAddr map[string]string

	PollingDeadline     time.Duration
	DefaultKeepAlive    int
	StorageEndpoint     string
	StorageAccessKey    string
	StorageSecretKey    string
	StorageSecure       bool
	StorageTTLDays      int
	TempDir             string
	StreamPortLo        int
	StreamPortHi        int
	ServicesNetworkName string
	AuthKey             string
}

func getenv(key, def string) string {
	if v := os.Getenv("SMI_" + key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv("SMI_" + key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv("SMI_" + key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Load builds a Config from the environment, applying a
// defaults-unless-overridden pattern to every SMI_* variable.
func Load() *Config {
	return &Config{
		RootDomain:          getenv("ROOT_DOMAIN", "localhost"),
		ConfigPath:          getenv("CONFIG_PATH", "/etc/smi"),
		BrokerHost:          getenv("BROKER_HOST", "localhost"),
		BrokerPort:          getenvInt("BROKER_PORT", 6379),
		CacheHost:           getenv("CACHE_HOST", "localhost"),
		CachePort:           getenvInt("CACHE_PORT", 6379),
		ServiceAddr:         serviceAddrsFromEnv(),
		PollingDeadline:     time.Duration(getenvInt("POLLING_DEADLINE_SECONDS", 500)) * time.Second,
		DefaultKeepAlive:    getenvInt("DEFAULT_KEEP_ALIVE_MINUTES", 5),
		StorageEndpoint:     getenv("STORAGE_ENDPOINT", ""),
		StorageAccessKey:    getenv("STORAGE_ACCESS_KEY", ""),
		StorageSecretKey:    getenv("STORAGE_SECRET_KEY", ""),
		StorageSecure:       getenvBool("STORAGE_SECURE", true),
		StorageTTLDays:      getenvInt("STORAGE_TTL_DAYS", 7),
		TempDir:             getenv("TEMP_DIR", os.TempDir()),
		StreamPortLo:        getenvInt("STREAM_PORT_LO", 20000),
		StreamPortHi:        getenvInt("STREAM_PORT_HI", 21000),
		ServicesNetworkName: getenv("SERVICES_NETWORK", "smi-services"),
		AuthKey:             getenv("AUTH_KEY", ""),
	}
}

// serviceAddrsFromEnv reads SMI_SERVICE_ADDR_<TYPE> for each of the
// four routable job types, e.g. SMI_SERVICE_ADDR_IMAGE_GENERATION.
func serviceAddrsFromEnv() map[string]string {
	types := []string{"IMAGE_GENERATION", "LLM_GENERATION", "AUDIO_GENERATION", "VIDEO_GENERATION"}
	addrs := make(map[string]string, len(types))
	for _, t := range types {
		addrs[t] = getenv("SERVICE_ADDR_"+t, "localhost:0")
	}
	return addrs
}

// WorkerConfig is one entry in the worker catalog: an immutable
// description of a worker implementation loaded once at startup and
// exposed read-only via /v1/workers/list.
type WorkerConfig struct {
	WorkerID           string `json:"worker_id"`
	Model              string `json:"model"`
	WorkerClass        string `json:"worker_class"`
	Type               string `json:"type"`
	RequestModelClass  string `json:"request_model_class"`
	ResponseModelClass string `json:"response_model_class"`
}

// Catalog is the immutable set of WorkerConfigs, keyed by worker_id.
type Catalog struct {
	configs map[string]WorkerConfig
	order   []string
}

// NewCatalogForTest builds a Catalog directly from entries, bypassing
// the file-loading path for tests.
func NewCatalogForTest(entries []WorkerConfig) *Catalog {
	c := &Catalog{configs: make(map[string]WorkerConfig, len(entries))}
	for _, e := range entries {
		c.configs[e.WorkerID] = e
		c.order = append(c.order, e.WorkerID)
	}
	return c
}

// LoadCatalog reads the worker catalog JSON file at path. When path is
// a directory (such as the default CONFIG_PATH), the file read is
// "workers.json" inside it.
func LoadCatalog(path string) (*Catalog, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "workers.json")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read worker catalog: %w", err)
	}
	var entries []WorkerConfig
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse worker catalog: %w", err)
	}
	c := &Catalog{configs: make(map[string]WorkerConfig, len(entries))}
	for _, e := range entries {
		c.configs[e.WorkerID] = e
		c.order = append(c.order, e.WorkerID)
	}
	return c, nil
}

// Get returns the WorkerConfig for worker_id, or false if unknown.
func (c *Catalog) Get(workerID string) (WorkerConfig, bool) {
	wc, ok := c.configs[workerID]
	return wc, ok
}

// List returns all configs in catalog-file order.
func (c *Catalog) List() []WorkerConfig {
	out := make([]WorkerConfig, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.configs[id])
	}
	return out
}
