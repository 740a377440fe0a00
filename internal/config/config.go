package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration struct
type Config struct {
	Node     NodeConfig     `mapstructure:"node"`
	Kademlia KademliaConfig `mapstructure:"kademlia"`
	Record   RecordConfig   `mapstructure:"record"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// NodeConfig holds per-node configuration
type NodeConfig struct {
	// ID pins the node identity (hex). Empty means a fresh random ID.
	ID         string        `mapstructure:"id"`
	ListenAddr string        `mapstructure:"listenAddr"`
	RESTAddr   string        `mapstructure:"restAddr"`
	Seeds      []string      `mapstructure:"seeds"`
	Storage    StorageConfig `mapstructure:"storage"`
}

// StorageConfig selects and parameterizes the record store backend
type StorageConfig struct {
	Backend    string `mapstructure:"backend"` // "memory" | "pebble"
	PebblePath string `mapstructure:"pebblePath"`
}

// KademliaConfig holds the DHT protocol parameters
type KademliaConfig struct {
	BucketSize        int           `mapstructure:"bucketSize"`        // K
	Alpha             int           `mapstructure:"alpha"`             // lookup parallelism
	ReplicationFactor int           `mapstructure:"replicationFactor"` // replicas per store
	RPCTimeout        time.Duration `mapstructure:"rpcTimeout"`
	FailureThreshold  int           `mapstructure:"failureThreshold"` // probe failures before eviction
}

// RecordConfig holds stored-record lifetime settings
type RecordConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// ScheduleConfig holds maintenance interval settings
type ScheduleConfig struct {
	Republish     time.Duration `mapstructure:"republish"`
	ExpireSweep   time.Duration `mapstructure:"expireSweep"`
	BucketRefresh time.Duration `mapstructure:"bucketRefresh"`
}

// Load reads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("node.listenAddr", "0.0.0.0:7350")
	v.SetDefault("node.restAddr", "0.0.0.0:8350")
	v.SetDefault("node.storage.backend", "memory")
	v.SetDefault("node.storage.pebblePath", "")
	v.SetDefault("kademlia.bucketSize", 20)
	v.SetDefault("kademlia.alpha", 3)
	v.SetDefault("kademlia.replicationFactor", 20)
	v.SetDefault("kademlia.rpcTimeout", 2*time.Second)
	v.SetDefault("kademlia.failureThreshold", 5)
	v.SetDefault("record.ttl", 24*time.Hour)
	v.SetDefault("schedule.republish", 1*time.Hour)
	v.SetDefault("schedule.expireSweep", 1*time.Minute)
	v.SetDefault("schedule.bucketRefresh", 15*time.Minute)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Kademlia.BucketSize <= 0 {
		return fmt.Errorf("kademlia.bucketSize must be positive, got %d", c.Kademlia.BucketSize)
	}
	if c.Kademlia.Alpha <= 0 {
		return fmt.Errorf("kademlia.alpha must be positive, got %d", c.Kademlia.Alpha)
	}
	if c.Kademlia.ReplicationFactor <= 0 {
		return fmt.Errorf("kademlia.replicationFactor must be positive, got %d", c.Kademlia.ReplicationFactor)
	}
	if c.Kademlia.RPCTimeout <= 0 {
		return fmt.Errorf("kademlia.rpcTimeout must be positive, got %s", c.Kademlia.RPCTimeout)
	}
	switch c.Node.Storage.Backend {
	case "memory", "pebble":
	default:
		return fmt.Errorf("node.storage.backend must be memory or pebble, got %q", c.Node.Storage.Backend)
	}
	return nil
}
