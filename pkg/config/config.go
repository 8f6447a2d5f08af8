// Package config loads pharmanet settings from environment variables and an
// optional pharmanet.yaml through viper.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"pharmanet/pkg/domain"
)

// EnvPrefix prefixes every environment variable, e.g. PHARMANET_LEDGER_DRIVER.
const EnvPrefix = "PHARMANET"

// Config groups the settings of every binary.
type Config struct {
	App       AppConfig
	Log       LogConfig
	Ledger    LedgerConfig
	Blob      BlobConfig
	Orgs      OrgsConfig
	Metrics   MetricsConfig
	Chaincode ChaincodeConfig
}

// AppConfig holds general settings.
type AppConfig struct {
	Env  string // development, staging, production
	Name string
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level string
}

// LedgerConfig selects the local ledger backend.
type LedgerConfig struct {
	Driver      string // memory|sqlite|postgres|leveldb
	SQLitePath  string
	PostgresDSN string
	LevelDBPath string
}

// BlobConfig selects the blob store used for ledger archives.
type BlobConfig struct {
	Driver string // fs|s3|memory
	FSRoot string
	S3     S3Config
}

// S3Config holds S3 / MinIO settings.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// OrgsConfig maps each organisation to its MSP id.
type OrgsConfig struct {
	Manufacturer string
	Distributor  string
	Retailer     string
	Transporter  string
	Consumer     string
}

// Directory builds the MSP directory used for caller authorization.
func (c OrgsConfig) Directory() (domain.OrgDirectory, error) {
	return domain.NewOrgDirectory(map[domain.Organization]string{
		domain.OrgManufacturer: c.Manufacturer,
		domain.OrgDistributor:  c.Distributor,
		domain.OrgRetailer:     c.Retailer,
		domain.OrgTransporter:  c.Transporter,
		domain.OrgConsumer:     c.Consumer,
	})
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string
}

// ChaincodeConfig enables chaincode-as-a-service when Address and ID are set.
type ChaincodeConfig struct {
	Address string
	ID      string
}

// External reports whether the chaincode should run as an external service.
func (c ChaincodeConfig) External() bool {
	return c.Address != "" && c.ID != ""
}

// Load reads configuration. Environment variables take precedence over the
// file. When path is empty, pharmanet.yaml is looked up in the working
// directory and ./config and silently skipped if absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("pharmanet")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		App: AppConfig{
			Env:  v.GetString("app.env"),
			Name: v.GetString("app.name"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
		},
		Ledger: LedgerConfig{
			Driver:      v.GetString("ledger.driver"),
			SQLitePath:  v.GetString("ledger.sqlite_path"),
			PostgresDSN: v.GetString("ledger.postgres_dsn"),
			LevelDBPath: v.GetString("ledger.leveldb_path"),
		},
		Blob: BlobConfig{
			Driver: v.GetString("blob.driver"),
			FSRoot: v.GetString("blob.fs_root"),
			S3: S3Config{
				Bucket:    v.GetString("blob.s3.bucket"),
				Region:    v.GetString("blob.s3.region"),
				Endpoint:  v.GetString("blob.s3.endpoint"),
				PathStyle: v.GetBool("blob.s3.path_style"),
			},
		},
		Orgs: OrgsConfig{
			Manufacturer: v.GetString("orgs.manufacturer"),
			Distributor:  v.GetString("orgs.distributor"),
			Retailer:     v.GetString("orgs.retailer"),
			Transporter:  v.GetString("orgs.transporter"),
			Consumer:     v.GetString("orgs.consumer"),
		},
		Metrics: MetricsConfig{
			Addr: v.GetString("metrics.addr"),
		},
		Chaincode: ChaincodeConfig{
			Address: v.GetString("chaincode.address"),
			ID:      v.GetString("chaincode.id"),
		},
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "production")
	v.SetDefault("app.name", "pharmanet")
	v.SetDefault("log.level", "info")

	v.SetDefault("ledger.driver", "sqlite")
	v.SetDefault("ledger.sqlite_path", "pharmanet.db")
	v.SetDefault("ledger.postgres_dsn", "postgres://localhost/pharmanet?sslmode=disable")
	v.SetDefault("ledger.leveldb_path", "pharmanet-ledger")

	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.fs_root", "./pharmanet-archives")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.region", "us-east-1")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.path_style", false)

	v.SetDefault("orgs.manufacturer", domain.DefaultMSPs[domain.OrgManufacturer])
	v.SetDefault("orgs.distributor", domain.DefaultMSPs[domain.OrgDistributor])
	v.SetDefault("orgs.retailer", domain.DefaultMSPs[domain.OrgRetailer])
	v.SetDefault("orgs.transporter", domain.DefaultMSPs[domain.OrgTransporter])
	v.SetDefault("orgs.consumer", domain.DefaultMSPs[domain.OrgConsumer])

	v.SetDefault("metrics.addr", "")
	v.SetDefault("chaincode.address", "")
	v.SetDefault("chaincode.id", "")
}
