package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"
)

// DefaultContainerImage is the runtime image recipes are baked in unless overridden.
const DefaultContainerImage = "pangeo/forge:8a862dc"

type SecretConfig struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type BakeConfig struct {
	Repo           string `yaml:"repo"`
	Ref            string `yaml:"ref"`
	Prune          bool   `yaml:"prune"`
	Bakery         string `yaml:"bakery"`
	ContainerImage string `yaml:"container_image"`
	// Schedule is a 6-field cron spec; when set the bake repeats in-process.
	Schedule string `yaml:"schedule"`
}

type LocalDirectConfig struct {
	// NumWorkers bounds parallel tasks per transform. 0 means one per CPU.
	NumWorkers  int    `yaml:"num_workers"`
	RunningMode string `yaml:"running_mode"`
}

type LocalDockerConfig struct {
	CPUs    string `yaml:"cpus"`
	Memory  string `yaml:"memory"`
	Command string `yaml:"command"`
}

type DataflowConfig struct {
	ProjectID       string `yaml:"project_id"`
	Region          string `yaml:"region"`
	MachineType     string `yaml:"machine_type"`
	UsePublicIPs    bool   `yaml:"use_public_ips"`
	TempBucket      string `yaml:"temp_bucket"`
	MaxWorkers      int    `yaml:"max_workers"`
	CredentialsFile string `yaml:"credentials_file"`
}

type CloudRunConfig struct {
	ProjectID           string `yaml:"project_id"`
	Region              string `yaml:"region"`
	CPU                 string `yaml:"cpu"`
	Memory              string `yaml:"memory"`
	ServiceAccountEmail string `yaml:"service_account_email"`
	Schedule            string `yaml:"schedule"`
	Command             string `yaml:"command"`
	CredentialsFile     string `yaml:"credentials_file"`
}

// StorageConfig describes one storage location. RootPath may contain {job_name}.
type StorageConfig struct {
	Class    string            `yaml:"class"`
	RootPath string            `yaml:"root_path"`
	Args     map[string]string `yaml:"args"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type InfisicalConfig struct {
	Enabled      bool   `yaml:"enabled"`
	SiteURL      string `yaml:"site_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	ProjectID    string `yaml:"project_id"`
	Environment  string `yaml:"environment"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Bake                 BakeConfig        `yaml:"bake"`
	LocalDirect          LocalDirectConfig `yaml:"local_direct"`
	LocalDocker          LocalDockerConfig `yaml:"local_docker"`
	Dataflow             DataflowConfig    `yaml:"dataflow"`
	CloudRun             CloudRunConfig    `yaml:"cloud_run"`
	TargetStorage        StorageConfig     `yaml:"target_storage"`
	InputCacheStorage    StorageConfig     `yaml:"input_cache_storage"`
	MetadataCacheStorage StorageConfig     `yaml:"metadata_cache_storage"`
	Store                StoreConfig       `yaml:"store"`
	Infisical            InfisicalConfig   `yaml:"infisical"`
	Secrets              []SecretConfig    `yaml:"secrets"`
	Log                  LogConfig         `yaml:"log"`
}

// Default returns the built-in settings every other layer is applied over.
func Default() *Config {
	return &Config{
		Bake: BakeConfig{
			Bakery:         "local-direct",
			ContainerImage: DefaultContainerImage,
		},
		LocalDirect: LocalDirectConfig{RunningMode: "multi_threading"},
		LocalDocker: LocalDockerConfig{Command: "forge-runner"},
		Dataflow: DataflowConfig{
			Region:      "us-central1",
			MachineType: "n1-highmem-2",
		},
		CloudRun: CloudRunConfig{
			CPU:     "1",
			Memory:  "2Gi",
			Command: "forge-runner",
		},
		TargetStorage:        StorageConfig{Class: "file"},
		InputCacheStorage:    StorageConfig{Class: "file"},
		MetadataCacheStorage: StorageConfig{Class: "file"},
		Log:                  LogConfig{Level: "info", Format: "text"},
	}
}

// Load resolves configuration from defaults, the YAML file at path (or
// FORGE_CONFIG), .env and the environment. Command-line overrides are applied
// by the caller afterwards.
func Load(path string) (*Config, error) {
	// let's load the config from the .env file
	if err := godotenv.Load(); err != nil {
		logrus.Debugf("no .env file loaded: %v", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv("FORGE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Bake.Bakery = getEnv("FORGE_BAKERY", c.Bake.Bakery)
	c.Bake.ContainerImage = getEnv("FORGE_CONTAINER_IMAGE", c.Bake.ContainerImage)
	c.Log.Level = getEnv("FORGE_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("FORGE_LOG_FORMAT", c.Log.Format)

	c.Dataflow.ProjectID = getEnv("GCP_PROJECT_ID", c.Dataflow.ProjectID)
	c.Dataflow.Region = getEnv("GCP_REGION", c.Dataflow.Region)
	c.Dataflow.TempBucket = getEnv("DATAFLOW_TEMP_BUCKET", c.Dataflow.TempBucket)
	c.Dataflow.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", c.Dataflow.CredentialsFile)
	c.CloudRun.ProjectID = getEnv("GCP_PROJECT_ID", c.CloudRun.ProjectID)
	c.CloudRun.Region = getEnv("GCP_REGION", c.CloudRun.Region)
	c.CloudRun.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", c.CloudRun.CredentialsFile)

	c.Store.Driver = getEnv("FORGE_STORE_DRIVER", c.Store.Driver)
	c.Store.Path = getEnv("FORGE_STORE_PATH", c.Store.Path)

	enabled, err := getEnvBool("USE_INFISICAL", c.Infisical.Enabled)
	if err != nil {
		return err
	}
	c.Infisical.Enabled = enabled
	c.Infisical.SiteURL = getEnv("INFISICAL_API_URL", c.Infisical.SiteURL)
	c.Infisical.ClientID = getEnv("INFISICAL_CLIENT_ID", c.Infisical.ClientID)
	c.Infisical.ClientSecret = getEnv("INFISICAL_CLIENT_SECRET", c.Infisical.ClientSecret)
	c.Infisical.ProjectID = getEnv("INFISICAL_PROJECT_ID", c.Infisical.ProjectID)
	c.Infisical.Environment = getEnv("INFISICAL_ENV", c.Infisical.Environment)
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

// ConfigurationError reports a mandatory setting that is absent and could not
// be derived.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return e.Setting + " " + e.Reason
}

// Missing returns a ConfigurationError for an unset mandatory setting.
func Missing(setting string) error {
	return &ConfigurationError{Setting: setting, Reason: "must be set"}
}

func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
