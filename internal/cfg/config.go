// Package cfg loads the automerger configuration file.
package cfg

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml"

	"github.com/simplesurance/automerger/internal/amerr"
)

const (
	DefGithubWebhookEndpoint = "/listener/github"
	DefMetricsEndpoint       = "/metrics"
	DefLogFormat             = "logfmt"
	DefLogTimeKey            = "time_iso8601"
	DefLogLevel              = "info"
	DefFilterQuery           = "true"
	DefCheckSuiteConcurrency = 4
)

// Environment variables overriding the secrets of the configuration file.
const (
	EnvGithubWebhookSecret = "AUTOMERGER_GITHUB_WEBHOOK_SECRET"
	EnvGithubAPIToken      = "AUTOMERGER_GITHUB_API_TOKEN"
	EnvGithubAppID         = "AUTOMERGER_GITHUB_APP_ID"
	EnvGithubAppPrivateKey = "AUTOMERGER_GITHUB_APP_PRIVATE_KEY"
)

type Config struct {
	HTTPListenAddr            string  `toml:"http_server_listen_addr"`
	HTTPSListenAddr           string  `toml:"https_server_listen_addr"`
	HTTPSCertFile             string  `toml:"https_ssl_cert_file"`
	HTTPSKeyFile              string  `toml:"https_ssl_key_file"`
	HTTPGithubWebhookEndpoint string  `toml:"github_webhook_endpoint"`
	PrometheusMetricsEndpoint string  `toml:"prometheus_metrics_endpoint"`
	GithubWebHookSecret       string  `toml:"github_webhook_secret"`
	GithubAPIToken            string  `toml:"github_api_token"`
	GithubAppID               int64   `toml:"github_app_id"`
	GithubAppPrivateKeyFile   string  `toml:"github_app_private_key_file"`
	GithubAppPrivateKey       string  `toml:"github_app_private_key"`
	LogFormat                 string  `toml:"log_format"`
	LogTimeKey                string  `toml:"log_time_key"`
	LogLevel                  string  `toml:"log_level"`
	DryRun                    bool    `toml:"dry_run"`
	FilterQuery               string  `toml:"filter_query"`
	CheckSuiteConcurrency     int     `toml:"check_suite_concurrency"`
	Merge                     Merge   `toml:"merge"`
	Labels                    []Label `toml:"label"`
}

// Merge contains the conditions a pull request must meet to be merged.
type Merge struct {
	ReadyStates          []string `toml:"ready_states"`
	PermittedPermissions []string `toml:"permitted_permissions"`
}

// Label maps a pull request label to a merge method.
type Label struct {
	Name        string `toml:"name"`
	Method      string `toml:"method"`
	Color       string `toml:"color"`
	Description string `toml:"description"`
}

// DefaultLabels is the label table that is used when the configuration
// file does not define any label.
func DefaultLabels() []Label {
	return []Label{
		{Name: "auto-merge", Method: "merge", Color: "0e8a16", Description: "Merge the pull request automatically when it is ready"},
		{Name: "auto-squash", Method: "squash", Color: "1d76db", Description: "Squash and merge the pull request automatically when it is ready"},
		{Name: "auto-rebase", Method: "rebase", Color: "5319e7", Description: "Rebase and merge the pull request automatically when it is ready"},
	}
}

// Load reads a TOML configuration from reader and applies default values
// for unset optional settings.
func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	result.setDefaults()

	return &result, nil
}

func (c *Config) setDefaults() {
	if c.HTTPGithubWebhookEndpoint == "" {
		c.HTTPGithubWebhookEndpoint = DefGithubWebhookEndpoint
	}

	if c.PrometheusMetricsEndpoint == "" {
		c.PrometheusMetricsEndpoint = DefMetricsEndpoint
	}

	if c.LogFormat == "" {
		c.LogFormat = DefLogFormat
	}

	if c.LogTimeKey == "" {
		c.LogTimeKey = DefLogTimeKey
	}

	if c.LogLevel == "" {
		c.LogLevel = DefLogLevel
	}

	if c.FilterQuery == "" {
		c.FilterQuery = DefFilterQuery
	}

	if c.CheckSuiteConcurrency == 0 {
		c.CheckSuiteConcurrency = DefCheckSuiteConcurrency
	}

	if len(c.Merge.ReadyStates) == 0 {
		c.Merge.ReadyStates = []string{"clean", "has_hooks"}
	}

	if len(c.Merge.PermittedPermissions) == 0 {
		c.Merge.PermittedPermissions = []string{"write", "admin"}
	}

	if len(c.Labels) == 0 {
		c.Labels = DefaultLabels()
	}
}

// LoadEnvFile sets the environment variables defined in the dotenv file at
// path. Variables that are already set in the environment are not overwritten.
func LoadEnvFile(path string) error {
	return godotenv.Load(path)
}

// ApplyEnv overwrites secrets with the values of their environment
// variables, if they are set.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvGithubWebhookSecret); v != "" {
		c.GithubWebHookSecret = v
	}

	if v := os.Getenv(EnvGithubAPIToken); v != "" {
		c.GithubAPIToken = v
	}

	if v := os.Getenv(EnvGithubAppPrivateKey); v != "" {
		c.GithubAppPrivateKey = v
	}

	if v := os.Getenv(EnvGithubAppID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return &amerr.ConfigurationError{
				Key:    EnvGithubAppID,
				Reason: fmt.Sprintf("not an integer: %q", v),
			}
		}

		c.GithubAppID = id
	}

	return nil
}

// AppPrivateKey returns the PEM encoded private key of the GitHub App.
// The inline key takes precedence over the key file.
func (c *Config) AppPrivateKey() ([]byte, error) {
	if c.GithubAppPrivateKey != "" {
		return []byte(c.GithubAppPrivateKey), nil
	}

	if c.GithubAppPrivateKeyFile == "" {
		return nil, nil
	}

	return os.ReadFile(c.GithubAppPrivateKeyFile)
}

// UsesGithubApp returns true if the configuration authenticates as a GitHub App
// instead of with a static API token.
func (c *Config) UsesGithubApp() bool {
	return c.GithubAppID != 0
}

var mergeMethods = map[string]struct{}{
	"merge":  {},
	"squash": {},
	"rebase": {},
}

// Validate returns an *amerr.ConfigurationError if a required setting is
// missing or a setting has an invalid value.
func (c *Config) Validate() error {
	if c.GithubWebHookSecret == "" {
		return &amerr.ConfigurationError{Key: "github_webhook_secret", Reason: "must be set"}
	}

	if c.UsesGithubApp() {
		if c.GithubAppPrivateKey == "" && c.GithubAppPrivateKeyFile == "" {
			return &amerr.ConfigurationError{
				Key:    "github_app_private_key",
				Reason: "github_app_private_key or github_app_private_key_file must be set when github_app_id is set",
			}
		}
	} else if c.GithubAPIToken == "" {
		return &amerr.ConfigurationError{
			Key:    "github_api_token",
			Reason: "github_api_token or github_app_id must be set",
		}
	}

	if c.HTTPListenAddr == "" && c.HTTPSListenAddr == "" {
		return &amerr.ConfigurationError{
			Key:    "http_server_listen_addr",
			Reason: "https_server_listen_addr or http_server_listen_addr must be set",
		}
	}

	if c.CheckSuiteConcurrency < 1 {
		return &amerr.ConfigurationError{Key: "check_suite_concurrency", Reason: "must be >=1"}
	}

	if len(c.Merge.ReadyStates) == 0 {
		return &amerr.ConfigurationError{Key: "merge.ready_states", Reason: "must not be empty"}
	}

	if len(c.Merge.PermittedPermissions) == 0 {
		return &amerr.ConfigurationError{Key: "merge.permitted_permissions", Reason: "must not be empty"}
	}

	seen := make(map[string]struct{}, len(c.Labels))
	for i, l := range c.Labels {
		if l.Name == "" {
			return &amerr.ConfigurationError{Key: fmt.Sprintf("label[%d].name", i), Reason: "must not be empty"}
		}

		if _, exist := seen[l.Name]; exist {
			return &amerr.ConfigurationError{Key: fmt.Sprintf("label[%d].name", i), Reason: fmt.Sprintf("duplicate label %q", l.Name)}
		}
		seen[l.Name] = struct{}{}

		if _, ok := mergeMethods[l.Method]; !ok {
			return &amerr.ConfigurationError{
				Key:    fmt.Sprintf("label[%d].method", i),
				Reason: fmt.Sprintf("unsupported merge method %q, must be merge, squash or rebase", l.Method),
			}
		}
	}

	return nil
}

func (c *Config) Marshal(writer io.Writer) error {
	return toml.NewEncoder(writer).Encode(c)
}
