package ops

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/nicklasfrahm/sshrunas/pkg/rexec"
	"github.com/nicklasfrahm/sshrunas/pkg/sshx"
)

// Endpoint describes how to reach an SSH server. Credentials are never
// stored directly; they are read from the named environment variables.
type Endpoint struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	UserEnv       string `yaml:"user-env"`
	PasswordEnv   string `yaml:"password-env"`
	KeyFile       string `yaml:"key-file"`
	PassphraseEnv string `yaml:"passphrase-env"`
	Fingerprint   string `yaml:"fingerprint"`
	KnownHosts    string `yaml:"known-hosts"`
}

// Settings describe a run as given by the user, either as command line
// flags or in a settings file.
type Settings struct {
	Command  string `yaml:"command"`
	Endpoint `yaml:",inline"`

	// Proxy is an optional bastion host.
	Proxy *Endpoint `yaml:"proxy"`

	LockFile string            `yaml:"lock-file"`
	Env      map[string]string `yaml:"env"`
	Uploads  []rexec.Upload    `yaml:"uploads"`

	Timeout      time.Duration `yaml:"timeout"`
	Retries      int           `yaml:"retries"`
	PollInterval time.Duration `yaml:"poll-interval"`
}

// LoadSettings reads settings from a YAML file.
func LoadSettings(path string) (*Settings, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	settings := new(Settings)
	if err := yaml.Unmarshal(content, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// Merge fills every field that is not set yet with the value from the
// other settings. Values that are already set are kept.
func (s *Settings) Merge(other *Settings) error {
	if other == nil {
		return nil
	}
	return mergo.Merge(s, other)
}

// Resolve reads the credentials from the environment and turns the
// settings into a validated configuration. All problems are reported
// at once in a *rexec.ConfigError.
func (s *Settings) Resolve() (*rexec.Config, error) {
	resolver := &resolver{failed: make(map[string]bool)}

	config := &rexec.Config{
		Command:  s.Command,
		Env:      s.Env,
		SSH:      resolver.endpoint("ssh", &s.Endpoint),
		LockFile: s.LockFile,
		Uploads:  s.Uploads,
	}

	if s.Proxy != nil {
		proxy := resolver.endpoint("proxy", s.Proxy)
		config.Proxy = &proxy
	}

	if s.Timeout < 0 {
		resolver.violate("timeout", "must not be negative")
	}
	if s.Retries < 0 {
		resolver.violate("retries", "must not be negative")
	}
	if s.PollInterval < 0 {
		resolver.violate("poll-interval", "must not be negative")
	}

	if err := config.Validate(); err != nil {
		var configErr *rexec.ConfigError
		if !errors.As(err, &configErr) {
			return nil, err
		}

		for _, violation := range configErr.Violations {
			// Skip follow-up errors of credentials that could not be resolved.
			field, _, _ := strings.Cut(violation, " ")
			if !resolver.failed[field] {
				resolver.violations = append(resolver.violations, violation)
			}
		}
	}

	if len(resolver.violations) > 0 {
		return nil, &rexec.ConfigError{Violations: resolver.violations}
	}

	return config, nil
}

type resolver struct {
	violations []string
	failed     map[string]bool
}

func (r *resolver) violate(field string, message string) {
	r.violations = append(r.violations, field+" "+message)
	r.failed[field] = true
}

// env resolves the value of the environment variable with the given name.
func (r *resolver) env(field string, name string) string {
	if strings.TrimSpace(name) == "" {
		r.violate(field+"-env", "can not be empty or whitespace")
		r.failed[field] = true
		return ""
	}

	value := os.Getenv(name)
	if value == "" {
		r.violate(field, fmt.Sprintf("environment variable %s is not set or empty", name))
	}

	return value
}

func (r *resolver) endpoint(prefix string, endpoint *Endpoint) sshx.Config {
	config := sshx.Config{
		Host:        endpoint.Host,
		Port:        endpoint.Port,
		User:        r.env(prefix+".user", endpoint.UserEnv),
		KeyFile:     endpoint.KeyFile,
		Fingerprint: endpoint.Fingerprint,
		KnownHosts:  endpoint.KnownHosts,
	}

	// A password is only required if no key is configured.
	if endpoint.PasswordEnv != "" || endpoint.KeyFile == "" {
		config.Password = r.env(prefix+".password", endpoint.PasswordEnv)
	}

	if endpoint.PassphraseEnv != "" {
		config.Passphrase = r.env(prefix+".passphrase", endpoint.PassphraseEnv)
	}

	if config.Port == 0 {
		config.Port = sshx.DefaultPort
	}

	return config
}
