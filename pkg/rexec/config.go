package rexec

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nicklasfrahm/sshrunas/pkg/sshx"
)

var (
	envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	validate       = newValidator()
)

// Config describes a single remote execution. It must not be modified
// while a run is in progress.
type Config struct {
	// Command is the command line to execute on the remote host.
	Command string `yaml:"command" validate:"notblank"`

	// Env is injected into the environment of the command.
	Env map[string]string `yaml:"env" validate:"dive,keys,envname,endkeys"`

	// SSH describes the connection to the target host with resolved
	// credentials.
	SSH sshx.Config `yaml:"ssh"`

	// Proxy optionally describes an SSH bastion host.
	Proxy *sshx.Config `yaml:"proxy" validate:"omitempty"`

	// LockFile is the path of the advisory lock file. An empty path
	// disables locking.
	LockFile string `yaml:"lock-file"`

	// Uploads are copied to the remote host before the command starts.
	Uploads []Upload `yaml:"uploads" validate:"dive"`
}

// Upload describes a local file that is copied to the remote host.
type Upload struct {
	Source string      `yaml:"source" validate:"notblank"`
	Target string      `yaml:"target" validate:"notblank"`
	Mode   os.FileMode `yaml:"mode"`
}

// ConfigError lists every violation found while validating a Config.
type ConfigError struct {
	Violations []string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + strings.Join(e.Violations, "; ")
}

// Unwrap allows errors.Is(err, ErrConfigInvalid).
func (e *ConfigError) Unwrap() error {
	return ErrConfigInvalid
}

// Validate checks that all required fields are present. It has no side
// effects and may be called repeatedly.
func (c *Config) Validate() error {
	if c == nil {
		return &ConfigError{Violations: []string{"configuration empty"}}
	}

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}

	violations := make([]string, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		violations = append(violations, describe(fieldError))
	}

	return &ConfigError{Violations: violations}
}

func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields the way they are spelled in configuration files.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})

	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("envname", func(fl validator.FieldLevel) bool {
		return envNamePattern.MatchString(fl.Field().String())
	})

	return v
}

func describe(fieldError validator.FieldError) string {
	field := fieldError.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	var message string
	switch fieldError.Tag() {
	case "notblank":
		message = "can not be empty or whitespace"
	case "required_without_all":
		message = "is required unless a private key is configured"
	case "envname":
		message = "is not a valid environment variable name"
	case "gte", "lte":
		message = "must be a valid port number"
	default:
		message = fmt.Sprintf("failed the %q check", fieldError.Tag())
	}

	return field + " " + message
}
