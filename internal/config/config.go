package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config models envline.yml.
type Config struct {
	Server   Server  `yaml:"server"`
	LogLevel string  `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	Sandbox  Sandbox `yaml:"sandbox"`
	Seed     Seed    `yaml:"seed"`
}

// Server is where the client sends requests.
type Server struct {
	URL      string        `yaml:"url" validate:"required,url"`
	BasePath string        `yaml:"base_path" validate:"required,startswith=/"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
}

// Sandbox configures envl serve.
type Sandbox struct {
	Addr      string `yaml:"addr" validate:"required,hostname_port"`
	CipherKey string `yaml:"cipher_key" validate:"required"`
}

// Seed lists the environments loaded into an empty sandbox store.
type Seed struct {
	Environments []SeedEnvironment `yaml:"environments" validate:"dive"`
}

type SeedEnvironment struct {
	Name      string         `yaml:"name" validate:"required"`
	Repos     []string       `yaml:"repos" validate:"dive,required"`
	Pipelines []SeedPipeline `yaml:"pipelines" validate:"dive"`
	Agents    []SeedAgent    `yaml:"agents" validate:"dive"`
	Variables []SeedVariable `yaml:"variables" validate:"dive"`
}

// SeedPipeline is a pipeline membership. An empty Repo means the server config.
type SeedPipeline struct {
	Name string `yaml:"name" validate:"required"`
	Repo string `yaml:"repo"`
}

type SeedAgent struct {
	UUID     string `yaml:"uuid" validate:"required"`
	Hostname string `yaml:"hostname"`
	Repo     string `yaml:"repo"`
}

type SeedVariable struct {
	Name   string `yaml:"name" validate:"required"`
	Value  string `yaml:"value"`
	Secure bool   `yaml:"secure"`
	Repo   string `yaml:"repo"`
}

var validate = validator.New()

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with envl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return c.validateSeed()
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %s", yamlPath(fe.Namespace()), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func (c *Config) validateSeed() error {
	seen := map[string]bool{}
	owner := map[string]string{}
	for _, env := range c.Seed.Environments {
		if seen[env.Name] {
			return fmt.Errorf("seed environment %s is declared twice", env.Name)
		}
		seen[env.Name] = true
		for _, p := range env.Pipelines {
			if other, ok := owner[p.Name]; ok {
				return fmt.Errorf("seed pipeline %s is in environments %s and %s", p.Name, other, env.Name)
			}
			owner[p.Name] = env.Name
		}
	}
	return nil
}

// yamlPath turns Config.Server.BasePath into config.server.base_path.
func yamlPath(ns string) string {
	parts := strings.Split(ns, ".")
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && s[i-1] != '[' && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "envline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys take
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Seed = Seed{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  url: http://localhost:8153
  base_path: /v1
  timeout: 10s

log_level: info

sandbox:
  addr: 127.0.0.1:8153
  cipher_key: envline-sandbox

seed:
  environments:
    - name: production
      repos: [deploy-config]
      pipelines:
        - name: build-linux
        - name: release
          repo: deploy-config
      agents:
        - uuid: agent-prod-1
          hostname: prod-runner-1
          repo: deploy-config
      variables:
        - name: REGION
          value: eu-west-1
        - name: DEPLOY_KEY
          value: change-me
          secure: true
          repo: deploy-config
    - name: staging
      pipelines:
        - name: build-windows
      variables:
        - name: REGION
          value: eu-central-1
`
