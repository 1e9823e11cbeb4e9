package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// key binds one setting to its flag and environment variable.
type key struct {
	flag    string
	alias   string
	env     string
	usage   string
	boolean bool
	set     func(c *Config, v string) error
}

var keys = []key{
	{flag: "client-id", env: "FITBIT_CLIENT_ID", usage: "Fitbit OAuth client id",
		set: func(c *Config, v string) error { c.Fitbit.ClientID = v; return nil }},
	{flag: "client-secret", env: "FITBIT_CLIENT_SECRET",
		usage: "Fitbit OAuth client secret; prefer the environment or .env, flag values are visible in the process list",
		set: func(c *Config, v string) error { c.Fitbit.ClientSecret = v; return nil }},
	{flag: "callback-addr", env: "FITBIT_CALLBACK_ADDR", usage: "host:port of the local authorization callback listener",
		set: func(c *Config, v string) error { c.Fitbit.CallbackAddr = v; return nil }},
	{flag: "scopes", env: "FITBIT_SCOPES", usage: "space separated OAuth scopes to request",
		set: func(c *Config, v string) error { c.Fitbit.Scopes = v; return nil }},
	{flag: "refresh-margin", env: "FITBIT_REFRESH_MARGIN", usage: "refresh the token this long before it expires (0 disables)",
		set: func(c *Config, v string) error { return setDuration(&c.Fitbit.RefreshMargin, v) }},
	{flag: "rate-limit", env: "FITBIT_RATE_LIMIT", usage: "maximum API requests per hour (0 disables)",
		set: func(c *Config, v string) error { return setInt(&c.Fitbit.RateLimit, v) }},
	{flag: "open-browser", env: "FITBIT_OPEN_BROWSER", usage: "open the authorization page in a browser", boolean: true,
		set: func(c *Config, v string) error { return setBool(&c.Fitbit.OpenBrowser, v) }},
	{flag: "store", env: "FITBIT_STORE", usage: "token store: file, memory or redis",
		set: func(c *Config, v string) error { c.Store.Type = v; return nil }},
	{flag: "token-file", env: "FITBIT_TOKEN_FILE", usage: "path of the token file, relative paths resolve against the binary's directory",
		set: func(c *Config, v string) error { c.Store.TokenFile = v; return nil }},
	{flag: "redis-addr", env: "REDIS_ADDR", usage: "redis address",
		set: func(c *Config, v string) error { c.Store.Redis.Addr = v; return nil }},
	{flag: "redis-password", env: "REDIS_PASSWORD", usage: "redis password",
		set: func(c *Config, v string) error { c.Store.Redis.Password = v; return nil }},
	{flag: "redis-db", env: "REDIS_DB", usage: "redis database number",
		set: func(c *Config, v string) error { return setInt(&c.Store.Redis.DB, v) }},
	{flag: "transport", alias: "t", env: "MCP_TRANSPORT", usage: "transport type (stdio or http)",
		set: func(c *Config, v string) error { c.Server.Transport = v; return nil }},
	{flag: "addr", env: "MCP_ADDR", usage: "address to listen on for the http transport",
		set: func(c *Config, v string) error { c.Server.Addr = v; return nil }},
	{flag: "log-level", env: "LOG_LEVEL", usage: "log level (DEBUG, INFO, WARN, ERROR)",
		set: func(c *Config, v string) error { c.LogLevel = v; return nil }},
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

// recorded remembers a flag value so it can be applied after the file and
// environment layers.
type recorded struct {
	value   string
	set     bool
	boolean bool
}

func (r *recorded) String() string   { return r.value }
func (r *recorded) IsBoolFlag() bool { return r.boolean }

func (r *recorded) Set(v string) error {
	r.value, r.set = v, true
	return nil
}

// Loader reads configuration from its sources.
type Loader struct {
	// LookupEnv reads a variable; defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// Output receives flag usage and parse errors; defaults to stderr.
	Output io.Writer
	// BaseDir anchors relative token file and dotenv paths. Defaults to the
	// directory of the running executable.
	BaseDir string
}

func (l *Loader) baseDir() string {
	if l.BaseDir != "" {
		return l.BaseDir
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

// resolve anchors a relative path at base. An empty base leaves it relative
// to the working directory.
func resolve(base, path string) string {
	if path == "" || base == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// Load reads the configuration for the process from args (without the
// program name) and the real environment.
func Load(args []string) (*Config, error) {
	return (&Loader{}).Load(args)
}

// Load parses args and layers every source over the defaults.
func (l *Loader) Load(args []string) (*Config, error) {
	lookup := l.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	flagSet := flag.NewFlagSet("fitbit-server", flag.ContinueOnError)
	if l.Output != nil {
		flagSet.SetOutput(l.Output)
	}
	var configPath, envFile string
	flagSet.StringVar(&configPath, "config", "", "path of a YAML config file (env FITBIT_CONFIG)")
	flagSet.StringVar(&envFile, "env-file", ".env",
		"path of a dotenv file, ignored when missing; relative paths resolve against the binary's directory")

	flags := make(map[string]*recorded, len(keys))
	for _, k := range keys {
		r := &recorded{boolean: k.boolean}
		flagSet.Var(r, k.flag, k.usage+" (env "+k.env+")")
		if k.alias != "" {
			flagSet.Var(r, k.alias, k.usage+" (shorthand)")
		}
		flags[k.flag] = r
	}
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}

	base := l.baseDir()
	dotenv, err := readDotEnv(resolve(base, envFile))
	if err != nil {
		return nil, err
	}
	env := func(name string) (string, bool) {
		if v, ok := lookup(name); ok {
			return v, true
		}
		v, ok := dotenv[name]
		return v, ok
	}

	cfg := Default()

	if configPath == "" {
		configPath, _ = env("FITBIT_CONFIG")
	}
	if configPath != "" {
		expand := func(name string) string {
			v, _ := env(name)
			return v
		}
		if err := loadFile(configPath, cfg, expand); err != nil {
			return nil, err
		}
	}

	for _, k := range keys {
		v, ok := env(k.env)
		if !ok || v == "" {
			continue
		}
		if err := k.set(cfg, v); err != nil {
			return nil, fmt.Errorf("%w: env %s=%q: %w", ErrInvalidConfig, k.env, v, err)
		}
	}

	for _, k := range keys {
		r := flags[k.flag]
		if !r.set {
			continue
		}
		if err := k.set(cfg, r.value); err != nil {
			return nil, fmt.Errorf("%w: flag -%s=%q: %w", ErrInvalidConfig, k.flag, r.value, err)
		}
	}

	cfg.Store.TokenFile = resolve(base, cfg.Store.TokenFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile decodes a YAML file over cfg. ${VAR} references are expanded
// from the environment first.
func LoadFile(path string, cfg *Config) error {
	return loadFile(path, cfg, os.Getenv)
}

func loadFile(path string, cfg *Config, expand func(string) string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	data = []byte(os.Expand(string(data), expand))

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return values, nil
}
