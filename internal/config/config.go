// Package config loads dirpin settings from defaults, an optional config file in the repo,
// DIRPIN_ environment variables and command line flags, in increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	chunk "github.com/ipfs/go-ipfs-chunker"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "DIRPIN"
	DefaultRepo    = "~/.dirpin"
	ConfigFileName = "config.yaml"
)

type Config struct {
	Repo    string        `mapstructure:"repo" validate:"required"`
	Store   StoreConfig   `mapstructure:"store"`
	Publish PublishConfig `mapstructure:"publish"`
	Server  ServerConfig  `mapstructure:"server"`
}

type StoreConfig struct {
	// Backend is "local" for the repo's own block store, "kubo" for a Kubo daemon
	Backend string        `mapstructure:"backend" validate:"oneof=local kubo"`
	API     string        `mapstructure:"api" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

type PublishConfig struct {
	Concurrency int `mapstructure:"concurrency" validate:"gte=1"`
	// ChunkSize bounds the bytes read from a file at once
	ChunkSize int `mapstructure:"chunk_size" validate:"gte=1"`
	// Chunker is a go-ipfs-chunker spec, used to split files into blocks
	Chunker string `mapstructure:"chunker" validate:"required"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" validate:"gte=1,lte=65535"`
}

// New returns a viper instance with every key defaulted and bound to its environment variable
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("repo", DefaultRepo)
	v.SetDefault("store.backend", "local")
	v.SetDefault("store.api", "http://localhost:5001")
	v.SetDefault("store.timeout", time.Duration(0))
	v.SetDefault("publish.concurrency", 4)
	v.SetDefault("publish.chunk_size", 64<<10)
	v.SetDefault("publish.chunker", "size-262144")
	v.SetDefault("server.port", 7777)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// RepoPath returns the repo directory v points at, with ~ expanded
func RepoPath(v *viper.Viper) (string, error) {
	repo, err := homedir.Expand(v.GetString("repo"))
	if err != nil {
		return "", fmt.Errorf("expanding repo path: %w", err)
	}
	return filepath.Clean(repo), nil
}

// ReadRepoConfig merges the repo's config file into v, if the repo has one
func ReadRepoConfig(v *viper.Viper) error {
	repo, err := RepoPath(v)
	if err != nil {
		return err
	}
	path := filepath.Join(repo, ConfigFileName)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}

var validate = validator.New()

// Load decodes and validates the settings in v
func Load(v *viper.Viper) (Config, error) {
	var out Config
	if err := v.UnmarshalExact(&out); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	repo, err := RepoPath(v)
	if err != nil {
		return Config{}, err
	}
	out.Repo = repo
	if err := validate.Struct(out); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := chunk.FromString(bytes.NewReader(nil), out.Publish.Chunker); err != nil {
		return Config{}, fmt.Errorf("invalid config: chunker %q: %w", out.Publish.Chunker, err)
	}
	return out, nil
}

// WriteRepoConfig writes the settings in v to the repo's config file. An existing file is kept.
func WriteRepoConfig(v *viper.Viper) (string, error) {
	repo, err := RepoPath(v)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(repo, 0o755); err != nil {
		return "", fmt.Errorf("creating repo: %w", err)
	}
	path := filepath.Join(repo, ConfigFileName)
	if err := v.SafeWriteConfigAs(path); err != nil {
		var exists viper.ConfigFileAlreadyExistsError
		if errors.As(err, &exists) {
			return path, nil
		}
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}
