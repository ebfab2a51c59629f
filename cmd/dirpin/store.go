package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ipfs/dirpin/internal/config"
	dirpin "github.com/ipfs/dirpin/pkg"
	"github.com/ipfs/dirpin/pkg/store/kubo"
	"github.com/ipfs/dirpin/pkg/store/local"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

// flagKeys maps global flags onto config keys. Only flags given on the command line override
// the environment and the repo config file.
var flagKeys = map[string]string{
	FlagRepo.Name:        "repo",
	FlagStore.Name:       "store.backend",
	FlagAPI.Name:         "store.api",
	FlagConcurrency.Name: "publish.concurrency",
}

func newViper(cctx *cli.Context) *viper.Viper {
	v := config.New()
	for flag, key := range flagKeys {
		if cctx.IsSet(flag) {
			v.Set(key, cctx.Value(flag))
		}
	}
	return v
}

func loadConfig(cctx *cli.Context) (config.Config, error) {
	return loadViper(newViper(cctx))
}

func loadViper(v *viper.Viper) (config.Config, error) {
	if err := config.ReadRepoConfig(v); err != nil {
		return config.Config{}, err
	}
	return config.Load(v)
}

type store interface {
	dirpin.Store
	Close() error
}

type kuboStore struct {
	*kubo.Store
}

func (kuboStore) Close() error {
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (store, error) {
	switch cfg.Store.Backend {
	case "kubo":
		s, err := kubo.New(cfg.Store.API,
			kubo.WithChunker(cfg.Publish.Chunker),
			kubo.WithHTTPClient(&http.Client{Timeout: cfg.Store.Timeout}))
		if err != nil {
			return nil, err
		}
		log.Debugw("using kubo store", "api", cfg.Store.API)
		return kuboStore{s}, nil
	default:
		return openLocal(ctx, cfg)
	}
}

func openLocal(ctx context.Context, cfg config.Config) (*local.Store, error) {
	s, err := local.Open(ctx, cfg.Repo, local.WithChunker(cfg.Publish.Chunker))
	if err != nil {
		return nil, fmt.Errorf("opening repo %s: %w", cfg.Repo, err)
	}
	log.Debugw("using local store", "repo", cfg.Repo)
	return s, nil
}

// localOnly opens the repo's own store for commands a remote daemon cannot serve
func localOnly(cctx *cli.Context) (*local.Store, error) {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Backend != "local" {
		return nil, fmt.Errorf("%s only works with the local store", cctx.Command.Name)
	}
	return openLocal(cctx.Context, cfg)
}
