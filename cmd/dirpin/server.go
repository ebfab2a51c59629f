package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"

	"github.com/ipfs/dirpin/pkg/handler"
	"github.com/urfave/cli/v2"
)

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "Start an http server serving published trees under /ipfs/<cid>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "pprof",
			Usage: "run pprof web server on localhost:6070",
		},
		&cli.UintFlag{
			Name:  "port",
			Usage: "the port the web server listens on",
			Value: 7777,
		},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.Bool("pprof") {
			go func() {
				err := http.ListenAndServe("localhost:6070", nil)
				if err != nil {
					log.Error(err)
				}
			}()
		}
		v := newViper(cctx)
		if cctx.IsSet("port") {
			v.Set("server.port", cctx.Uint("port"))
		}
		cfg, err := loadViper(v)
		if err != nil {
			return err
		}
		st, err := openStore(cctx.Context, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		server := NewHttpServer(cfg.Server.Port, handler.NewHandler("ipfs", st))

		log.Infof("Serving %s store on port %d", cfg.Store.Backend, cfg.Server.Port)
		errc := server.Start(cctx.Context)

		// Monitor for shutdown.
		select {
		case <-cctx.Context.Done():
		case err := <-errc:
			return fmt.Errorf("http server: %w", err)
		}

		log.Info("Shutting down...")

		err = server.Stop()
		if err != nil {
			return err
		}
		log.Info("Graceful shutdown successful")

		// Sync all loggers.
		_ = log.Sync() //nolint:errcheck

		return nil
	},
}

type HttpServer struct {
	port    int
	handler http.Handler
	ctx     context.Context
	cancel  context.CancelFunc
	server  *http.Server
}

func NewHttpServer(port int, h *handler.Handler) *HttpServer {
	return &HttpServer{port: port, handler: h}
}

func (s *HttpServer) Start(ctx context.Context) <-chan error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	listenAddr := fmt.Sprintf(":%d", s.port)
	mux := http.NewServeMux()
	mux.Handle("/ipfs/", s.handler)
	s.server = &http.Server{
		Addr:    listenAddr,
		Handler: mux,
		// This context will be the parent of the context associated with all
		// incoming requests
		BaseContext: func(listener net.Listener) context.Context {
			return s.ctx
		},
	}

	errc := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			errc <- err
		}
	}()
	return errc
}

func (s *HttpServer) Stop() error {
	s.cancel()
	return s.server.Close()
}
