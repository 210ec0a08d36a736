package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	relaygrpc "github.com/weiawesome/chat-relay/internal/grpc"
	"github.com/weiawesome/chat-relay/internal/handler"
	"github.com/weiawesome/chat-relay/pkg/log"
	"github.com/weiawesome/chat-relay/pkg/middleware"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// Router builds the HTTP handler: the websocket endpoint plus the gin API.
func (a *App) Router() http.Handler {
	logger := log.L()

	if a.cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), log.GinMiddleware(logger))

	api := handler.NewHandler(a.Rooms, a.Coordinator, middleware.NewAuthMiddleware(a.Identity), a.Stats)
	api.RegisterRoutes(engine)

	ws := handler.NewWSHandler(a.Coordinator, a.Identity, a.cfg.WebSocket)

	mux := http.NewServeMux()
	mux.Handle("/chat/ws", log.HTTPMiddleware(logger)(http.HandlerFunc(ws.HandleWebSocket)))
	mux.Handle("/", engine)
	return mux
}

// Serve runs the client-facing relay until ctx ends. With withBridge the
// broker consumer runs in the same process, which the memory broker
// requires.
func (a *App) Serve(ctx context.Context, withBridge bool) error {
	if a.mem != nil && !withBridge {
		return errors.New("the memory broker needs the bridge in the serving process")
	}
	if withBridge {
		if err := a.OpenBridge(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.Bridge != nil {
		g.Go(func() error { return a.Bridge.Run(gctx) })
	}
	if a.cluster != nil {
		g.Go(func() error { return a.cluster.Run(gctx) })
	}

	grpcServer, err := a.startGRPC()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      a.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		l := log.L()
		l.Info().Str("address", addr).Msg("chat relay listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		l := log.L()
		l.Info().Msg("shutting down chat relay")

		if grpcServer != nil {
			grpcServer.Stop()
		}
		a.hub.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// RunBridge runs only the broker consumer. Forwarded frames reach sessions
// on other instances through the cluster bus.
func (a *App) RunBridge(ctx context.Context) error {
	if a.mem != nil {
		return errors.New("the memory broker cannot be consumed from a separate process")
	}
	if a.cluster == nil {
		return errors.New("a standalone bridge requires fanout.cluster.enabled")
	}
	if err := a.OpenBridge(ctx); err != nil {
		return err
	}

	grpcServer, err := a.startGRPC()
	if err != nil {
		return err
	}
	if grpcServer != nil {
		defer grpcServer.Stop()
	}

	return a.Bridge.Run(ctx)
}

func (a *App) startGRPC() (*relaygrpc.Server, error) {
	if !a.cfg.GRPC.Enabled {
		return nil, nil
	}
	addr := fmt.Sprintf("%s:%d", a.cfg.GRPC.Host, a.cfg.GRPC.Port)
	return relaygrpc.StartGRPCServer(addr, log.L())
}
