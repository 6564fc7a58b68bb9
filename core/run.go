package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"smartroute/config"

	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// Run serves the REST API and the session websocket until ctx is cancelled or
// either listener fails.
func Run(ctx context.Context, u *Universe, server config.ServerConfig) error {
	log.Info("🦿 Running...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fApp := SetupFiberApp(u)
	wsServer := NewWsServer(ctx, u, server.WsAddr)

	var wg sync.WaitGroup
	errChan := make(chan error, 2)
	serve := func(name string, listen func() error) {
		defer wg.Done()
		log.Infof("%s listening", name)
		if err := listen(); err != nil {
			errChan <- fmt.Errorf("%s: %w", name, err)
			cancel()
		}
	}
	wg.Add(2)
	go serve("rest api on "+server.HttpAddr, func() error { return fApp.Listen(server.HttpAddr) })
	go serve("session ws on "+server.WsAddr, wsServer.ListenAndServe)

	<-ctx.Done()
	log.Info("🚩 shutting down listeners")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	ShutdownFiberApp(fApp)
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("ws shutdown: %v", err)
	}
	go func() {
		wg.Wait()
		close(errChan)
	}()

	// collect errors
	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors during execution: %v", errs)
	}
	return nil
}
