package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/microbiomedata/funcagg/pkg/config"
)

// NewHTTPServer builds the status server listening on addr.
func NewHTTPServer(addr string, st Status) *http.Server {
	router := mux.NewRouter()
	SetupRoutes(router, st)

	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}
}

// Serve runs srv until ctx is done and then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	return serveListener(ctx, srv, ln)
}

// ServeStatus runs the optional status server. A listener failure such as
// a port already in use is logged and the job keeps aggregating.
func ServeStatus(ctx context.Context, srv *http.Server) {
	if err := Serve(ctx, srv); err != nil {
		log.Printf("Status server disabled: %v", err)
	}
}

func serveListener(ctx context.Context, srv *http.Server, ln net.Listener) error {
	srv.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Status server listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Status server shutdown error: %v", err)
		return err
	}
	log.Println("Status server stopped")
	return nil
}
