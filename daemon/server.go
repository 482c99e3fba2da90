package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	. "jobmonitor/common"
)

const serverShutdownTimeoutSec = 10

// Serve on the port until ctx is cancelled, then shut down gracefully.  Returns nil after a
// shutdown and the error if the server could not run.
func (s *Server) Serve(ctx context.Context, port int) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeoutSec*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			Log.Warning(err.Error())
		}
	}()
	Log.Infof("Listening on port %d", port)
	err := server.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		Log.Errorf("SERVER NOT RUNNING: %v", err)
		return err
	}
	<-stopped
	return nil
}
