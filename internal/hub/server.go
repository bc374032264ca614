package hub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

// #region router

// Handler returns the HTTP surface: websocket upgrades on / and /ws, plus /healthz.
func (h *Hub) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), h.accessLog())

	ws := websocket.Server{
		// Observers are native apps that send no Origin header.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   h.serveConn,
	}
	router.GET("/", gin.WrapH(ws))
	router.GET("/ws", gin.WrapH(ws))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "subscribers": h.Subscribers()})
	})
	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, h.Stats())
	})
	return router
}

func (h *Hub) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

// #endregion router

// #region serve

// ListenAndServe binds cfg.Addr and serves until ctx is cancelled.
// A bind failure is returned immediately.
func (h *Hub) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.cfg.Addr, err)
	}
	return h.Serve(ctx, ln)
}

// Serve accepts subscribers on ln until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("websocket server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		h.logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = srv.Close()
	}
	<-errCh
	return nil
}

// #endregion serve
