package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// HTTPServer запускает RestServer и корректно останавливает его
type HTTPServer struct {
	rest       *RestServer
	httpServer *http.Server
	listener   net.Listener
	errCh      chan error
}

// NewHTTPServer оборачивает REST сервер в http.Server
func NewHTTPServer(rest *RestServer) *HTTPServer {
	return &HTTPServer{
		rest: rest,
		httpServer: &http.Server{
			Addr:              rest.port,
			Handler:           rest.router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		errCh: make(chan error, 1),
	}
}

// Start занимает порт синхронно и обслуживает запросы в отдельной горутине.
// Ошибка привязки к порту возвращается сразу.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.rest.logger.Error("❌ Ошибка REST API сервера: %v", err)
			s.errCh <- err
		}
		close(s.errCh)
	}()

	s.rest.logger.Info("✅ REST API сервер запущен на %s", ln.Addr())
	return nil
}

// Addr фактический адрес после Start (полезно при порте 0)
func (s *HTTPServer) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Errors закрывается после остановки сервера; содержит ошибку, если сервер упал
func (s *HTTPServer) Errors() <-chan error {
	return s.errCh
}

// Stop останавливает REST API сервер, дожидаясь завершения запросов до истечения ctx
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.rest.logger.Info("🛑 Остановка REST API сервера...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.rest.logger.Error("❌ Ошибка при остановке HTTP сервера: %v", err)
		return err
	}
	s.rest.logger.Info("✅ REST API сервер остановлен")
	return nil
}
