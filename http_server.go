package sensorplot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Per viewer channel capacity. Far more than a window's worth, so a slow
// viewer does not hold up the session.
const bufferSize = 1000

// StreamEndedMessage is the body of /errors.
type StreamEndedMessage struct {
	StreamEnded bool
	StreamError string
}

type HttpServer struct {
	session  *Session
	host     string
	port     uint16
	metadata Metadata
	mux      *chi.Mux
	logger   logrus.FieldLogger
}

func NewHttpServer(session *Session, host string, port uint16, metadata Metadata) *HttpServer {
	s := &HttpServer{
		session:  session,
		host:     host,
		port:     port,
		metadata: metadata,
		mux:      chi.NewRouter(),
		logger:   logrus.WithField("tag", "HttpServer"),
	}

	s.mux.Use(corsMiddleware)
	s.mux.Get("/metadata", s.handleMetadata)
	s.mux.Get("/errors", s.handleErrors)
	s.mux.Get("/window", s.handleWindow)
	s.mux.Get("/snapshot", s.handleSnapshot)
	s.mux.Get("/ws", s.handleWebSocket)
	s.mux.Get("/ws2", s.handleWebSocket2)

	return s
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "content-type")
		w.Header().Set("Access-Control-Allow-Methods", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *HttpServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("failed to write JSON response")
	}
}

func (s *HttpServer) handleMetadata(w http.ResponseWriter, req *http.Request) {
	s.writeJSON(w, s.metadata)
}

func (s *HttpServer) handleErrors(w http.ResponseWriter, req *http.Request) {
	res := StreamEndedMessage{}
	if s.session != nil && s.session.Ended() {
		res.StreamEnded = true
		if err := s.session.Err(); err != nil {
			res.StreamError = err.Error()
		}
	}

	s.writeJSON(w, res)
}

// The raw window, flattened the way a chart consumes it.
func (s *HttpServer) handleWindow(w http.ResponseWriter, req *http.Request) {
	readings := []Reading{}
	if s.session != nil {
		readings, _ = s.session.Snapshot()
	}

	s.writeJSON(w, readings)
}

func (s *HttpServer) handleSnapshot(w http.ResponseWriter, req *http.Request) {
	points := []Point{}
	if s.session != nil {
		readings, origin := s.session.Snapshot()
		points = Render(readings, origin, s.metadata.TimeAxis, s.metadata.Channels)
	}

	s.writeJSON(w, points)
}

// streamUpdates registers a viewer channel with the session and calls send
// for every update until the client goes away, send fails, or the stream
// ends (send is still called for the end marker).
func (s *HttpServer) streamUpdates(w http.ResponseWriter, req *http.Request, send func(context.Context, *websocket.Conn, Update) error) {
	if s.session == nil {
		http.Error(w, "no session", http.StatusServiceUnavailable)
		return
	}

	c, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.WithError(err).Warn("failed to accept new websocket connection")
		return
	}

	// We only ever write.
	ctx := c.CloseRead(req.Context())

	channel := make(chan Update, bufferSize)
	wg := sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()
		for {
			select {
			case update := <-channel:
				if err := send(ctx, c, update); err != nil {
					s.logger.WithError(err).Warn("websocket write failed and closed")
					return
				}

				if update.StreamEnded {
					c.Close(websocket.StatusNormalClosure, "stream ended")
					return
				}
			case <-ctx.Done():
				s.logger.Info("client closed connection or context canceled")
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}()

	s.session.RegisterChannel(ctx, channel)

	wg.Wait()
	s.session.DeregisterChannel(ctx, channel)
}

// /ws: JSON frames of rendered points.
func (s *HttpServer) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	s.streamUpdates(w, req, func(ctx context.Context, c *websocket.Conn, update Update) error {
		if update.StreamEnded {
			return nil
		}
		return wsjson.Write(ctx, c, Render(update.Readings, update.Origin, s.metadata.TimeAxis, s.metadata.Channels))
	})
}

// /ws2: the binary protocol, starting with the metadata.
func (s *HttpServer) handleWebSocket2(w http.ResponseWriter, req *http.Request) {
	sentMetadata := false

	s.streamUpdates(w, req, func(ctx context.Context, c *websocket.Conn, update Update) error {
		if !sentMetadata {
			buf, err := EncodeWSMessage(newWSMessage(MessageTypeMetadata, s.metadata))
			if err != nil {
				return err
			}
			if err := c.Write(ctx, websocket.MessageBinary, buf); err != nil {
				return err
			}
			sentMetadata = true
		}

		messages, err := EncodeUpdate(update, s.metadata)
		if err != nil {
			return err
		}

		for _, buf := range messages {
			if err := c.Write(ctx, websocket.MessageBinary, buf); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *HttpServer) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(int(s.port)))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HttpServer) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("starting HTTP server at http://%s", s.Addr())
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler exposes the routes, e.g. for httptest.
func (s *HttpServer) Handler() http.Handler {
	return s.mux
}
