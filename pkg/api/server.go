// Package api serves the monitor's state over HTTP.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/duckfullstop/hrmble/pkg/config"
	"github.com/duckfullstop/hrmble/pkg/gattdecode"
	"github.com/duckfullstop/hrmble/pkg/hrm"
	"github.com/duckfullstop/hrmble/pkg/monitor"
)

// Central is the part of hrm.Central the API drives.
type Central interface {
	Peripherals() []hrm.Peripheral
	Toggle(ctx context.Context, index int) error
}

type Endpoint struct {
	Path    string
	Handler http.HandlerFunc
	Methods []string
}

type ApiResponse struct {
	Message string `json:"message"`
}

type DecodeResponse struct {
	Characteristic string      `json:"characteristic"`
	Value          interface{} `json:"value"`
}

type Server struct {
	central Central
	monitor *monitor.Monitor
	log     logrus.FieldLogger
	router  *mux.Router
}

func NewServer(central Central, mon *monitor.Monitor, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		central: central,
		monitor: mon,
		log:     log,
		router:  mux.NewRouter(),
	}
	for _, e := range s.endpoints() {
		s.router.HandleFunc(e.Path, e.Handler).Methods(e.Methods...)
	}
	return s
}

func (s *Server) endpoints() []Endpoint {
	return []Endpoint{
		{
			// List every peripheral seen so far
			Path:    "/peripherals",
			Methods: []string{http.MethodGet},
			Handler: func(w http.ResponseWriter, r *http.Request) {
				s.writeJSON(w, http.StatusOK, s.central.Peripherals())
			},
		},
		{
			// Connect or disconnect, like tapping the row in a list
			Path:    "/peripherals/{index:[0-9]+}/toggle",
			Methods: []string{http.MethodPost},
			Handler: func(w http.ResponseWriter, r *http.Request) {
				index, err := strconv.Atoi(mux.Vars(r)["index"])
				if err != nil {
					s.writeJSON(w, http.StatusBadRequest, ApiResponse{Message: "invalid index"})
					return
				}
				err = s.central.Toggle(r.Context(), index)
				switch {
				case errors.Is(err, hrm.ErrNoSuchPeripheral):
					s.writeJSON(w, http.StatusNotFound, ApiResponse{Message: err.Error()})
				case errors.Is(err, hrm.ErrBusy):
					s.writeJSON(w, http.StatusConflict, ApiResponse{Message: err.Error()})
				case err != nil:
					s.log.WithError(err).Warn("⚠️ Toggle failed")
					s.writeJSON(w, http.StatusBadGateway, ApiResponse{Message: err.Error()})
				default:
					s.writeJSON(w, http.StatusOK, s.central.Peripherals()[index])
				}
			},
		},
		{
			Path:    "/reading",
			Methods: []string{http.MethodGet},
			Handler: func(w http.ResponseWriter, r *http.Request) {
				s.writeJSON(w, http.StatusOK, s.monitor.Reading())
			},
		},
		{
			Path:    "/log",
			Methods: []string{http.MethodGet},
			Handler: func(w http.ResponseWriter, r *http.Request) {
				s.writeJSON(w, http.StatusOK, s.monitor.InfoLog())
			},
		},
		{
			// Decode a hex payload without a sensor, handy for checking dumps
			Path:    "/decode/{characteristic}",
			Methods: []string{http.MethodPost},
			Handler: s.handleDecode,
		},
	}
}

func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	id, err := config.ParseUUID(mux.Vars(r)["characteristic"])
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, ApiResponse{Message: err.Error()})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4096))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, ApiResponse{Message: "can't read body"})
		return
	}
	payload, err := hex.DecodeString(strings.TrimSpace(string(body)))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, ApiResponse{Message: "payload must be hex"})
		return
	}

	value, err := gattdecode.Decode(id, payload)
	switch {
	case errors.Is(err, gattdecode.ErrUnhandledCharacteristic):
		s.writeJSON(w, http.StatusNotFound, ApiResponse{Message: err.Error()})
	case err != nil:
		s.writeJSON(w, http.StatusUnprocessableEntity, ApiResponse{Message: err.Error()})
	default:
		s.writeJSON(w, http.StatusOK, DecodeResponse{Characteristic: id.String(), Value: value})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Debug("writing response")
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	s.log.Infof("🌐 Serving API on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "api server failed")
	}
	return nil
}
