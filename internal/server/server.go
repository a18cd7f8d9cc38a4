// Package server implements the three-handler HTTP surface described in
// spec §4.8: /os, /bootPartition, /reboot.
package server

import (
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/bcmrecovery/installer/internal/boot"
	"github.com/bcmrecovery/installer/internal/manifest"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Addr is the fixed listen address (spec §4.8: "listening on port 80").
const Addr = ":80"

// Installer is the subset of install.Installer the server drives; kept
// as an interface so handlers can be tested against a fake.
type Installer interface {
	Run(oses []manifest.OSManifest) error
}

// Server wires the three handlers onto a gorilla/mux router.
type Server struct {
	Installer  Installer
	Dispatcher *boot.Dispatcher
	router     *mux.Router
}

// New builds a Server and registers its routes.
func New(installer Installer, dispatcher *boot.Dispatcher) *Server {
	s := &Server{Installer: installer, Dispatcher: dispatcher, router: mux.NewRouter()}
	s.router.HandleFunc("/os", s.handleOS).Methods(http.MethodPost)
	s.router.HandleFunc("/bootPartition", s.handleBootPartition).Methods(http.MethodPost)
	s.router.HandleFunc("/reboot", s.handleReboot).Methods(http.MethodPost)
	return s
}

// ListenAndServe blocks, serving the three handlers on Addr. The
// stdlib server honors `Expect: 100-continue` by default (spec §6 "Wire
// protocol").
func (s *Server) ListenAndServe() error {
	return http.ListenAndServe(Addr, s.router)
}

// handleOS accepts a single OS manifest or a JSON array of them, runs
// the full install pipeline synchronously, and only then responds
// (spec §4.8 "/os"): the long-running install is synchronous with the
// request. On success the installer makes the first OS of the posted
// batch the default boot partition, so a single-OS POST always replaces
// the previous default.
func (s *Server) handleOS(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	oses, err := parseManifests(body)
	if err != nil {
		http.Error(w, "parsing manifest: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.Installer.Run(oses); err != nil {
		if isValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logrus.WithError(err).Error("install failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// parseManifests accepts either a single JSON object or a JSON array,
// matching spec §4.8's "body is the OS manifest JSON (single object) or
// list".
func parseManifests(body []byte) ([]manifest.OSManifest, error) {
	var list []manifest.OSManifest
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}

	var single manifest.OSManifest
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, err
	}
	return []manifest.OSManifest{single}, nil
}

func isValidationError(err error) bool {
	_, ok := err.(*manifest.ValidationError)
	if ok {
		return true
	}
	// go-multierror / pkg/errors wrap chains: unwrap looking for the marker.
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
		if _, ok := err.(*manifest.ValidationError); ok {
			return true
		}
	}
}

// handleBootPartition validates and persists the posted device as the
// default boot target (spec §4.8 "/bootPartition").
func (s *Server) handleBootPartition(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	device := string(body)
	if err := s.Dispatcher.SetDefaultBoot(device); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleReboot answers 200 then chain-boots the default partition; the
// response must be fully written before reboot (spec §4.8 "/reboot").
func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	device, ok := s.Dispatcher.Store.DefaultBootPartition()
	if !ok {
		logrus.Error("reboot requested but no default boot partition is set")
		return
	}

	if err := s.Dispatcher.BootInto(device); err != nil {
		logrus.WithError(err).Error("bootInto failed")
	}
}
