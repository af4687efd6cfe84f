// Package server exposes machine provisioning over HTTP.
//
//	POST /v1/machines        provision a machine from a JSON or YAML resource
//	GET  /v1/machines        list domains defined on the host
//	GET  /v1/machines/:name  read back a managed machine
//	GET  /healthz            check the libvirt connection
//	GET  /metrics            Prometheus metrics
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/loader"
	"github.com/jbweber/anvil/internal/metadata"
	"github.com/jbweber/anvil/internal/metrics"
	"github.com/jbweber/anvil/internal/vm"
)

// maxBodyBytes bounds the size of a submitted resource.
const maxBodyBytes = 1 << 20

// Provisioner provisions a machine and returns the resource with its status.
type Provisioner interface {
	Provision(ctx context.Context, vm *v1alpha1.VirtualMachine) (*v1alpha1.VirtualMachine, error)
}

// Inventory reads machines back from the host.
type Inventory interface {
	List(ctx context.Context) ([]vm.MachineInfo, error)
	Get(ctx context.Context, name string) (*v1alpha1.VirtualMachine, error)
}

// Pinger checks that the host connection is alive.
type Pinger interface {
	Ping() error
}

// Server holds the HTTP handlers and the per-name in-flight guard.
type Server struct {
	provisioner Provisioner
	inventory   Inventory
	pinger      Pinger
	metrics     *metrics.Recorder
	log         logr.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a Server. recorder may be nil, in which case /metrics is not
// served.
func New(provisioner Provisioner, inventory Inventory, pinger Pinger, recorder *metrics.Recorder, log logr.Logger) *Server {
	return &Server{
		provisioner: provisioner,
		inventory:   inventory,
		pinger:      pinger,
		metrics:     recorder,
		log:         log,
		inFlight:    make(map[string]struct{}),
	}
}

// Router builds the gin engine for the server.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	machines := r.Group("/v1/machines")
	machines.POST("", s.createMachine)
	machines.GET("", s.listMachines)
	machines.GET("/:name", s.getMachine)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.V(1).Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status())
	}
}

func (s *Server) health(c *gin.Context) {
	if err := s.pinger.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// acquire marks name as in flight. It returns false if a run for name is
// already executing.
func (s *Server) acquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[name]; busy {
		return false
	}
	s.inFlight[name] = struct{}{}
	return true
}

func (s *Server) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, name)
}

func (s *Server) createMachine(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	load := loader.LoadFromJSON
	if strings.Contains(c.ContentType(), "yaml") {
		load = loader.LoadFromYAML
	}
	resource, err := load(body)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, loader.ErrValidation) {
			code = http.StatusUnprocessableEntity
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}

	if !s.acquire(resource.Name) {
		c.JSON(http.StatusConflict, gin.H{"error": "provisioning of " + resource.Name + " is already in progress"})
		return
	}
	defer s.release(resource.Name)

	if s.metrics != nil {
		defer s.metrics.TrackInFlight()()
	}

	out, err := s.provisioner.Provision(c.Request.Context(), resource)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error(), "machine": out})
		return
	}

	c.JSON(http.StatusCreated, out)
}

// statusForError maps provisioning errors to HTTP status codes.
func statusForError(err error) int {
	var stepErr *vm.StepError
	switch {
	case errors.Is(err, vm.ErrPreconditionViolation):
		return http.StatusConflict
	case errors.Is(err, vm.ErrInvalidSpecification):
		return http.StatusUnprocessableEntity
	case errors.As(err, &stepErr):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) listMachines(c *gin.Context) {
	machines, err := s.inventory.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if machines == nil {
		machines = []vm.MachineInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"items": machines})
}

func (s *Server) getMachine(c *gin.Context) {
	resource, err := s.inventory.Get(c.Request.Context(), c.Param("name"))
	switch {
	case errors.Is(err, vm.ErrMachineNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, metadata.ErrNotManaged):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "managed": false})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, resource)
	}
}
