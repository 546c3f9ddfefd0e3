// Package devserver is an in-memory implementation of the tracker API. It backs
// `tally devserver` for local development and the end-to-end tests of the sync
// layer. It can be told to reject every write to exercise rollbacks.
package devserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/five82/tally/internal/api"
	"github.com/five82/tally/internal/clock"
)

// Options configure a Server.
type Options struct {
	FailWrites bool
	Seed       bool
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Server holds the API state.
type Server struct {
	clock      clock.Clock
	logger     *slog.Logger
	failWrites atomic.Bool
	requests   atomic.Int64

	mu        sync.Mutex
	profile   api.Profile
	events    *resource[api.Event]
	tasks     *resource[api.Task]
	sanctions *resource[api.Sanction]
}

// New returns a server with an empty profile, optionally seeded with sample
// data.
func New(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		clock:     opts.Clock,
		logger:    opts.Logger.With("component", "devserver"),
		events:    &resource[api.Event]{name: "events"},
		tasks:     &resource[api.Task]{name: "tasks"},
		sanctions: &resource[api.Sanction]{name: "sanctions"},
	}
	s.failWrites.Store(opts.FailWrites)
	s.profile = api.Profile{ID: "me", Username: "player", Level: 1, UpdatedAt: s.clock.Now()}
	if opts.Seed {
		s.seed()
	}
	return s
}

// SetFailWrites toggles rejection of every mutating request with 503.
func (s *Server) SetFailWrites(fail bool) { s.failWrites.Store(fail) }

// Requests reports how many API requests the server has handled.
func (s *Server) Requests() int64 { return s.requests.Load() }

// Handler builds the gin engine serving the API.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.count)

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": "ok"}})
	})

	r.GET("/api/profile", s.getProfile)
	r.PATCH("/api/profile", s.guardWrites, s.patchProfile)

	registerResource(r, s, s.events, nil)
	registerResource(r, s, s.tasks, s.taskPatched)
	registerResource(r, s, s.sanctions, nil)
	return r
}

// ListenAndServe serves the API on bind until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, bind string) error {
	srv := &http.Server{
		Addr:              bind,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("dev server listening", "bind", bind, "fail_writes", s.failWrites.Load())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) count(c *gin.Context) {
	s.requests.Add(1)
	c.Next()
}

func (s *Server) guardWrites(c *gin.Context) {
	if s.failWrites.Load() {
		s.logger.Debug("write rejected", "method", c.Request.Method, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "writes are disabled"})
		return
	}
	c.Next()
}

func (s *Server) getProfile(c *gin.Context) {
	s.mu.Lock()
	p := s.profile
	s.mu.Unlock()
	c.JSON(http.StatusOK, api.Envelope[api.Profile]{Data: &p})
}

func (s *Server) patchProfile(c *gin.Context) {
	var patch api.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid patch: " + err.Error()})
		return
	}
	delete(patch, "id")

	s.mu.Lock()
	next, err := api.ApplyPatch(s.profile, patch)
	if err == nil {
		next.Level = levelFor(next.Exp)
		next.UpdatedAt = s.clock.Now()
		s.profile = next
	}
	s.mu.Unlock()
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, api.Envelope[api.Profile]{Data: &next})
}

// taskPatched awards a task's gold and exp the first time it is marked done.
// Called with s.mu held.
func (s *Server) taskPatched(before, after api.Task) {
	if before.Done || !after.Done {
		return
	}
	s.profile.Gold += after.Gold
	s.profile.Exp += after.Exp
	s.profile.Level = levelFor(s.profile.Exp)
	s.profile.UpdatedAt = s.clock.Now()
}

func levelFor(exp int) int {
	if exp < 0 {
		return 1
	}
	return exp/100 + 1
}

func (s *Server) seed() {
	now := s.clock.Now()
	s.events.items = []api.Event{
		{ID: uuid.NewString(), Title: "Gym", Start: now.Add(2 * time.Hour), End: now.Add(3 * time.Hour), Location: "Downtown", UpdatedAt: now},
		{ID: uuid.NewString(), Title: "Dentist", Start: now.Add(26 * time.Hour), End: now.Add(27 * time.Hour), UpdatedAt: now},
	}
	s.tasks.items = []api.Task{
		{ID: uuid.NewString(), Title: "Water the plants", Gold: 5, Exp: 10, UpdatedAt: now},
		{ID: uuid.NewString(), Title: "Write weekly review", Gold: 20, Exp: 40, UpdatedAt: now},
		{ID: uuid.NewString(), Title: "Run 5k", Gold: 15, Exp: 60, UpdatedAt: now},
	}
	s.sanctions.items = []api.Sanction{
		{ID: uuid.NewString(), Title: "Late night scrolling", Reason: "past midnight", Gold: 10, Active: true, UpdatedAt: now},
	}
}

type entity[E any] interface {
	api.Entity
	WithID(id string) E
}

type resource[E entity[E]] struct {
	name  string
	items []E
}

func (r *resource[E]) index(id string) int {
	return slices.IndexFunc(r.items, func(e E) bool { return e.EntityID() == id })
}

func registerResource[E entity[E]](r *gin.Engine, s *Server, res *resource[E], onPatch func(before, after E)) {
	base := "/api/" + res.name

	r.GET(base, func(c *gin.Context) {
		s.mu.Lock()
		items := slices.Clone(res.items)
		s.mu.Unlock()
		if items == nil {
			items = []E{}
		}
		c.JSON(http.StatusOK, api.Envelope[[]E]{Data: &items})
	})

	r.POST(base, s.guardWrites, func(c *gin.Context) {
		var input E
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + res.name + " payload: " + err.Error()})
			return
		}
		created, err := api.ApplyPatch(input.WithID(uuid.NewString()), api.Patch{"updatedAt": s.clock.Now()})
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		s.mu.Lock()
		res.items = append(res.items, created)
		s.mu.Unlock()
		c.JSON(http.StatusCreated, api.Envelope[E]{Data: &created})
	})

	r.PATCH(base+"/:id", s.guardWrites, func(c *gin.Context) {
		id := c.Param("id")
		var patch api.Patch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid patch: " + err.Error()})
			return
		}
		delete(patch, "id")
		patch["updatedAt"] = s.clock.Now()

		s.mu.Lock()
		defer s.mu.Unlock()
		i := res.index(id)
		if i < 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": res.name + " " + id + " not found"})
			return
		}
		before := res.items[i]
		updated, err := api.ApplyPatch(before, patch)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		res.items[i] = updated
		if onPatch != nil {
			onPatch(before, updated)
		}
		c.JSON(http.StatusOK, api.Envelope[E]{Data: &updated})
	})

	r.DELETE(base+"/:id", s.guardWrites, func(c *gin.Context) {
		id := c.Param("id")
		s.mu.Lock()
		defer s.mu.Unlock()
		i := res.index(id)
		if i < 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": res.name + " " + id + " not found"})
			return
		}
		res.items = slices.Delete(res.items, i, i+1)
		c.JSON(http.StatusOK, gin.H{})
	})
}
