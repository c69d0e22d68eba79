package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/pructl/internal/auth"
	"github.com/danmuck/pructl/internal/observability"
	"github.com/danmuck/pructl/internal/remoteproc"
	"github.com/danmuck/pructl/internal/rpmsg"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// EndpointInfo describes one endpoint. Core is -1 for raw devices.
type EndpointInfo struct {
	Path    string `json:"path"`
	Shape   string `json:"shape"`
	Core    int    `json:"core"`
	Present bool   `json:"present"`
}

type ProcInfo struct {
	Name     string `json:"name"`
	State    string `json:"state,omitempty"`
	Up       bool   `json:"up"`
	Firmware string `json:"firmware,omitempty"`
	Error    string `json:"error,omitempty"`
}

type firmwareRequest struct {
	Firmware string `json:"firmware" binding:"required"`
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"name":    s.Name,
			"version": s.Version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/endpoints", func(c *gin.Context) {
		list, err := s.endpoints()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"endpoints": list})
	})

	r.GET("/responder", func(c *gin.Context) {
		if s.responder == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no responder running"})
			return
		}
		c.JSON(http.StatusOK, s.responder.Status())
	})

	r.GET("/remoteproc", func(c *gin.Context) {
		names, err := s.procs.List()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		procs := make([]ProcInfo, 0, len(names))
		for _, name := range names {
			procs = append(procs, s.procInfo(name))
		}
		c.JSON(http.StatusOK, gin.H{"remoteproc": procs})
	})

	r.GET("/remoteproc/:name", func(c *gin.Context) {
		p, ok := s.openProc(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, s.procInfo(p.Name()))
	})

	if s.auth == nil {
		log.Warn().Str("name", s.Name).Msg("server: no control token, remoteproc write routes disabled")
		return
	}
	control := r.Group("/remoteproc", auth.Middleware(s.auth))
	control.POST("/:name/:action", func(c *gin.Context) {
		p, ok := s.openProc(c)
		if !ok {
			return
		}
		action := c.Param("action")
		var fn func() error
		switch action {
		case "start":
			fn = p.Start
		case "stop":
			fn = p.Stop
		case "detach":
			fn = p.Detach
		case "firmware":
			var req firmwareRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			fn = func() error { return p.SetFirmware(req.Firmware) }
		default:
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown action: " + action})
			return
		}
		s.runAction(c, p, action, fn)
	})
}

func (s *Server) endpoints() ([]EndpointInfo, error) {
	out := make([]EndpointInfo, 0, 4)
	for i, known := range rpmsg.KnownNotificationPaths() {
		info := EndpointInfo{Path: known, Shape: rpmsg.LineNotification.String(), Core: i}
		if ep, err := s.locator.ResolveIndex(i); err == nil {
			info.Path = ep.Path
			info.Present = true
		}
		out = append(out, info)
	}
	names, err := s.locator.ListRawEndpoints()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		ep := s.locator.RawEndpoint(name)
		out = append(out, EndpointInfo{Path: ep.Path, Shape: ep.Shape.String(), Core: -1, Present: true})
	}
	return out, nil
}

func (s *Server) openProc(c *gin.Context) (*remoteproc.Proc, bool) {
	p, err := s.procs.Open(c.Param("name"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, remoteproc.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return nil, false
	}
	return p, true
}

func (s *Server) procInfo(name string) ProcInfo {
	info := ProcInfo{Name: name}
	p, err := s.procs.Open(name)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	state, err := p.State()
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.State = string(state)
	info.Up = state.Up()
	if fw, err := p.Firmware(); err == nil {
		info.Firmware = fw
	}
	return info
}

func (s *Server) runAction(c *gin.Context, p *remoteproc.Proc, action string, fn func() error) {
	err := fn()
	observability.RecordRemoteprocAction(p.Name(), action, err == nil)
	if err != nil {
		log.Error().
			Str("proc", p.Name()).
			Str("action", action).
			Err(err).
			Msg("server.runAction failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("proc", p.Name()).Str("action", action).Msg("server.runAction executed")
	c.JSON(http.StatusOK, gin.H{"status": "ok", "remoteproc": s.procInfo(p.Name())})
}
