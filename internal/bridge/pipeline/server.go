package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	stderrors "errors"

	"github.com/discode/discode/internal/agents"
	"github.com/discode/discode/internal/common/errors"
	"github.com/discode/discode/internal/events"
	"github.com/discode/discode/internal/runtime"
)

// Server fronts the pipeline with the loopback hook HTTP endpoint.
type Server struct {
	pipeline *Pipeline
	engine   *gin.Engine
	server   *http.Server

	// ReloadFunc runs on POST /reload. Optional.
	ReloadFunc func() error

	// Agents supplies default launch commands for /runtime/ensure. Optional.
	Agents *agents.Catalog
}

// NewServer builds the gin engine and routes. Call Start to listen.
func NewServer(p *Pipeline) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(Recovery(p.logger), RequestLogger(p.logger))

	s := &Server{pipeline: p, engine: engine}

	engine.POST("/opencode-event", s.requireToken, s.handleEvent)
	engine.POST("/reload", s.requireToken, s.handleReload)
	engine.POST("/send-files", s.requireToken, s.handleSendFiles)

	rt := engine.Group("/runtime", s.requireToken)
	{
		rt.POST("/focus", s.handleRuntimeFocus)
		rt.POST("/input", s.handleRuntimeInput)
		rt.POST("/stop", s.handleRuntimeStop)
		rt.POST("/ensure", s.handleRuntimeEnsure)
		rt.GET("/windows", s.handleRuntimeWindows)
		rt.GET("/buffer", s.handleRuntimeBuffer)
	}

	return s
}

// Engine exposes the router so the gateway can mount its stream route.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Start listens on the loopback interface only.
func (s *Server) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.pipeline.cfg.Hook.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.pipeline.cfg.Hook.ReadTimeoutDuration(),
		WriteTimeout: s.pipeline.cfg.Hook.WriteTimeoutDuration(),
	}
	s.pipeline.logger.Info("hook server listening", zap.String("addr", addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// requireToken enforces bearer auth when a hook token is configured.
func (s *Server) requireToken(c *gin.Context) {
	token := s.pipeline.cfg.Hook.Token
	if token == "" {
		return
	}
	header := c.GetHeader("Authorization")
	if header != "Bearer "+token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{"code": errors.ErrCodeUnauthorized, "message": "invalid hook token"},
		})
	}
}

// handleEvent is the hook ingress: size-capped read, envelope parse, accept.
// The response is 200 as soon as the event is enqueued; handler failures
// never reach the agent.
func (s *Server) handleEvent(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) {
			appErr := errors.Oversize(MaxBodyBytes)
			c.JSON(appErr.HTTPStatus, gin.H{
				"error": gin.H{"code": appErr.Code, "message": appErr.Message},
			})
			return
		}
		// Disconnects and other read failures are the client's problem, not
		// an oversize payload.
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": errors.ErrCodeBadRequest, "message": "failed to read request body"},
		})
		return
	}

	var event events.Envelope
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": errors.ErrCodeEnvelopeInvalid, "message": "body is not valid JSON"},
		})
		return
	}

	if !events.Recognized[event.Type] && strings.TrimSpace(event.Type) != "" {
		s.pipeline.logger.Info("ignoring unrecognized hook event", zap.String("type", event.Type))
		c.String(http.StatusOK, "ignored")
		return
	}

	if err := s.pipeline.Accept(c.Request.Context(), &event); err != nil {
		status := errors.GetHTTPStatus(err)
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) {
			c.JSON(status, gin.H{"error": gin.H{"code": appErr.Code, "message": appErr.Message}})
		} else {
			c.JSON(status, gin.H{"error": gin.H{"code": errors.ErrCodeInternalError, "message": err.Error()}})
		}
		return
	}
	c.String(http.StatusOK, "OK")
}

func (s *Server) handleReload(c *gin.Context) {
	if s.ReloadFunc != nil {
		if err := s.ReloadFunc(); err != nil {
			s.pipeline.logger.WithError(err).Error("reload failed")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{"code": errors.ErrCodeInternalError, "message": "reload failed"},
			})
			return
		}
	}
	c.String(http.StatusOK, "OK")
}

type sendFilesRequest struct {
	ProjectName string   `json:"projectName"`
	AgentType   string   `json:"agentType"`
	InstanceID  string   `json:"instanceId"`
	Files       []string `json:"files"`
}

// handleSendFiles delivers project files to the instance's channel. Paths
// must exist and resolve under the project directory.
func (s *Server) handleSendFiles(c *gin.Context) {
	var req sendFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": errors.ErrCodeBadRequest, "message": "invalid request body"},
		})
		return
	}
	if req.ProjectName == "" || len(req.Files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": errors.ErrCodeBadRequest, "message": "projectName and files are required"},
		})
		return
	}

	ctx := c.Request.Context()
	project, err := s.pipeline.store.GetProject(ctx, req.ProjectName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": errors.ErrCodeProjectNotFound, "message": "unknown project"},
		})
		return
	}

	key := req.InstanceID
	if key == "" {
		key = req.AgentType
	}
	var channelID string
	if key != "" {
		if instance, err := s.pipeline.store.GetInstance(ctx, project.Name, key); err == nil {
			channelID = instance.Channel(project)
		}
	}
	if channelID == "" {
		if instance, err := s.pipeline.store.PrimaryInstance(ctx, project.Name); err == nil {
			channelID = instance.Channel(project)
		} else {
			channelID = project.ChannelID
		}
	}
	if channelID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": errors.ErrCodeChannelUnresolved, "message": "no channel for project"},
		})
		return
	}

	var valid []string
	for _, path := range req.Files {
		if !pathUnder(path, project.Path) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{"code": errors.ErrCodeBadRequest, "message": fmt.Sprintf("path outside project: %s", path)},
			})
			return
		}
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{"code": errors.ErrCodeBadRequest, "message": fmt.Sprintf("file not found: %s", path)},
			})
			return
		}
		valid = append(valid, path)
	}

	if err := s.pipeline.client.SendFiles(ctx, channelID, valid); err != nil {
		s.pipeline.logger.WithError(err).Warn("send-files delivery failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": errors.ErrCodeInternalError, "message": "delivery failed"},
		})
		return
	}
	c.String(http.StatusOK, "OK")
}

type runtimeWindowRequest struct {
	WindowID  string `json:"windowId"`
	Text      string `json:"text"`
	Submit    bool   `json:"submit"`
	Name      string `json:"name"`
	Dir       string `json:"dir"`
	Command   string `json:"command"`
	AgentType string `json:"agentType"`
}

// needRuntime aborts with 501 when no terminal runtime is configured.
func (s *Server) needRuntime(c *gin.Context) runtime.Runtime {
	if s.pipeline.rt == nil {
		appErr := errors.RuntimeUnavailable()
		c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
			"error": gin.H{"code": appErr.Code, "message": appErr.Message},
		})
		return nil
	}
	return s.pipeline.rt
}

func (s *Server) runtimeError(c *gin.Context, err error) {
	if stderrors.Is(err, runtime.ErrWindowNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{"code": errors.ErrCodeWindowMissing, "message": err.Error()},
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{"code": errors.ErrCodeInternalError, "message": err.Error()},
	})
}

func (s *Server) handleRuntimeFocus(c *gin.Context) {
	rt := s.needRuntime(c)
	if rt == nil {
		return
	}
	var req runtimeWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.WindowID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": errors.ErrCodeBadRequest, "message": "windowId is required"},
		})
		return
	}
	if err := rt.FocusWindow(c.Request.Context(), req.WindowID); err != nil {
		s.runtimeError(c, err)
		return
	}
	c.String(http.StatusOK, "OK")
}

func (s *Server) handleRuntimeInput(c *gin.Context) {
	rt := s.needRuntime(c)
	if rt == nil {
		return
	}
	var req runtimeWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.WindowID == "" || req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": errors.ErrCodeBadRequest, "message": "windowId and text are required"},
		})
		return
	}
	ctx := c.Request.Context()
	if err := rt.TypeKeys(ctx, req.WindowID, req.Text); err != nil {
		s.runtimeError(c, err)
		return
	}
	if req.Submit {
		if err := rt.SendEnter(ctx, req.WindowID); err != nil {
			s.runtimeError(c, err)
			return
		}
	}
	c.String(http.StatusOK, "OK")
}

func (s *Server) handleRuntimeStop(c *gin.Context) {
	rt := s.needRuntime(c)
	if rt == nil {
		return
	}
	var req runtimeWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.WindowID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": errors.ErrCodeBadRequest, "message": "windowId is required"},
		})
		return
	}
	if err := rt.KillWindow(c.Request.Context(), req.WindowID); err != nil {
		s.runtimeError(c, err)
		return
	}
	c.String(http.StatusOK, "OK")
}

func (s *Server) handleRuntimeEnsure(c *gin.Context) {
	rt := s.needRuntime(c)
	if rt == nil {
		return
	}
	var req runtimeWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": errors.ErrCodeBadRequest, "message": "name is required"},
		})
		return
	}
	command := req.Command
	if command == "" && req.AgentType != "" && s.Agents != nil {
		command = s.Agents.LaunchCommand(req.AgentType)
	}
	if err := rt.EnsureWindow(c.Request.Context(), req.Name, req.Dir, command); err != nil {
		s.runtimeError(c, err)
		return
	}
	c.String(http.StatusOK, "OK")
}

func (s *Server) handleRuntimeWindows(c *gin.Context) {
	rt := s.needRuntime(c)
	if rt == nil {
		return
	}
	windows, err := rt.ListWindows(c.Request.Context())
	if err != nil {
		s.runtimeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"windows": windows})
}

// handleRuntimeBuffer returns the window's current screen contents. The
// runtime renders the full screen on every capture and keeps no delta
// cursor, so the since query parameter never narrows the response; callers
// always receive the complete snapshot and diff client-side.
func (s *Server) handleRuntimeBuffer(c *gin.Context) {
	rt := s.needRuntime(c)
	if rt == nil {
		return
	}
	windowID := c.Query("windowId")
	if windowID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": errors.ErrCodeBadRequest, "message": "windowId is required"},
		})
		return
	}
	content, err := rt.CapturePane(c.Request.Context(), windowID)
	if err != nil {
		s.runtimeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"windowId":   windowID,
		"content":    content,
		"capturedAt": time.Now().UTC(),
	})
}

// pathUnder reports whether path resolves under root.
func pathUnder(path, root string) bool {
	if root == "" || !filepath.IsAbs(path) {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
