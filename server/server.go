// Package server exposes the gallery over HTTP: the scanned media
// tree, file management, monitor control, raw media, and a websocket
// channel for change pushes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/singleflight"

	"comfygallery/logger"
	"comfygallery/metadata"
	"comfygallery/monitor"
	"comfygallery/scanner"
	"comfygallery/store"
)

// EventFileChange is the websocket event type for gallery diffs.
const EventFileChange = "Gallery.file_change"

const echoShutdownTimeout = 5 * time.Second

// Server wires the scanner, monitor and websocket hub behind an echo
// router.
type Server struct {
	echo     *echo.Echo
	scan     *scanner.Scanner
	hub      *Hub
	cache    *store.Cache
	root     string
	debounce time.Duration

	group singleflight.Group

	mu         sync.RWMutex
	tree       *scanner.Tree
	mon        *monitor.Monitor
	monRoot    string
	staticRoot string

	extractor *metadata.Extractor
}

// New builds the server. cache may be nil when metadata caching is
// disabled; debounce is the watch quiet period for monitors the
// server creates.
func New(scan *scanner.Scanner, cache *store.Cache, debounce time.Duration) *Server {
	s := &Server{
		echo:       echo.New(),
		scan:       scan,
		hub:        NewHub(),
		cache:      cache,
		root:       scan.Root(),
		debounce:   debounce,
		staticRoot: scan.Root(),
		extractor:  metadata.NewExtractor(metadata.DefaultCatalog()),
	}
	s.mon = s.newMonitor(scan)
	s.monRoot = s.root
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.routes()
	return s
}

// Hub returns the websocket hub so callers can broadcast events.
func (s *Server) Hub() *Hub { return s.hub }

// OnTreeUpdate refreshes the cached tree and pushes the diff to
// connected clients. Monitors scoped below the media root broadcast
// only; their partial trees must not replace the full one.
func (s *Server) OnTreeUpdate(changes monitor.ChangeSet, tree *scanner.Tree) {
	s.mu.Lock()
	s.tree = tree
	s.mu.Unlock()
	s.hub.Broadcast(EventFileChange, changes)
}

func (s *Server) newMonitor(scan *scanner.Scanner) *monitor.Monitor {
	scoped := scan.Root() != s.root
	return monitor.New(scan, s.debounce, func(changes monitor.ChangeSet, tree *scanner.Tree) {
		if scoped {
			s.hub.Broadcast(EventFileChange, changes)
			return
		}
		s.OnTreeUpdate(changes, tree)
	})
}

func (s *Server) routes() {
	g := s.echo.Group("/Gallery")
	g.GET("/images", s.handleImages)
	g.POST("/metadata", s.handleMetadata)
	g.POST("/monitor/start", s.handleMonitorStart)
	g.POST("/monitor/stop", s.handleMonitorStop)
	g.POST("/delete", s.handleDelete)
	g.POST("/move", s.handleMove)
	g.GET("/ws", s.handleWS)

	s.echo.GET("/static_gallery/*", s.handleStatic)
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context, listen string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(listen)
	}()
	select {
	case <-ctx.Done():
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), echoShutdownTimeout)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// StartMonitoring watches the media root, or the folder relativePath
// names under it. Switching folders stops the previous watcher and
// re-points the static root, so pushed URLs stay resolvable.
func (s *Server) StartMonitoring(ctx context.Context, relativePath string) error {
	dir := s.root
	if relativePath != "" {
		resolved, err := s.resolvePath(relativePath)
		if err != nil {
			return err
		}
		info, err := os.Stat(resolved)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("not a watchable folder: %s", relativePath)
		}
		dir = resolved
	}

	s.mu.Lock()
	if s.monRoot == dir && s.mon.Running() {
		s.mu.Unlock()
		return nil
	}
	old := s.mon
	s.mu.Unlock()
	old.Stop()

	scan := s.scan
	if dir != s.root {
		scan = scanner.New(dir, s.scan.Workers(), s.scanCache())
	}
	mon := s.newMonitor(scan)
	if err := mon.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.mon = mon
	s.monRoot = dir
	s.staticRoot = dir
	s.mu.Unlock()
	logger.Info("monitoring folder", "root", dir)
	return nil
}

// StopMonitoring stops the active watcher, if any.
func (s *Server) StopMonitoring() {
	s.mu.RLock()
	mon := s.mon
	s.mu.RUnlock()
	mon.Stop()
}

func (s *Server) scanCache() scanner.MetadataCache {
	if s.cache == nil {
		return nil
	}
	return s.cache
}

// currentTree returns the cached tree, scanning on first use. The
// singleflight group collapses concurrent cold-cache requests into a
// single scan.
func (s *Server) currentTree(ctx context.Context, refresh bool) (*scanner.Tree, error) {
	if !refresh {
		s.mu.RLock()
		tree := s.tree
		s.mu.RUnlock()
		if tree != nil {
			return tree, nil
		}
	}
	v, err, _ := s.group.Do("scan", func() (any, error) {
		tree, err := s.scan.Scan(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.tree = tree
		s.mu.Unlock()
		return tree, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*scanner.Tree), nil
}

func (s *Server) handleImages(c echo.Context) error {
	refresh := c.QueryParam("refresh") == "true"
	tree, err := s.currentTree(c.Request().Context(), refresh)
	if err != nil {
		logger.Error("scan failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "scan failed")
	}

	if rel := c.QueryParam("relative_path"); rel != "" {
		folder := filepath.ToSlash(filepath.Join(filepath.Base(s.root), rel))
		files, ok := tree.Folders[folder]
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "unknown folder")
		}
		return c.JSON(http.StatusOK, &scanner.Tree{
			Folders: map[string]map[string]*scanner.FileDetails{folder: files},
		})
	}
	return c.JSON(http.StatusOK, tree)
}

// metadataRequest carries raw generation metadata for server-side
// parsing. Prompt and workflow accept either JSON strings or already
// parsed objects, matching what image text chunks contain.
type metadataRequest struct {
	FileInfo metadata.FileInfo `json:"fileinfo"`
	Prompt   any               `json:"prompt"`
	Workflow any               `json:"workflow"`
}

func (s *Server) handleMetadata(c echo.Context) error {
	var req metadataRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid metadata payload")
	}
	parsed := s.extractor.Parse(&metadata.Metadata{
		FileInfo: req.FileInfo,
		Prompt:   req.Prompt,
		Workflow: req.Workflow,
	})
	return c.JSON(http.StatusOK, parsed)
}

type monitorRequest struct {
	RelativePath string `json:"relative_path"`
}

func (s *Server) handleMonitorStart(c echo.Context) error {
	var req monitorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid monitor payload")
	}
	if err := s.StartMonitoring(context.Background(), req.RelativePath); err != nil {
		logger.Error("monitor start failed", "folder", req.RelativePath, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "cannot monitor that folder")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleMonitorStop(c echo.Context) error {
	s.StopMonitoring()
	return c.JSON(http.StatusOK, map[string]string{"status": "stopped"})
}

type deleteRequest struct {
	ImagePath string `json:"image_path"`
}

func (s *Server) handleDelete(c echo.Context) error {
	var req deleteRequest
	if err := c.Bind(&req); err != nil || req.ImagePath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "image_path required")
	}
	path, err := s.resolvePath(req.ImagePath)
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, "path outside media root")
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return echo.NewHTTPError(http.StatusNotFound, "no such file")
		}
		logger.Error("delete failed", "path", path, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "delete failed")
	}
	if s.cache != nil {
		_ = s.cache.Forget(path)
	}
	logger.Info("deleted file", "path", path)
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

type moveRequest struct {
	SourcePath string `json:"source_path"`
	TargetPath string `json:"target_path"`
}

func (s *Server) handleMove(c echo.Context) error {
	var req moveRequest
	if err := c.Bind(&req); err != nil || req.SourcePath == "" || req.TargetPath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source_path and target_path required")
	}
	src, err := s.resolvePath(req.SourcePath)
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, "path outside media root")
	}
	dst, err := s.resolvePath(req.TargetPath)
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, "path outside media root")
	}
	if _, err := os.Stat(src); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no such file")
	}
	// A directory target keeps the source filename.
	if info, err := os.Stat(dst); err == nil && info.IsDir() {
		dst = filepath.Join(dst, filepath.Base(src))
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		logger.Error("move failed", "target", dst, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "move failed")
	}
	if err := os.Rename(src, dst); err != nil {
		logger.Error("move failed", "source", src, "target", dst, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "move failed")
	}
	if s.cache != nil {
		_ = s.cache.Forget(src)
	}
	logger.Info("moved file", "source", src, "target", dst)
	return c.JSON(http.StatusOK, map[string]string{"status": "moved"})
}

func (s *Server) handleWS(c echo.Context) error {
	return s.hub.Serve(c.Response(), c.Request())
}

func (s *Server) handleStatic(c echo.Context) error {
	s.mu.RLock()
	root := s.staticRoot
	s.mu.RUnlock()
	path, err := confine(root, c.Param("*"))
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, "path outside media root")
	}
	return c.File(path)
}

// resolvePath maps a gallery-relative path to an absolute one,
// rejecting anything that escapes the media root. Paths may arrive
// with or without the root's base-name prefix.
func (s *Server) resolvePath(rel string) (string, error) {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "/")
	base := filepath.Base(s.root)
	if first, rest, ok := strings.Cut(rel, "/"); ok && first == base {
		rel = rest
	} else if !ok && rel == base {
		rel = "."
	}
	return confine(s.root, rel)
}

// confine joins rel onto root and verifies the result stays inside it
// after symlink resolution, so a link inside the root cannot reach
// out of it.
func confine(root, rel string) (string, error) {
	abs, err := filepath.Abs(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return "", err
	}
	realRoot, err := resolveReal(root)
	if err != nil {
		return "", err
	}
	real, err := resolveReal(abs)
	if err != nil {
		return "", err
	}
	within, err := filepath.Rel(realRoot, real)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", errors.New("path escapes media root")
	}
	return real, nil
}

// resolveReal is EvalSymlinks that tolerates missing trailing
// components: the deepest existing ancestor is resolved and the rest
// re-joined, so not-yet-created move targets still get checked.
func resolveReal(path string) (string, error) {
	suffix := ""
	for p := path; ; {
		real, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(real, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", err
		}
		suffix = filepath.Join(filepath.Base(p), suffix)
		p = parent
	}
}
