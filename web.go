package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/rs/zerolog/log"
)

//go:embed static
var staticFS embed.FS
var isDebug = os.Getenv("DEBUG") == "1"

type Config struct {
	RootDir          string
	OutputDir        string
	Cropper          CropperConfig
	OnBeforeShutdown func()
	OnReady          func(addr string)
	OnSave           func(saved SavedCrop)
}

// SavedCrop describes a crop written to the output directory.
type SavedCrop struct {
	Path     string       `json:"path"`
	Image    string       `json:"image"`
	Artifact CropArtifact `json:"artifact"`
}

type WebApp struct {
	config       Config
	cropper      *Cropper
	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	// mu makes the HTTP handlers a single logical actor on the widget.
	mu        sync.Mutex
	loadErr   error
	loadErrMu sync.Mutex
}

func NewWebApp(config Config) *WebApp {
	a := &WebApp{
		config:     config,
		shutdownCh: make(chan struct{}),
	}
	cc := config.Cropper
	onCrop := cc.OnCrop
	cc.OnCrop = func(ctx context.Context, artifact CropArtifact) {
		log.Ctx(ctx).Debug().Uint64("seq", artifact.Seq).Str("id", artifact.ID()).Msg("crop ready")
		if onCrop != nil {
			onCrop(ctx, artifact)
		}
	}
	onLoadError := cc.OnLoadError
	cc.OnLoadError = func(ctx context.Context, err error) {
		a.loadErrMu.Lock()
		a.loadErr = err
		a.loadErrMu.Unlock()
		if onLoadError != nil {
			onLoadError(ctx, err)
		}
	}
	a.cropper = NewCropper(cc)
	return a
}

func (a *WebApp) Shutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdownCh)
	})
}

type stateResponse struct {
	CropperSnapshot
	LoadError string `json:"load_error,omitempty"`
}

func (a *WebApp) state() stateResponse {
	resp := stateResponse{CropperSnapshot: a.cropper.Snapshot()}
	a.loadErrMu.Lock()
	if a.loadErr != nil {
		resp.LoadError = a.loadErr.Error()
	}
	a.loadErrMu.Unlock()
	return resp
}

func (a *WebApp) clearLoadError() {
	a.loadErrMu.Lock()
	a.loadErr = nil
	a.loadErrMu.Unlock()
}

func (a *WebApp) newRouter(ctx context.Context) *fiber.App {
	webapp := fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		BodyLimit:             64 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Ctx(c.UserContext()).Error().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("Request failed")
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				if fiberErr.Code == http.StatusNotFound && c.Path() == "/favicon.ico" {
					return nil
				}
				return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
			}
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		},
	})

	logger := log.Ctx(ctx)
	webapp.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(logger.WithContext(c.UserContext()))
		return c.Next()
	})

	filesRoot := http.Dir(a.config.RootDir)
	webapp.Get("/api/view", func(c *fiber.Ctx) error {
		filePath := c.Query("file")
		return filesystem.SendFile(c, filesRoot, filePath)
	})

	webapp.Get("/api/ls", func(c *fiber.Ctx) error {
		dir, err := walkImages(c.UserContext(), a.config.RootDir, a.config.OutputDir)
		if err != nil {
			return fmt.Errorf("failed to walk dir: %w", err)
		}

		for i := range dir.Files {
			dir.Files[i].URL = "/api/view?file=" + url.QueryEscape(dir.Files[i].Name)
		}

		return c.JSON(dir)
	})

	webapp.Post("/api/load", a.handleLoad)

	webapp.Get("/api/state", func(c *fiber.Ctx) error {
		return c.JSON(a.state())
	})

	webapp.Post("/api/events", func(c *fiber.Ctx) error {
		var request struct {
			Operations []Operation `json:"operations"`
		}

		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}

		a.mu.Lock()
		defer a.mu.Unlock()
		executor := OperationExecutor{Cropper: a.cropper}
		if err := executor.Exec(c.UserContext(), request.Operations); err != nil {
			return err
		}
		return c.JSON(a.state())
	})

	webapp.Get("/api/crop", func(c *fiber.Ctx) error {
		artifact, ok := a.cropper.Latest()
		if !ok {
			return fiber.NewError(http.StatusNotFound, "no crop available yet")
		}
		etag := strconv.Quote(artifact.ID())
		c.Set(fiber.HeaderETag, etag)
		c.Set("X-Crop-Seq", strconv.FormatUint(artifact.Seq, 10))
		if c.Get(fiber.HeaderIfNoneMatch) == etag {
			return c.SendStatus(http.StatusNotModified)
		}
		c.Set(fiber.HeaderContentType, artifact.MIMEType)
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", artifact.Filename))
		return c.Send(artifact.Data)
	})

	webapp.Post("/api/save", func(c *fiber.Ctx) error {
		a.mu.Lock()
		defer a.mu.Unlock()

		saved, err := a.save(c.UserContext())
		if err != nil {
			return err
		}
		if fn := a.config.OnSave; fn != nil {
			fn(saved)
		}
		return c.JSON(saved)
	})
	webapp.Post("/api/shutdown", func(c *fiber.Ctx) error {
		a.Shutdown()
		return nil
	})

	if isDebug {
		log.Debug().Msg("Debug mode enabled, serving static files from './static' directory")
		webapp.Static("/", "static")
	} else {
		log.Debug().Msg("Serving static files from embedded filesystem")
		webapp.Use("/", filesystem.New(filesystem.Config{
			Root:       http.FS(staticFS),
			PathPrefix: "/static",
		}))
	}

	return webapp
}

func (a *WebApp) handleLoad(c *fiber.Ctx) error {
	ctx := c.UserContext()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearLoadError()

	var err error
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		err = a.loadUpload(c)
	} else {
		var request struct {
			File string `json:"file"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if request.File == "" {
			return fiber.NewError(http.StatusBadRequest, "file is required")
		}
		err = a.loadFile(ctx, request.File)
	}
	if err != nil {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return err
		}
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(a.state())
}

func (a *WebApp) loadFile(ctx context.Context, name string) error {
	root, err := os.OpenRoot(a.config.RootDir)
	if err != nil {
		return fmt.Errorf("failed to open root directory: %w", err)
	}
	defer root.Close()

	f, err := root.Open(filepath.FromSlash(name))
	if err != nil {
		return fiber.NewError(http.StatusNotFound, fmt.Sprintf("cannot open %s", name))
	}
	defer f.Close()
	return a.cropper.Load(ctx, name, f)
}

func (a *WebApp) loadUpload(c *fiber.Ctx) error {
	fh, err := c.FormFile("image")
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "multipart field \"image\" is required")
	}
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()
	return a.cropper.Load(c.UserContext(), fh.Filename, f)
}

// save writes the newest crop to the output directory.
func (a *WebApp) save(ctx context.Context) (SavedCrop, error) {
	a.cropper.Wait()
	artifact, ok := a.cropper.Latest()
	if !ok {
		return SavedCrop{}, fiber.NewError(http.StatusNotFound, "no crop available yet")
	}

	if err := os.MkdirAll(a.config.OutputDir, 0755); err != nil {
		return SavedCrop{}, fmt.Errorf("failed to create output directory %s: %w", a.config.OutputDir, err)
	}

	image := a.cropper.Name()
	base := strings.TrimSuffix(filepath.Base(image), filepath.Ext(image))
	if base == "" || base == "." {
		base = strings.TrimSuffix(CropFilename, filepath.Ext(CropFilename))
	}
	newName := fmt.Sprintf("%s-%s.jpg", base, artifact.ID())
	croppedPath := filepath.Join(a.config.OutputDir, newName)
	if err := os.WriteFile(croppedPath, artifact.Data, 0644); err != nil {
		return SavedCrop{}, fmt.Errorf("failed to write cropped data to file %s: %w", newName, err)
	}

	log.Ctx(ctx).Info().
		Str("image", image).
		Str("path", croppedPath).
		Int("size", artifact.Size).
		Msg("crop saved")

	return SavedCrop{Path: croppedPath, Image: image, Artifact: artifact}, nil
}

func (a *WebApp) Run(ctx context.Context) error {
	webapp := a.newRouter(ctx)

	webapp.Hooks().OnListen(func(listen fiber.ListenData) error {
		if fn := a.config.OnReady; fn != nil {
			fn(fmt.Sprintf("http://%s:%s", listen.Host, listen.Port))
		}
		return nil
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-a.shutdownCh:
		}
		if fn := a.config.OnBeforeShutdown; fn != nil {
			fn()
		}
		if err := webapp.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to shutdown web application")
		}
	}()

	// Let the OS assign a random available port
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", 0))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	// Use the listener that was already created
	if err := webapp.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	a.cropper.Wait()
	return nil
}
