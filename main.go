package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run() error {
	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("cropframe"),
		kong.Description("Pan and zoom an image inside a square frame and export the crop."),
		kong.UsageOnError(),
		kong.Configuration(loadYAMLConfig, configPaths...),
	)
	if err := cliCtx.Run(); err != nil {
		return err
	}

	return nil
}

type cliArgs struct {
	Config kong.ConfigFlag `help:"Load configuration from a YAML file."`

	Serve serveCmd `cmd:"" default:"withargs" help:"Serve the crop widget in the browser."`
	Crop  cropCmd  `cmd:"" help:"Render a single crop without a UI."`
}

// setupLogging installs the global logger. The returned closer flushes the
// log file, if any.
func setupLogging(opts LogOptions) io.Closer {
	level := zerolog.InfoLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}

	var w io.Writer = zerolog.NewConsoleWriter()
	var closer io.Closer = io.NopCloser(nil)
	if opts.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		w = zerolog.MultiLevelWriter(w, file)
		closer = file
	}

	log.Logger = zerolog.New(w).With().Timestamp().Logger().Level(level)
	zerolog.DefaultContextLogger = &log.Logger
	return closer
}

type serveCmd struct {
	RootDir string `arg:"" help:"Root directory to serve images from" type:"existingdir"`
	Open    bool   `help:"Open the browser automatically when the server starts" default:"true"`
	Once    bool   `help:"Run the server once and exit after save" default:"true"`
	JSON    bool   `help:"Print the saved crop metadata as JSON"`

	CropPolicy `embed:""`
	LogOptions `embed:""`
}

func (cmd *serveCmd) Run() error {
	closer := setupLogging(cmd.LogOptions)
	defer closer.Close()

	if err := cmd.CropPolicy.Validate(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ctx = log.Logger.WithContext(ctx)

	app := NewWebApp(Config{
		RootDir:   cmd.RootDir,
		OutputDir: filepath.Join(cmd.RootDir, "output"),
		Cropper:   cmd.CropPolicy.CropperConfig(),
		OnBeforeShutdown: func() {
			log.Ctx(ctx).Info().Msg("Shutting down web application...")
		},
		OnReady: func(addr string) {
			log.Ctx(ctx).Info().Msgf("Server started at %s", addr)
			if cmd.Open {
				if err := openBrowser(addr); err != nil {
					log.Error().Err(err).Msg("Failed to open browser")
				}
			}
		},
		OnSave: func(saved SavedCrop) {
			if cmd.JSON {
				printJSONL([]SavedCrop{saved})
			}
			if cmd.Once {
				cancel()
			}
		},
	})

	if err := app.Run(ctx); err != nil {
		return err
	}

	return nil
}

type cropCmd struct {
	Image  string  `arg:"" help:"Source image" type:"existingfile"`
	Output string  `short:"o" help:"Output file, defaults to cropped-image.jpg next to the source" type:"path"`
	Zoom   float64 `help:"Zoom as a multiple of the cover-fit scale" default:"1"`
	PanX   float64 `help:"Horizontal offset of the image in frame pixels"`
	PanY   float64 `help:"Vertical offset of the image in frame pixels"`
	JSON   bool    `help:"Print the crop metadata as JSON"`

	CropPolicy `embed:""`
	LogOptions `embed:""`
}

func (cmd *cropCmd) Run() error {
	closer := setupLogging(cmd.LogOptions)
	defer closer.Close()

	if err := cmd.CropPolicy.Validate(); err != nil {
		return err
	}
	ctx := log.Logger.WithContext(context.Background())

	src, err := imaging.Open(cmd.Image, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}

	// Same transitions the widget goes through: load, zoom, pan.
	vp := NewViewport(cmd.FrameSize, cmd.ZoomMultiplier)
	vp.Load(ImageMetadata{Width: src.Bounds().Dx(), Height: src.Bounds().Dy()})
	lo, _ := vp.ZoomRange()
	vp.SetZoom(lo * cmd.Zoom)
	vp.BeginDrag(Point{})
	view, _ := vp.DragTo(Point{X: cmd.PanX, Y: cmd.PanY})
	vp.EndDrag()

	if view.OffsetX != cmd.PanX || view.OffsetY != cmd.PanY {
		log.Ctx(ctx).Warn().
			Float64("offset_x", view.OffsetX).
			Float64("offset_y", view.OffsetY).
			Msg("pan clamped to keep the frame covered")
	}

	rect := vp.Geometry().SourceRect(view)
	artifact, err := NewRasterizer(cmd.ResolutionCap, cmd.JPEGQuality).RenderCrop(ctx, src, rect)
	if err != nil {
		return err
	}
	artifact.View = view

	out := cmd.Output
	if out == "" {
		out = filepath.Join(filepath.Dir(cmd.Image), CropFilename)
	}
	if err := os.WriteFile(out, artifact.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write crop %s: %w", out, err)
	}

	log.Ctx(ctx).Info().
		Str("output", out).
		Int("size", artifact.Size).
		Stringer("source", rect).
		Msg("crop written")

	if cmd.JSON {
		printJSONL([]SavedCrop{{Path: out, Image: filepath.Base(cmd.Image), Artifact: *artifact}})
	}
	return nil
}

func printJSONL[T any](data []T) {
	enc := json.NewEncoder(os.Stdout)
	for _, item := range data {
		if err := enc.Encode(item); err != nil {
			log.Error().Err(err).Msg("Failed to encode item to JSON")
			continue
		}
	}
}
