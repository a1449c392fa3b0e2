package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/visitor-pass/internal/capture"
	"github.com/zombor/visitor-pass/internal/capture/opencv"
	"github.com/zombor/visitor-pass/internal/compose"
	"github.com/zombor/visitor-pass/internal/pass"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// shared holds the flags every subcommand understands.
type shared struct {
	assets      *string
	template    *string
	dbPath      *string
	maxUploadMB *int
	defaultName *string
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	rootFlags := ff.NewFlagSet("visitor-pass")
	opts := shared{
		assets:      rootFlags.StringLong("assets", "./assets", "Directory holding the pass template"),
		template:    rootFlags.StringLong("template", "fulvadi-invite-web.png", "Template file name inside --assets"),
		dbPath:      rootFlags.StringLong("db", "visitor-pass.db", "Export ledger database path"),
		maxUploadMB: rootFlags.IntLong("max-upload-mb", 5, "Largest accepted photo upload in MB"),
		defaultName: rootFlags.StringLong("default-name", compose.DefaultName, "Name printed when none is given"),
	}
	rootFlags.BoolLong("version", "Show version information")

	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	port := serveFlags.IntLong("port", 8080, "HTTP server port")

	renderFlags := ff.NewFlagSet("render").SetParent(rootFlags)
	renderPhoto := renderFlags.StringLong("photo", "", "Photo file to place on the pass")
	renderName := renderFlags.StringLong("name", "", "Registrant name")
	renderOut := renderFlags.StringLong("out", ".", "Directory the pass is written to")

	snapFlags := ff.NewFlagSet("snap").SetParent(rootFlags)
	snapDevice := snapFlags.IntLong("device", 0, "Camera device index")
	snapName := snapFlags.StringLong("name", "", "Registrant name")
	snapOut := snapFlags.StringLong("out", ".", "Directory the pass is written to")
	snapDelay := snapFlags.DurationLong("delay", 3*time.Second, "Time to pose before the frame is captured")

	serveCmd := &ff.Command{
		Name:      "serve",
		Usage:     "visitor-pass serve [FLAGS]",
		ShortHelp: "serve the visitor pass HTTP API",
		Flags:     serveFlags,
		Exec: func(ctx context.Context, args []string) error {
			return runServe(ctx, opts, *port)
		},
	}
	renderCmd := &ff.Command{
		Name:      "render",
		Usage:     "visitor-pass render --photo FILE --name NAME [FLAGS]",
		ShortHelp: "render a pass from a photo file",
		Flags:     renderFlags,
		Exec: func(ctx context.Context, args []string) error {
			return runRender(ctx, opts, *renderPhoto, *renderName, *renderOut)
		},
	}
	snapCmd := &ff.Command{
		Name:      "snap",
		Usage:     "visitor-pass snap --name NAME [FLAGS]",
		ShortHelp: "take a photo with the camera and render a pass",
		Flags:     snapFlags,
		Exec: func(ctx context.Context, args []string) error {
			return runSnap(ctx, opts, *snapDevice, *snapDelay, *snapName, *snapOut)
		},
	}
	root := &ff.Command{
		Name:        "visitor-pass",
		Usage:       "visitor-pass <SUBCOMMAND> [FLAGS]",
		Flags:       rootFlags,
		Subcommands: []*ff.Command{serveCmd, renderCmd, snapCmd},
	}

	if err := root.Parse(os.Args[1:], ff.WithEnvVarPrefix("VISITOR_PASS")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(selected(root)))
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.Run(ctx); err != nil {
		if errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root))
			os.Exit(1)
		}
		slog.Error("Command failed", "command", selected(root).Name, "error", err)
		stop()
		os.Exit(1)
	}
}

// selected is the command the args resolved to, or root before parsing.
func selected(root *ff.Command) *ff.Command {
	if cmd := root.GetSelected(); cmd != nil {
		return cmd
	}
	return root
}

func (o shared) captureConfig() capture.Config {
	cfg := capture.DefaultConfig()
	cfg.MaxUploadBytes = int64(*o.maxUploadMB) << 20
	return cfg
}

func (o shared) layout() compose.Layout {
	l := compose.DefaultLayout()
	l.DefaultName = *o.defaultName
	return l
}

// openService wires the ledger and template store into a pass.Service.
func (o shared) openService() (*pass.Service, func(), error) {
	slog.Info("Initializing database...", "path", *o.dbPath)
	db, err := pass.NewBoltDB(*o.dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing database: %w", err)
	}

	slog.Info("Initializing template storage...", "path", *o.assets, "template", *o.template)
	assets, err := pass.NewLocalStorage(*o.assets)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("initializing storage: %w", err)
	}

	closeFn := func() {
		if err := db.Close(); err != nil {
			slog.Warn("Failed to close database", "error", err)
		}
	}
	return pass.NewService(db, assets, *o.template, o.layout()), closeFn, nil
}

func runServe(ctx context.Context, o shared, port int) error {
	service, closeFn, err := o.openService()
	if err != nil {
		return err
	}
	defer closeFn()

	server := pass.NewServer(service, o.captureConfig())

	addr := fmt.Sprintf(":%d", port)
	errc := make(chan error, 1)
	go func() {
		errc <- server.Start(addr)
	}()
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("Shutting down...")
		return nil
	}
}

func runRender(ctx context.Context, o shared, photoPath, name, outDir string) error {
	if photoPath == "" {
		return errors.New("--photo is required")
	}
	ctrl := capture.NewController(nil, nil, o.captureConfig())
	defer ctrl.Close()

	ctrl.SetName(name)
	if _, err := ctrl.Upload(ctx, localFile{path: photoPath}); err != nil {
		return fmt.Errorf("uploading %s: %w", photoPath, err)
	}
	rec, err := ctrl.Submit()
	if err != nil {
		return err
	}
	return generateAndSave(o, rec, outDir)
}

func runSnap(ctx context.Context, o shared, device int, delay time.Duration, name, outDir string) error {
	cfg := o.captureConfig()
	ctrl := capture.NewController(opencv.NewDevices(device), opencv.NewSink(), cfg)
	defer ctrl.Close()

	ctrl.SetName(name)
	if err := ctrl.StartCamera(ctx); err != nil {
		return err
	}

	slog.Info("Camera ready, hold still", "delay", delay)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		ctrl.StopCamera()
		return ctx.Err()
	}

	photo, err := ctrl.CaptureFrame()
	if err != nil {
		return err
	}
	slog.Info("Captured photo", "bytes", photo.Size())

	rec, err := ctrl.Submit()
	if err != nil {
		return err
	}
	return generateAndSave(o, rec, outDir)
}

func generateAndSave(o shared, rec capture.RegistrationRecord, outDir string) error {
	service, closeFn, err := o.openService()
	if err != nil {
		return err
	}
	defer closeFn()

	download, p, err := service.Generate(rec)
	if err != nil {
		return err
	}

	out, err := pass.NewLocalStorage(outDir)
	if err != nil {
		return err
	}
	path, err := out.Save(download.Filename, download.Data)
	if err != nil {
		return fmt.Errorf("saving pass: %w", err)
	}
	slog.Info("Pass written", "path", path, "id", p.ID, "width", download.Width, "height", download.Height)
	return nil
}
