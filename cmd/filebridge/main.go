// Command filebridge is a CLI front-end over the three transport
// adapters (internal/transport/http, internal/transport/ftp,
// internal/transport/tcp), grounded on the teacher's cmd/sender and
// cmd/receiver: stdlib flag for configuration, log.Fatalf on
// unrecoverable setup errors, schollz/progressbar for transfer
// progress, and an interrupt handler that cancels the in-flight
// operation instead of killing the process outright.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/rdessert/filebridge/internal/connection"
	_ "github.com/rdessert/filebridge/internal/transport/ftp"
	_ "github.com/rdessert/filebridge/internal/transport/http"
	_ "github.com/rdessert/filebridge/internal/transport/tcp"
	"github.com/rdessert/filebridge/pkg/idgen"
	"github.com/rdessert/filebridge/pkg/models"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list":
		runList(os.Args[2:])
	case "info":
		runInfo(os.Args[2:])
	case "download":
		runDownload(os.Args[2:])
	case "upload":
		runUpload(os.Args[2:])
	case "delete":
		runDelete(os.Args[2:])
	case "rename":
		runRename(os.Args[2:])
	case "mkdir":
		runMkdir(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: filebridge <list|info|download|upload|delete|rename|mkdir> [flags]")
}

// connFlags is the common set of connection flags every subcommand needs.
type connFlags struct {
	transport *string
	host      *string
	port      *int
	username  *string
	password  *string
	protocol  *string
	timeout   *time.Duration
}

func bindConnFlags(fs *flag.FlagSet) *connFlags {
	return &connFlags{
		transport: fs.String("transport", "http", "transport kind: http, ftp, or tcp"),
		host:      fs.String("host", "localhost", "remote host"),
		port:      fs.Int("port", 0, "remote port (defaults: http=80, ftp=21, tcp=9000)"),
		username:  fs.String("user", "", "username (ftp)"),
		password:  fs.String("pass", "", "password (ftp)"),
		protocol:  fs.String("protocol", "http", "http or https (http transport only)"),
		timeout:   fs.Duration("timeout", 30*time.Second, "per-operation timeout"),
	}
}

func (c *connFlags) config() (models.ConnectionConfig, error) {
	kind := models.TransportKind(*c.transport)
	port := *c.port
	if port == 0 {
		switch kind {
		case models.KindHTTP:
			port = 80
		case models.KindFTP:
			port = 21
		case models.KindTCP:
			port = 9000
		}
	}
	cfg := models.ConnectionConfig{
		Kind:     kind,
		Host:     *c.host,
		Port:     port,
		Timeout:  *c.timeout,
		Username: *c.username,
		Password: *c.password,
		Protocol: *c.protocol,
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// connect builds and connects the adapter for cfg, exiting the process
// on failure the way the teacher's cmd/sender and cmd/receiver do.
func connect(ctx context.Context, cfg models.ConnectionConfig) connection.Service {
	svc, err := connection.New(cfg.Kind)
	if err != nil {
		log.Fatalf("filebridge: %v", err)
	}
	if ok, err := svc.Connect(ctx, cfg); err != nil || !ok {
		log.Fatalf("filebridge: connect to %s:%d: %v", cfg.Host, cfg.Port, err)
	}
	return svc
}

// withInterrupt returns a child of ctx that is cancelled on SIGINT,
// mirroring the teacher's Ctrl+C handler in cmd/sender, and a func that
// stops the signal watch and cancels the context.
func withInterrupt(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		select {
		case <-interrupt:
			log.Println("interrupt received, cancelling operation...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() { signal.Stop(interrupt); cancel() }
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	cf := bindConnFlags(fs)
	path := fs.String("path", "/", "remote directory to list")
	fs.Parse(args)

	cfg, err := cf.config()
	if err != nil {
		log.Fatalf("filebridge: %v", err)
	}
	ctx := context.Background()
	svc := connect(ctx, cfg)
	defer svc.Disconnect(ctx)

	items, err := svc.ListFiles(ctx, *path)
	if err != nil {
		log.Fatalf("filebridge: list: %v", err)
	}
	for _, it := range items {
		kind := "file"
		if it.Type == models.TypeDirectory {
			kind = "dir "
		}
		fmt.Printf("%s  %10d  %s\n", kind, it.Size, it.Path)
	}
}

func runInfo(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	cf := bindConnFlags(fs)
	path := fs.String("path", "", "remote file path")
	fs.Parse(args)
	if *path == "" {
		log.Fatal("filebridge: info requires -path")
	}

	cfg, err := cf.config()
	if err != nil {
		log.Fatalf("filebridge: %v", err)
	}
	ctx := context.Background()
	svc := connect(ctx, cfg)
	defer svc.Disconnect(ctx)

	item, err := svc.GetFileInfo(ctx, *path)
	if err != nil {
		log.Fatalf("filebridge: info: %v", err)
	}
	fmt.Printf("name: %s\npath: %s\ntype: %s\nsize: %d\nmodified: %s\n",
		item.Name, item.Path, item.Type, item.Size, item.LastModified.Format(time.RFC3339))
}

func runDownload(args []string) {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	cf := bindConnFlags(fs)
	remotePath := fs.String("path", "", "remote file path")
	out := fs.String("out", "", "local output path")
	fs.Parse(args)
	if *remotePath == "" || *out == "" {
		log.Fatal("filebridge: download requires -path and -out")
	}

	cfg, err := cf.config()
	if err != nil {
		log.Fatalf("filebridge: %v", err)
	}
	ctx, stop := withInterrupt(context.Background())
	defer stop()
	svc := connect(ctx, cfg)
	defer svc.Disconnect(ctx)

	cancel := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(cancel)
	}()

	var bar *progressbar.ProgressBar
	res, err := svc.DownloadFileToPath(ctx, connection.DownloadToPathRequest{
		RemotePath: *remotePath,
		TargetPath: *out,
		Cancel:     cancel,
		OnProgress: func(p models.ProgressInfo) {
			if bar == nil {
				bar = progressbar.NewOptions64(int64(p.Total),
					progressbar.OptionSetDescription("downloading"),
					progressbar.OptionShowBytes(true),
					progressbar.OptionThrottle(100*time.Millisecond),
				)
			}
			_ = bar.Set64(int64(p.Loaded))
		},
	})
	if err != nil {
		log.Fatalf("filebridge: download: %v", err)
	}
	if !res.Success {
		log.Fatalf("filebridge: download failed: %s", res.Message)
	}
	fmt.Println("download complete:", *out)
}

func runUpload(args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	cf := bindConnFlags(fs)
	localPath := fs.String("file", "", "local file path")
	targetPath := fs.String("target", "", "remote target path")
	fs.Parse(args)
	if *localPath == "" || *targetPath == "" {
		log.Fatal("filebridge: upload requires -file and -target")
	}

	info, err := os.Stat(*localPath)
	if err != nil {
		log.Fatalf("filebridge: stat %s: %v", *localPath, err)
	}
	f, err := os.Open(*localPath)
	if err != nil {
		log.Fatalf("filebridge: open %s: %v", *localPath, err)
	}
	defer f.Close()

	cfg, err := cf.config()
	if err != nil {
		log.Fatalf("filebridge: %v", err)
	}
	ctx, stop := withInterrupt(context.Background())
	defer stop()
	svc := connect(ctx, cfg)
	defer svc.Disconnect(ctx)

	caps := svc.Capabilities()
	log.Printf("uploading %s (%s) via %s, streamUpload=%v, requestId=%s",
		filepath.Base(*localPath), idgen.HumanBytes(uint64(info.Size())), *cf.transport, caps.StreamUpload, idgen.NewRequestID("req"))

	cancel := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(cancel)
	}()

	bar := progressbar.NewOptions64(info.Size(),
		progressbar.OptionSetDescription("uploading"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	res, err := svc.UploadFile(ctx, connection.UploadRequest{
		Source:     f,
		Filename:   filepath.Base(*localPath),
		FileSize:   info.Size(),
		TargetPath: *targetPath,
		Cancel:     cancel,
		OnProgress: func(p models.ProgressInfo) { _ = bar.Set64(int64(p.Loaded)) },
	})
	if err != nil {
		log.Fatalf("filebridge: upload: %v", err)
	}
	if !res.Success {
		log.Fatalf("filebridge: upload failed: %s", res.Message)
	}
	fmt.Println("upload complete:", *targetPath)
}

func runDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	cf := bindConnFlags(fs)
	path := fs.String("path", "", "remote file path")
	fs.Parse(args)
	if *path == "" {
		log.Fatal("filebridge: delete requires -path")
	}

	cfg, err := cf.config()
	if err != nil {
		log.Fatalf("filebridge: %v", err)
	}
	ctx := context.Background()
	svc := connect(ctx, cfg)
	defer svc.Disconnect(ctx)

	res, err := svc.DeleteFile(ctx, *path)
	if err != nil || !res.Success {
		log.Fatalf("filebridge: delete: res=%+v err=%v", res, err)
	}
	fmt.Println("deleted:", *path)
}

func runRename(args []string) {
	fs := flag.NewFlagSet("rename", flag.ExitOnError)
	cf := bindConnFlags(fs)
	oldPath := fs.String("from", "", "existing remote path")
	newPath := fs.String("to", "", "new remote path")
	fs.Parse(args)
	if *oldPath == "" || *newPath == "" {
		log.Fatal("filebridge: rename requires -from and -to")
	}

	cfg, err := cf.config()
	if err != nil {
		log.Fatalf("filebridge: %v", err)
	}
	ctx := context.Background()
	svc := connect(ctx, cfg)
	defer svc.Disconnect(ctx)

	res, err := svc.RenameFile(ctx, *oldPath, *newPath)
	if err != nil || !res.Success {
		log.Fatalf("filebridge: rename: res=%+v err=%v", res, err)
	}
	fmt.Printf("renamed: %s -> %s\n", *oldPath, *newPath)
}

func runMkdir(args []string) {
	fs := flag.NewFlagSet("mkdir", flag.ExitOnError)
	cf := bindConnFlags(fs)
	path := fs.String("path", "", "remote directory path to create")
	fs.Parse(args)
	if *path == "" {
		log.Fatal("filebridge: mkdir requires -path")
	}

	cfg, err := cf.config()
	if err != nil {
		log.Fatalf("filebridge: %v", err)
	}
	ctx := context.Background()
	svc := connect(ctx, cfg)
	defer svc.Disconnect(ctx)

	res, err := svc.CreateDirectory(ctx, *path)
	if err != nil || !res.Success {
		log.Fatalf("filebridge: mkdir: res=%+v err=%v", res, err)
	}
	fmt.Println("created directory:", *path)
}
