package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"sparky-ng/internal/config"
	"sparky-ng/internal/razor"
	"sparky-ng/internal/replay"
	"sparky-ng/internal/serial"
	"sparky-ng/internal/web"
)

func main() {
	var (
		configPath    string
		dump          bool
		summarizePath string
	)
	flag.StringVar(&configPath, "config", "./sparky.yaml", "Path to YAML or TOML config")
	flag.BoolVar(&dump, "dump", false, "Print decoded sensor frames instead of running control")
	flag.StringVar(&summarizePath, "summarize", "", "Print a summary of a recorded sensor capture and exit")
	flag.Parse()

	if summarizePath != "" {
		if err := printCaptureSummary(os.Stdout, summarizePath); err != nil {
			log.Fatalf("summarize failed: %v", err)
		}
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if dump {
		if err := dumpDevice(ctx, cfg); err != nil {
			log.Fatalf("dump failed: %v", err)
		}
		return
	}

	rt, err := newRuntime(cfg, logs)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer rt.Close()

	log.Printf("sparky-ng starting")
	if err := rt.Run(ctx); err != nil {
		log.Printf("control loop stopped: %v", err)
	}
	log.Printf("sparky-ng stopping")
}

func dumpDevice(ctx context.Context, cfg config.Config) error {
	if cfg.Razor.ReplayPath != "" {
		recs, err := replay.ReadFile(cfg.Razor.ReplayPath)
		if err != nil {
			return err
		}
		buf := serial.NewBuffer(serial.DefaultBufferSize)
		go func() {
			err := replay.Play(ctx, recs, cfg.Razor.ReplaySpeed, cfg.Razor.ReplayLoop, nil, func(b []byte) error {
				_, err := buf.Write(b)
				return err
			})
			if err != nil && ctx.Err() == nil {
				log.Printf("replay stopped: %v", err)
			}
		}()
		runDump(ctx, os.Stdout, razor.NewDecoder(buf), cfg.Razor.PollInterval.Std())
		return nil
	}

	p, err := serial.Open(serial.Config{Device: cfg.Razor.Device, Baud: cfg.Razor.Baud, Backend: cfg.Razor.Backend})
	if err != nil {
		return err
	}
	defer p.Close()
	if err := razor.Begin(p); err != nil {
		return err
	}
	runDump(ctx, os.Stdout, razor.NewDecoder(p), cfg.Razor.PollInterval.Std())
	return nil
}
