package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"pspbridge/input"
	"pspbridge/server"
	"pspbridge/stream"
)

func main() {
	var (
		host       = pflag.String("host", "0.0.0.0", "address to bind")
		port       = pflag.IntP("port", "p", server.DefaultPort, "control port (stream port is this plus one)")
		streamPort = pflag.Int("stream-port", 0, "MJPEG stream port (default: control port + 1)")
		display    = pflag.Int("display", 0, "display index to capture")
		logLevel   = pflag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	pflag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		slog.Error("invalid log level", "value", *logLevel)
		os.Exit(2)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	srv, err := server.New(server.Config{
		Host:       *host,
		Port:       *port,
		StreamPort: *streamPort,
	}, input.NewRobotgo(), stream.NewScreenSource(*display), log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	srv.Start()

	if ip, err := server.LocalIP(); err == nil {
		log.Info("listening", "ip", ip, "port", *port)
		log.Info("enter this IP in the mobile app to connect")
	} else {
		log.Info("listening", "addr", srv.Addr())
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	srv.Stop()
}
