package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	BindVariable string `long:"bind-variable" default:"ASPNETCORE_URLS" description:"Environment variable holding the addresses to bind"`
	AnnounceHost string `long:"announce-host" default:"0.0.0.0" description:"Host printed in the listening line"`
	StartupDelay int    `long:"startup-delay" description:"Milliseconds to wait before binding"`
	ExitCode     int    `long:"exit-code" description:"Exit immediately with this code instead of serving"`
	Malformed    bool   `long:"malformed" description:"Announce an address without a port"`
	RunDuration  int    `long:"run-duration" description:"Duration in seconds to serve before exiting"`
}

func main() {
	var opts flagOptions
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	_, err := parser.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Starting fakeapp, opts: %+v...\n", opts)

	if opts.ExitCode != 0 {
		fmt.Fprintf(os.Stderr, "Unhandled exception: requested exit code %d\n", opts.ExitCode)
		os.Exit(opts.ExitCode)
	}

	if opts.StartupDelay > 0 {
		time.Sleep(time.Duration(opts.StartupDelay) * time.Millisecond)
	}

	ports, err := httpPorts(os.Getenv(opts.BindVariable))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid %s: %v\n", opts.BindVariable, err)
		os.Exit(2)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "Hello from fakeapp")
	})
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var servers []*http.Server
	for _, port := range ports {
		listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", port))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to bind port %s: %v\n", port, err)
			os.Exit(3)
		}
		server := &http.Server{Handler: router}
		servers = append(servers, server)
		go server.Serve(listener)

		if opts.Malformed {
			fmt.Printf("Now listening on: http://%s\n", opts.AnnounceHost)
		} else {
			fmt.Printf("Now listening on: http://%s\n", net.JoinHostPort(opts.AnnounceHost, port))
		}
	}
	fmt.Printf("Application started. Press Ctrl+C to shut down.\n")

	ctx := context.Background()
	if opts.RunDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	select {
	case receivedSignal := <-sig:
		fmt.Printf("Fakeapp received signal: %v\n", receivedSignal)
	case <-ctx.Done():
		fmt.Printf("Fakeapp run duration elapsed\n")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, server := range servers {
		_ = server.Shutdown(shutdownCtx)
	}
	fmt.Printf("Fakeapp stopped\n")
}

// httpPorts returns the ports of the plain HTTP entries of a
// semicolon-separated address list
func httpPorts(addresses string) ([]string, error) {
	var ports []string
	for _, address := range strings.Split(addresses, ";") {
		address = strings.TrimSpace(address)
		if address == "" {
			continue
		}
		u, err := url.Parse(address)
		if err != nil {
			return nil, err
		}
		if u.Scheme != "http" {
			continue
		}
		if u.Port() == "" {
			return nil, fmt.Errorf("address without port: %s", address)
		}
		ports = append(ports, u.Port())
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no http address in %q", addresses)
	}
	return ports, nil
}
