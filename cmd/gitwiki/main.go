// Package main is the entry point for the gitwiki server.
//
// gitwiki serves a wiki whose pages are files in a git repository; every save
// is a commit. Configuration is read from an optional YAML file, a .env file,
// GITWIKI_* environment variables and CLI flags, in increasing precedence.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/maruel/gitwiki/internal/config"
	"github.com/maruel/gitwiki/internal/markup"
	"github.com/maruel/gitwiki/internal/server"
	"github.com/maruel/gitwiki/internal/storage/git"
	"github.com/maruel/gitwiki/internal/watch"
	"github.com/maruel/gitwiki/internal/wiki"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "gitwiki: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	def := config.Default()
	version := flag.Bool("version", false, "Print version and exit")
	configSchema := flag.Bool("config-schema", false, "Print the JSON schema of the configuration file and exit")
	configPath := flag.String("config", "", "YAML configuration file (optional)")
	writeConfig := flag.Bool("write-config", false, "Write the effective configuration to the -config file and exit")
	envPath := flag.String("env", ".env", "dotenv file with GITWIKI_* variables (optional)")
	repoDir := flag.String("repo", def.Repo, "Git working tree holding the pages")
	initRepo := flag.Bool("init", def.Init, "Create the repository if it does not exist")
	backend := flag.String("backend", def.Backend, "Git implementation: gogit or exec")
	markupName := flag.String("markup", def.Markup, "Content markup: markdown or plain")
	ext := flag.String("ext", def.Wiki.Extension, "Page file extension")
	root := flag.String("root", def.Wiki.RootPage, "Name of the page served at /")
	linkPattern := flag.String("link-pattern", def.Wiki.LinkPattern, "Regular expression recognizing wiki links; use 'wikiword' for CamelCase")
	httpAddr := flag.String("http", def.HTTP, "Address to listen on (e.g., localhost:8080, :8080)")
	logLevel := flag.String("log-level", def.LogLevel, "Log level (debug, info, warn, error)")
	noWatch := flag.Bool("no-watch", false, "Do not watch the repository for external commits")
	trustedProxies := flag.String("trusted-proxies", "", "Comma separated reverse proxy IPs or CIDRs whose X-Forwarded-For is trusted")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}
	if *version {
		printVersion()
		return nil
	}
	if *configSchema {
		b, err := config.Schema()
		if err != nil {
			return err
		}
		_, err = fmt.Printf("%s\n", b)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	slog.SetDefault(newLogger(ll))

	if *writeConfig && *configPath == "" {
		return errors.New("-write-config requires -config")
	}
	cfg, err := config.Load(*configPath, *configPath != "" && !*writeConfig)
	if err != nil {
		return err
	}
	env, err := config.ReadDotEnv(*envPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(env); err != nil {
		return err
	}

	// Flags explicitly set win over every other source.
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if set["repo"] {
		cfg.Repo = *repoDir
	}
	if set["init"] {
		cfg.Init = *initRepo
	}
	if set["backend"] {
		cfg.Backend = *backend
	}
	if set["markup"] {
		cfg.Markup = *markupName
	}
	if set["ext"] {
		cfg.Wiki.Extension = *ext
	}
	if set["root"] {
		cfg.Wiki.RootPage = *root
	}
	if set["link-pattern"] {
		cfg.Wiki.LinkPattern = *linkPattern
	}
	if set["http"] {
		cfg.HTTP = *httpAddr
	}
	if set["log-level"] {
		cfg.LogLevel = *logLevel
	}
	if *noWatch {
		cfg.Watch = false
	}
	if set["trusted-proxies"] {
		cfg.TrustedProxies = config.SplitList(*trustedProxies)
	}
	if strings.EqualFold(cfg.Wiki.LinkPattern, "wikiword") {
		cfg.Wiki.LinkPattern = wiki.LinkPatternWikiWord
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if *writeConfig {
		if err := cfg.Save(*configPath); err != nil {
			return err
		}
		slog.InfoContext(ctx, "Wrote configuration", "path", *configPath)
		return nil
	}
	proxies, err := cfg.ProxyPrefixes()
	if err != nil {
		return err
	}

	switch cfg.LogLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	}

	be, err := git.ParseBackend(cfg.Backend)
	if err != nil {
		return err
	}
	repo, err := git.Open(ctx, git.Options{
		Dir:          cfg.Repo,
		Init:         cfg.Init,
		Backend:      be,
		DefaultName:  cfg.Committer.Name,
		DefaultEmail: cfg.Committer.Email,
	})
	if err != nil {
		return err
	}
	renderer, err := markup.New(cfg.Markup)
	if err != nil {
		return err
	}
	store, err := wiki.NewStore(repo, cfg.Wiki, renderer)
	if err != nil {
		return err
	}

	if cfg.Watch {
		if err := watch.Repository(ctx, repo.Dir(), watch.DefaultDebounce, store.Invalidate); err != nil {
			return fmt.Errorf("failed to watch repository: %w", err)
		}
	}
	// Watch own executable for modifications (for development restarts).
	if err := watch.Executable(ctx, stop); err != nil {
		return fmt.Errorf("failed to watch executable: %w", err)
	}

	buildVersion, _, _, _ := getBuildInfo()
	srv := server.New(store, repo, server.Config{
		MaxBodyBytes:    cfg.Limits.MaxBodyBytes,
		WriteRatePerMin: cfg.Limits.WriteRatePerMin,
		Version:         buildVersion,
		TrustedProxies:  proxies,
	})
	defer srv.Close()

	// ":8080" becomes "localhost:8080".
	addr := cfg.HTTP
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", addr, "repo", repo.Dir(), "backend", be, "version", buildVersion)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

func newLogger(ll *slog.LevelVar) *slog.Logger {
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			if a.Key == "ip" {
				if v := a.Value.String(); v == "127.0.0.1" || v == "::1" {
					return slog.Attr{}
				}
			}
			// Drop zero values to keep lines short.
			skip := false
			switch t := a.Value.Any().(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case int64:
				skip = t == 0
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("gitwiki %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
