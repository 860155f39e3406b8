package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	iofs "io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/hirelane/livewire/internal/auth"
	"github.com/hirelane/livewire/internal/checkpoint"
	"github.com/hirelane/livewire/internal/config"
	"github.com/hirelane/livewire/internal/httpapi"
	"github.com/hirelane/livewire/internal/llm"
	"github.com/hirelane/livewire/internal/logger"
	"github.com/hirelane/livewire/internal/sandbox/docker"
	"github.com/hirelane/livewire/internal/shell"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	// Check for subcommands before parsing flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			cmdInit()
			return
		case "token":
			cmdToken(os.Args[2:])
			return
		case "--version", "-v":
			fmt.Printf("livewire %s\n", Version)
			return
		case "--help", "-h", "help":
			printUsage()
			return
		}
	}

	// Default: run server
	runServer()
}

func printUsage() {
	fmt.Printf(`Livewire %s - Interview Session Transport

Usage: livewire [command] [options]

Commands:
  (default)    Start the transport server
  init         Initialize Livewire directory structure
  token        Manage authentication tokens

Server Options:
  --dir <path>       Livewire home directory

Config Precedence (for server):
  1. --dir flag
  2. LIVEWIRE_HOME env var
  3. ./.livewire (if initialized in current directory)
  4. ~/.livewire (default)

Examples:
  livewire                              Start the server (auto-detect config)
  livewire --dir /path/to/livewire      Start with specific config directory
  livewire init                         Set up ~/.livewire
  livewire token create --name "Dashboard" --scope admin
`, Version)
}

func runServer() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	dirFlag := flag.String("dir", "", "Livewire home directory (default: ~/.livewire)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("livewire %s\n", Version)
		os.Exit(0)
	}

	livewireDir := resolveLivewireDir(*dirFlag)
	dataDir := filepath.Join(livewireDir, "data")
	configDir := filepath.Join(livewireDir, "config")

	if _, err := os.Stat(filepath.Join(configDir, "livewire.jsonc")); errors.Is(err, iofs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "Livewire not initialized. Run 'livewire init' first.")
		os.Exit(1)
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logDir := filepath.Join(dataDir, "logs")
	if err := logger.Init(logDir); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Println("Livewire - Interview Session Transport")
	logger.Println("")

	// Execution backend
	runtime, err := docker.NewRuntime(nil)
	if err != nil {
		logger.Fatalf("Failed to initialize Docker runtime: %v", err)
	}
	defer func() { _ = runtime.Close() }()

	ctx := context.Background()
	if err := runtime.Ping(ctx); err != nil {
		logger.Fatalf("Failed to connect to execution backend: %v", err)
	}
	logger.Printf("Connected to %s runtime", runtime.Name())
	logger.Printf("Logs directory: %s", logDir)

	// Stores
	authStore, err := auth.NewStore(dataDir)
	if err != nil {
		logger.Fatalf("Failed to initialize auth store: %v", err)
	}
	defer func() { _ = authStore.Close() }()
	logger.Printf("Auth database: %s/auth.db", dataDir)

	checkpointStore, err := checkpoint.NewStore(dataDir)
	if err != nil {
		logger.Fatalf("Failed to initialize checkpoint store: %v", err)
	}
	defer func() { _ = checkpointStore.Close() }()
	logger.Printf("Checkpoint database: %s/checkpoints.db", dataDir)

	recovery := checkpoint.NewController(checkpointStore, cfg.Staleness())

	janitor, err := checkpoint.NewJanitor(checkpointStore, cfg.Checkpoint.JanitorCron,
		time.Duration(cfg.Checkpoint.RetentionHours)*time.Hour, cfg.Staleness())
	if err != nil {
		logger.Fatalf("Failed to schedule checkpoint janitor: %v", err)
	}
	janitor.Start()

	// Model gateway
	var provider llm.Provider
	if cfg.LLM.GatewayURL != "" {
		provider = llm.NewGatewayProvider(cfg.LLM.GatewayURL, cfg.LLM.AuthToken)
		logger.Printf("Model gateway: %s", cfg.LLM.GatewayURL)
	} else {
		provider = llm.NewDisabledProvider()
		logger.Println("WARNING: llm.gateway_url not configured; chat and evaluation streams will fail")
	}
	runner := llm.NewRunner(provider, recovery)

	// Shell sessions
	registry := shell.NewRegistry()
	shells := shell.NewManager(registry, runtime, cfg.Sandbox.Workdir, nil)

	server := httpapi.NewServer(cfg, authStore, shells, provider, runner, recovery, runtime)

	// Setup graceful shutdown
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Serve()
	}()

	select {
	case err := <-serverErr:
		logger.Fatalf("Server error: %v", err)
	case sig := <-shutdownChan:
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logger.Println("   Draining HTTP server...")
		_ = server.Shutdown(shutdownCtx)

		logger.Println("   Closing shell sessions...")
		shells.Close()

		logger.Println("   Stopping checkpoint janitor...")
		janitor.Stop()

		logger.Println("   Closing execution backend...")
		_ = runtime.Close()

		logger.Println("   Closing databases...")
		_ = authStore.Close()
		_ = checkpointStore.Close()

		logger.Println("Shutdown complete")
		_ = logger.Close()
		os.Exit(0) //nolint:gocritic // intentional exit after manual cleanup
	}
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dirFlag := fs.String("dir", "", "Directory to initialize (default: ~/.livewire)")
	_ = fs.Parse(os.Args[2:])

	var livewireDir string
	if *dirFlag != "" {
		absDir, err := filepath.Abs(*dirFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid directory: %v\n", err)
			os.Exit(1)
		}
		livewireDir = absDir
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: could not determine home directory: %v\n", err)
			os.Exit(1)
		}
		livewireDir = filepath.Join(homeDir, ".livewire")
	}

	configDir := filepath.Join(livewireDir, "config")
	dataDir := filepath.Join(livewireDir, "data")

	configFile := filepath.Join(configDir, "livewire.jsonc")
	if _, err := os.Stat(configFile); err == nil {
		fmt.Printf("%s is already initialized.\n", livewireDir)
		fmt.Print("Overwrite? [y/N]: ")
		var response string
		_, _ = fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}

	fmt.Println("Initializing Livewire")
	fmt.Println("")

	dirs := []string{
		configDir,
		filepath.Join(dataDir, "logs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", dir, err)
			os.Exit(1)
		}
		fmt.Printf("   Created %s\n", dir)
	}

	defaultConfig := `{
  // Livewire Configuration

  "server": {
    "address": ":8080"
  },

  "stream": {
    "shell_keepalive_seconds": 10,
    "chat_keepalive_seconds": 15,
    "poll_interval_millis": 250,
    "poll_chunk_bytes": 16384,
    "terminal_enabled": true
  },

  "checkpoint": {
    "staleness_minutes": 5,
    "retention_hours": 24,
    "janitor_cron": "*/10 * * * *"
  },

  "sandbox": {
    "image": "ghcr.io/hirelane/livewire-sandbox:latest",
    "memory": "1G",
    "cpus": 1,
    "workdir": "/workspace"
  },

  "llm": {
    // The dashboard's model gateway; chat and evaluation streams need it
    "gateway_url": "",
    "auth_token": ""
  }
}
`
	if err := os.WriteFile(configFile, []byte(defaultConfig), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating livewire.jsonc: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("   Created %s\n", configFile)

	fmt.Println("")
	fmt.Println("Creating admin token...")
	authStore, err := auth.NewStore(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing auth store: %v\n", err)
		os.Exit(1)
	}

	_, tokenID, err := authStore.CreateToken("admin", "admin", nil)
	if err != nil {
		_ = authStore.Close()
		fmt.Fprintf(os.Stderr, "Error creating token: %v\n", err)
		os.Exit(1)
	}
	_ = authStore.Close()

	fmt.Println("")
	fmt.Println("Admin token (save this - it cannot be retrieved later):")
	fmt.Printf("   %s\n", tokenID)
	fmt.Println("")
	fmt.Println("Livewire initialized!")
	fmt.Println("")
	fmt.Println("Next steps:")
	fmt.Printf("   1. Edit %s (set llm.gateway_url)\n", configFile)
	fmt.Println("   2. Run 'livewire' to start the server")
}

// cmdToken handles the 'token' subcommand for managing authentication tokens
func cmdToken(args []string) {
	if len(args) < 1 {
		printTokenUsage()
		os.Exit(1)
	}

	livewireDir := resolveLivewireDir("")
	dataDir := filepath.Join(livewireDir, "data")

	store, err := auth.NewStore(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing auth store: %v\n", err)
		os.Exit(1)
	}

	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "create":
		tokenCreate(store, cmdArgs)
	case "list":
		tokenList(store, cmdArgs)
	case "revoke":
		tokenRevoke(store, cmdArgs)
	case "info":
		tokenInfo(store, cmdArgs)
	case "help", "-h", "--help":
		_ = store.Close()
		printTokenUsage()
		return
	default:
		_ = store.Close()
		fmt.Fprintf(os.Stderr, "Unknown token command: %s\n", cmd)
		printTokenUsage()
		os.Exit(1)
	}
	_ = store.Close()
}

func printTokenUsage() {
	fmt.Println(`Token Management

Usage: livewire token <command> [options]

Commands:
  create    Create a new API token
  list      List tokens (--session <id> narrows to one session's tokens)
  revoke    Revoke a token
  info      Get token details
  help      Show this help

Scope Formats:
  admin              Full access to all sessions
  admin:ro           Read-only access to all sessions
  session:<id>       Full access to one interview session
  session:<id>:ro    Read-only access to one interview session

Examples:
  livewire token create --name "Dashboard" --scope admin
  livewire token create --name "Candidate abc" --scope session:abc-123-def
  livewire token list
  livewire token list --session abc-123-def
  livewire token revoke lw_xxxx...
  livewire token info lw_xxxx...`)
}

func tokenCreate(store *auth.Store, args []string) {
	fs := flag.NewFlagSet("token create", flag.ExitOnError)
	name := fs.String("name", "", "Human-readable token name (required)")
	scope := fs.String("scope", "", "Token scope: admin, admin:ro, session:<id>, or session:<id>:ro (required)")
	ttl := fs.Duration("ttl", 0, "Token lifetime (0 = never expires)")
	_ = fs.Parse(args)

	if *name == "" || *scope == "" {
		fmt.Fprintln(os.Stderr, "Error: --name and --scope are required")
		fs.PrintDefaults()
		os.Exit(1)
	}

	if !isValidTokenScope(*scope) {
		fmt.Fprintf(os.Stderr, "Error: invalid scope '%s'\n", *scope)
		fmt.Fprintln(os.Stderr, "Valid scopes: admin, admin:ro, session:<id>, session:<id>:ro")
		os.Exit(1)
	}

	var expiresAt *time.Time
	if *ttl > 0 {
		t := time.Now().Add(*ttl)
		expiresAt = &t
	}

	token, tokenID, err := store.CreateToken(*name, *scope, expiresAt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Token created successfully!")
	fmt.Println()
	fmt.Printf("Token ID: %s\n", tokenID)
	fmt.Printf("Name:     %s\n", token.Name)
	fmt.Printf("Scope:    %s\n", token.Scope)
	if token.ExpiresAt != nil {
		fmt.Printf("Expires:  %s\n", token.ExpiresAt.Format("2006-01-02 15:04"))
	}
	fmt.Println()
	fmt.Println("IMPORTANT: Save this token now. It cannot be retrieved later.")
}

func tokenList(store *auth.Store, args []string) {
	fs := flag.NewFlagSet("token list", flag.ExitOnError)
	session := fs.String("session", "", "Only show tokens scoped to this interview session")
	_ = fs.Parse(args)

	var tokens []*auth.Token
	var err error
	if *session != "" {
		tokens, err = store.ListTokensForSession(*session)
	} else {
		tokens, err = store.ListTokens()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing tokens: %v\n", err)
		os.Exit(1)
	}

	if len(tokens) == 0 {
		if *session != "" {
			fmt.Printf("No tokens found for session %s.\n", *session)
			return
		}
		fmt.Println("No tokens found.")
		fmt.Println()
		fmt.Println("Create one with: livewire token create --name \"My Token\" --scope admin")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSCOPE\tCREATED\tLAST USED")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t-------\t---------")

	for _, t := range tokens {
		lastUsed := "never"
		if t.LastUsedAt != nil {
			lastUsed = t.LastUsedAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			auth.MaskToken(t.ID),
			t.Name,
			t.Scope,
			t.CreatedAt.Format("2006-01-02 15:04"),
			lastUsed,
		)
	}
	_ = w.Flush()
}

func tokenRevoke(store *auth.Store, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: token ID required")
		fmt.Fprintln(os.Stderr, "Usage: livewire token revoke <token_id>")
		os.Exit(1)
	}

	tokenID := args[0]
	if err := store.RevokeToken(tokenID); err != nil {
		fmt.Fprintf(os.Stderr, "Error revoking token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Token %s revoked successfully.\n", auth.MaskToken(tokenID))
}

func tokenInfo(store *auth.Store, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: token ID required")
		fmt.Fprintln(os.Stderr, "Usage: livewire token info <token_id>")
		os.Exit(1)
	}

	token, err := store.GetToken(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Token ID:    %s\n", auth.MaskToken(token.ID))
	fmt.Printf("Name:        %s\n", token.Name)
	fmt.Printf("Scope:       %s\n", token.Scope)
	fmt.Printf("Created:     %s\n", token.CreatedAt.Format("2006-01-02 15:04:05"))
	if token.LastUsedAt != nil {
		fmt.Printf("Last Used:   %s\n", token.LastUsedAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Printf("Last Used:   never\n")
	}
	if token.ExpiresAt != nil {
		fmt.Printf("Expires:     %s\n", token.ExpiresAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Printf("Expires:     never\n")
	}
}

func isValidTokenScope(scope string) bool {
	if scope == auth.ScopeAdmin || scope == auth.ScopeAdminRO {
		return true
	}
	// Session scopes: session:<id> or session:<id>:ro
	if strings.HasPrefix(scope, "session:") {
		rest := scope[8:]
		if rest == "" {
			return false
		}
		if strings.HasSuffix(rest, ":ro") {
			return len(rest) > 3
		}
		return true
	}
	return false
}

// resolveLivewireDir determines the livewire home directory with precedence:
// 1. Explicit flag (if provided)
// 2. LIVEWIRE_HOME env var
// 3. ./.livewire (current directory, if initialized)
// 4. ~/.livewire (default)
func resolveLivewireDir(flagDir string) string {
	if flagDir != "" {
		absDir, err := filepath.Abs(flagDir)
		if err != nil {
			log.Fatalf("Invalid directory: %v", err)
		}
		return absDir
	}

	if envDir := os.Getenv("LIVEWIRE_HOME"); envDir != "" {
		absDir, err := filepath.Abs(envDir)
		if err != nil {
			log.Fatalf("Invalid LIVEWIRE_HOME: %v", err)
		}
		return absDir
	}

	cwd, err := os.Getwd()
	if err == nil {
		directConfig := filepath.Join(cwd, "config", "livewire.jsonc")
		if _, err := os.Stat(directConfig); err == nil {
			return cwd
		}
		localDir := filepath.Join(cwd, ".livewire")
		configFile := filepath.Join(localDir, "config", "livewire.jsonc")
		if _, err := os.Stat(configFile); err == nil {
			return localDir
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("Failed to get home directory: %v", err)
	}
	return filepath.Join(homeDir, ".livewire")
}
