package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/applyd/internal/api"
	"github.com/kalambet/applyd/internal/config"
	"github.com/kalambet/applyd/internal/ingest"
	"github.com/kalambet/applyd/internal/proxy"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the applyd API server and index worker (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running applyd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applyd system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "applyd.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "applyd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	apiToken, err := config.GetAPIToken()
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("applyd is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("applyd is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := api.NewAppHandler(api.AppDeps{
		Store:          a.store,
		Profiles:       a.profiles,
		Onboarder:      a.onboarder,
		Factory:        a.factory,
		Sessions:       api.NewSessionRegistry(),
		DefaultRAGType: cfg.Retrieval.RAGType,
		Token:          apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	worker := ingest.NewWorker(a.store, a.profiles, a.builder, 500*time.Millisecond)
	go worker.Run(ctx)

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Factory:        a.factory,
			Profiles:       a.profiles,
			DefaultRAGType: cfg.Retrieval.RAGType,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "applyd listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("applyd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop applyd (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to applyd (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		running = resp.StatusCode == http.StatusOK
		if running {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Generation", "%s", cfg.Generation.Backend)
	if cfg.Generation.Backend != config.BackendGenAI {
		ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
		if err != nil {
			printStatus("Ollama", "not running")
		} else {
			ollamaResp.Body.Close()
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		}
	}
	if cfg.Generation.Backend == config.BackendOpenRouter && cfg.Proxy.OpenRouterAPIKey != "" {
		checkOpenRouterModel(cfg)
	}
	plan := planModels(cfg)
	printStatus("Reply model", "%s", plan.generate)
	printStatus("Classifier model", "%s", plan.classify)
	printStatus("Embed model", "%s", plan.embed)
	printStatus("Strategy", "rag_type %d (top %d, threshold %.2f)", cfg.Retrieval.RAGType, cfg.Retrieval.TopK, cfg.Retrieval.Threshold)
	printStatus("Index backend", "%s", cfg.Index.Backend)

	if running {
		if apiToken, err := config.GetAPIToken(); err == nil {
			personsResp, err := apiGet(client, serverURL+"/persons", apiToken)
			if err == nil {
				var persons []json.RawMessage
				if json.NewDecoder(personsResp.Body).Decode(&persons) == nil {
					printStatus("Persons", "%d", len(persons))
				}
				personsResp.Body.Close()
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func checkOpenRouterModel(cfg config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	models, err := proxy.NewClient(cfg.Proxy.OpenRouterAPIKey, cfg.Proxy.DefaultModel).ListModels(ctx)
	if err != nil {
		printStatus("OpenRouter", "unreachable (%v)", err)
		return
	}
	for _, m := range models {
		if m.ID == cfg.Proxy.DefaultModel {
			printStatus("OpenRouter", "%s available", m.ID)
			return
		}
	}
	printStatus("OpenRouter", "%s not listed (%d models)", cfg.Proxy.DefaultModel, len(models))
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
