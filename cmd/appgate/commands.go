package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loykin/appgate"
	"github.com/spf13/cobra"
)

func createRunCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the backend and supervise it until it exits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appgate.LoadConfig(global.ConfigPath)
			if err != nil {
				return err
			}
			app, err := appgate.New(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx)
		},
	}
}

func createStatusCommand(global *GlobalFlags, query *QueryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running launcher's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := apiURL(global, query)
			if err != nil {
				return err
			}
			return printAPI(url + "/status")
		},
	}
	cmd.Flags().StringVar(&query.APIUrl, "api-url", "", "status server base URL (default from config)")
	return cmd
}

func createHistoryCommand(global *GlobalFlags, query *QueryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent launch history",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := apiURL(global, query)
			if err != nil {
				return err
			}
			return printAPI(fmt.Sprintf("%s/history?limit=%d", url, query.Limit))
		},
	}
	cmd.Flags().StringVar(&query.APIUrl, "api-url", "", "status server base URL (default from config)")
	cmd.Flags().IntVar(&query.Limit, "limit", 20, "maximum records to show")
	return cmd
}

// apiURL derives the status server base URL from the flag or config.
func apiURL(global *GlobalFlags, query *QueryFlags) (string, error) {
	if query.APIUrl != "" {
		return strings.TrimRight(query.APIUrl, "/"), nil
	}
	cfg, err := appgate.LoadConfig(global.ConfigPath)
	if err != nil {
		return "", err
	}
	if !cfg.Server.Enabled {
		return "", fmt.Errorf("status server disabled in config; pass --api-url")
	}
	base := strings.TrimRight(cfg.Server.BasePath, "/")
	return "http://" + cfg.Server.Listen + base, nil
}

// printAPI fetches url and pretty-prints the JSON response.
func printAPI(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("launcher not reachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("launcher returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var pretty any
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(strings.TrimSpace(string(body)))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
