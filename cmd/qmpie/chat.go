package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"qmpie/internal/client"
	"qmpie/internal/config"
	"qmpie/internal/repl"
	"qmpie/internal/storage"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newChatCmd(a *app) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive questionnaire authoring session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			url := strings.TrimSpace(serverURL)
			if url == "" {
				url = a.cfg.Client.ServerURL
			}
			api := client.New(url, client.WithTimeout(time.Duration(a.cfg.Client.TimeoutMS)*time.Millisecond))

			store, err := openStore(a.cfg)
			if err != nil {
				// the archive is optional; the conversation still works
				a.logger.Warn("deliverable archive unavailable", zap.Error(err))
				fmt.Fprintf(cmd.ErrOrStderr(), "archive disabled: %v\n", err)
			} else {
				defer store.Close()
			}

			input, inputErr := repl.NewLineInput(historyPath(a.cfg))
			if inputErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "line editor unavailable, fallback to basic input: %v\n", inputErr)
			}
			defer input.Close()

			opts := repl.Options{
				Backend: api,
				Input:   input,
				Out:     cmd.OutOrStdout(),
				Logger:  a.logger,
				Width:   terminalWidth(),
			}
			if store != nil {
				opts.Store = store
			}
			return repl.NewLoop(opts).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "API base URL (default from config or QMPIE_SERVER_URL)")
	return cmd
}

func openStore(cfg config.Config) (*storage.SQLiteStore, error) {
	path, err := config.ExpandPath(cfg.Client.DBPath)
	if err != nil {
		return nil, err
	}
	return storage.NewSQLiteStore(path)
}

func historyPath(cfg config.Config) string {
	path, err := config.ExpandPath(cfg.Client.DBPath)
	if err != nil || path == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(path), "chat.history")
}

func terminalWidth() int {
	w := readline.GetScreenWidth()
	if w <= 0 {
		return 80
	}
	if w > 100 {
		return 100
	}
	return w
}
