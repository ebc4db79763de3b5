package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/loliloopp/aizoomdoc-sub000/config"
	"github.com/loliloopp/aizoomdoc-sub000/internal/agent/core"
	"github.com/loliloopp/aizoomdoc-sub000/internal/budget"
	"github.com/loliloopp/aizoomdoc-sub000/internal/fetcher"
	"github.com/loliloopp/aizoomdoc-sub000/internal/imagecache"
	"github.com/loliloopp/aizoomdoc-sub000/internal/telemetry"
	"github.com/loliloopp/aizoomdoc-sub000/provider"
)

// askCMD runs one question against one or more documents from the command
// line, without the HTTP server. Progress goes to stderr, the answer to
// stdout.
func askCMD() *cobra.Command {
	var cfgPath string
	var docPaths []string
	var modeFlag string
	var verbose bool

	var ask = &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question about the given documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if len(docPaths) == 0 {
				return fmt.Errorf("at least one --doc is required")
			}

			question := strings.Join(args, " ")
			docs := make([]core.Document, 0, len(docPaths))
			for _, p := range docPaths {
				b, err := os.ReadFile(p)
				if err != nil {
					return fmt.Errorf("reading document %s: %w", p, err)
				}
				docs = append(docs, core.Document{Name: filepath.Base(p), Text: string(b)})
			}

			logOut := os.Stderr
			logger := log.New(logOut, "[ASK] ", log.LstdFlags)

			prov, err := provider.NewProvider(cfg.LLM)
			if err != nil {
				return err
			}
			httpFetcher := fetcher.NewHTTPFetcher(30*time.Second, 2*time.Minute)
			cache, err := imagecache.New(cfg.Cache.Dir, httpFetcher, logger)
			if err != nil {
				return err
			}
			orch := core.NewOrchestrator(cfg, logger, telemetry.New(nil), prov, cache, nil, nil, nil)

			rc := core.NewRunContext(uuid.NewString())
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				rc.Cancel()
			}()

			sink := func(ev core.Event) {
				switch ev.Kind {
				case core.EventImageProduced:
					fmt.Fprintf(logOut, "image %s (%s): %s -> %s\n", ev.ImageID, ev.ImageKind, ev.Description, ev.ImagePath)
				case core.EventLog:
					if verbose {
						fmt.Fprintln(logOut, ev.Text)
					}
				case core.EventAssistantMessage:
					if verbose && ev.Text != "" {
						fmt.Fprintf(logOut, "model: %s\n", ev.Text)
					}
				}
			}

			answer, err := orch.Run(ctx, rc, core.RunParams{
				RunID:     rc.RunID,
				Question:  question,
				ModelID:   cfg.LLM.Model,
				Documents: docs,
				Mode:      budget.Mode(modeFlag),
			}, sink)
			if err != nil {
				return err
			}
			fmt.Println(answer)
			return nil
		},
	}
	ask.Flags().StringSliceVar(&docPaths, "doc", nil, "document file (repeatable)")
	ask.Flags().StringVar(&modeFlag, "mode", "", "context mode: full_document or retrieval (default full_document)")
	ask.Flags().BoolVarP(&verbose, "verbose", "v", false, "print run progress")
	ask.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return ask
}
