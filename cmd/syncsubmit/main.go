// Command syncsubmit sends a content file to the sync ingestion endpoint.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/example/lexisync/internal/config"
	"github.com/example/lexisync/internal/excel"
	"github.com/example/lexisync/internal/ingest"
	"github.com/example/lexisync/internal/logger"
	"github.com/example/lexisync/pkg/models"
)

type options struct {
	file      string
	wait      bool
	requestID string
	source    string
	url       string
	lang      string
	sheet     string
}

var opts options

var rootCmd = &cobra.Command{
	Use:   "syncsubmit",
	Short: "Submit a content file for ingestion",
	Long: `Submit a content file to the sync ingestion endpoint.

Supported files:
  .json        a full payload object, or a bare array of entries
  .xlsx .csv   a word sheet (id, lemma, level, rank, register, transcription,
               forms, collections); --lang is required

The request is signed with SYNC_SHARED_SECRET. With --wait the command polls
until the job finishes and fails when the job failed.`,
	SilenceUsage: true,
	RunE:         runSubmit,
}

func init() {
	rootCmd.Flags().StringVarP(&opts.file, "file", "f", "", "content file to submit (required)")
	rootCmd.Flags().BoolVarP(&opts.wait, "wait", "w", false, "wait for the job to finish")
	rootCmd.Flags().StringVar(&opts.requestID, "request-id", "", "idempotency key (default: random uuid)")
	rootCmd.Flags().StringVar(&opts.source, "source", "", "source label (default: file name)")
	rootCmd.Flags().StringVar(&opts.url, "url", "", "server base url (default: SYNC_URL)")
	rootCmd.Flags().StringVar(&opts.lang, "lang", "", "language of the entries")
	rootCmd.Flags().StringVar(&opts.sheet, "sheet", "", "sheet name for .xlsx files (default: first sheet)")
	_ = rootCmd.MarkFlagRequired("file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return err
	}
	defer log.Sync()

	payload, err := buildPayload(opts)
	if err != nil {
		return err
	}

	baseURL := opts.url
	if baseURL == "" {
		baseURL = cfg.SyncURL
	}
	client := ingest.NewClient(ingest.ClientConfig{
		BaseURL:      baseURL,
		Secret:       cfg.SyncSharedSecret,
		MaxAttempts:  cfg.SyncClientMaxAttempts,
		PollInterval: cfg.SyncPollInterval,
		MaxPolls:     cfg.SyncMaxPolls,
	}, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp, err := client.Submit(ctx, payload)
	if err != nil {
		return fmt.Errorf("submit %s: %w", payload.RequestID, err)
	}
	if opts.wait && !(models.SyncJob{Status: resp.Status}).Terminal() {
		if resp, err = client.Wait(ctx, payload.RequestID); err != nil {
			return fmt.Errorf("wait %s: %w", payload.RequestID, err)
		}
	}
	if err := printJSON(cmd, resp); err != nil {
		return err
	}
	if resp.Status == models.JobFailed {
		msg := "unknown error"
		if resp.Job.ErrorMessage != nil {
			msg = *resp.Job.ErrorMessage
		}
		return fmt.Errorf("job %s failed: %s", payload.RequestID, msg)
	}
	return nil
}

// buildPayload reads the file into a payload, filling request id, source and
// language from the flags
func buildPayload(o options) (*ingest.Payload, error) {
	defaults := ingest.Payload{
		RequestID:      o.requestID,
		Source:         o.source,
		PayloadVersion: ingest.PayloadVersion,
		Lang:           o.lang,
	}

	var p *ingest.Payload
	switch ext := strings.ToLower(filepath.Ext(o.file)); ext {
	case ".json":
		data, err := os.ReadFile(o.file)
		if err != nil {
			return nil, err
		}
		if p, err = ingest.DecodePayloadFile(data, defaults); err != nil {
			return nil, err
		}
	case ".xlsx", ".xlsm", ".csv":
		sheetCfg := excel.DefaultImportConfig()
		sheetCfg.FilePath = o.file
		sheetCfg.Lang = o.lang
		sheetCfg.SheetName = o.sheet
		res, err := excel.LoadEntriesFromFile(sheetCfg)
		if err != nil {
			return nil, err
		}
		for _, e := range res.Errors {
			fmt.Fprintln(os.Stderr, "warning:", e)
		}
		p = &defaults
		p.Entries = res.Entries
	default:
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}

	if p.RequestID == "" {
		p.RequestID = uuid.NewString()
	}
	if p.Source == "" {
		p.Source = strings.TrimSuffix(filepath.Base(o.file), filepath.Ext(o.file))
	}
	return p, p.Validate()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
