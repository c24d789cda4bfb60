package admin

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/kbcore/internal/domain"
	"github.com/cloo-solutions/kbcore/internal/service"
)

// IngestCmd returns the ingest command
func IngestCmd(newApp AppFactory) *cobra.Command {
	var (
		title      string
		sourceType string
		file       string
		parentID   int64
		metadata   map[string]string
	)

	cmd := &cobra.Command{
		Use:   "ingest [text]",
		Short: "Ingest a document",
		Long: `Store a document as a knowledge entry and ingest its chunks.

The text is taken from the argument, from --file, or from stdin when the file is "-".
With --parent the chunks of an existing entry are replaced instead; without text the
entry's stored content is chunked again.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args, file)
			if err != nil {
				return err
			}
			outputFormat, _ := cmd.Flags().GetString("output")

			ctx := context.Background()
			app, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if parentID > 0 {
				result, err := app.Ingestion.Reingest(ctx, parentID, text)
				if err != nil {
					return fmt.Errorf("failed to re-ingest entry %d: %w", parentID, err)
				}
				return printIngest(cmd.OutOrStdout(), outputFormat, parentID, result)
			}

			if text == "" {
				return fmt.Errorf("text is required: pass it as an argument or with --file")
			}
			meta := make(domain.Metadata, len(metadata))
			for k, v := range metadata {
				meta[k] = v
			}

			result, err := app.Ingestion.IngestDocument(ctx, service.DocumentInput{
				Title:      title,
				SourceType: sourceType,
				Content:    text,
				Metadata:   meta,
			})
			if err != nil {
				return fmt.Errorf("failed to ingest document: %w", err)
			}
			return printIngest(cmd.OutOrStdout(), outputFormat, result.EntryID, result.Ingest)
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Entry title")
	cmd.Flags().StringVar(&sourceType, "type", string(domain.SourceTypeText), "Source type (qna, file, text, website)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read text from file, - for stdin")
	cmd.Flags().Int64Var(&parentID, "parent", 0, "Replace the chunks of an existing entry")
	cmd.Flags().StringToStringVarP(&metadata, "meta", "m", nil, "Metadata key=value pairs")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func readText(cmd *cobra.Command, args []string, file string) (string, error) {
	if len(args) == 1 && file != "" {
		return "", fmt.Errorf("pass text either as an argument or with --file, not both")
	}
	if len(args) == 1 {
		return args[0], nil
	}
	if file == "" {
		return "", nil
	}

	var r io.Reader
	if file == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(file)
		if err != nil {
			return "", fmt.Errorf("failed to open %s: %w", file, err)
		}
		defer f.Close()
		r = f
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read text: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func printIngest(w io.Writer, outputFormat string, entryID int64, result *service.IngestResult) error {
	if outputFormat == "json" {
		failures := make([]map[string]interface{}, len(result.Failures))
		for i, f := range result.Failures {
			failures[i] = map[string]interface{}{"index": f.Index, "error": f.Err.Error()}
		}
		data := map[string]interface{}{
			"entry_id": entryID,
			"run_id":   result.RunID,
			"total":    result.Total,
			"stored":   result.Stored,
			"failures": failures,
		}
		return printJSON(w, data)
	}

	fmt.Fprintf(w, "Entry %d: stored %d of %d chunks (run %s)\n", entryID, result.Stored, result.Total, result.RunID)
	for _, f := range result.Failures {
		fmt.Fprintf(w, "  chunk %d failed: %v\n", f.Index, f.Err)
	}
	return nil
}
