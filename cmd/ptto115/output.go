package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/pdxmph/ptto115/pkg/history"
)

// newTable returns a borderless, left-aligned table
func newTable(w io.Writer, headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func configShow(w io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	table := newTable(w, []string{"Key", "Value"})
	for _, entry := range cfg.Entries() {
		table.Append([]string{entry[0], entry[1]})
	}
	table.Render()

	for _, warning := range cfg.Warnings {
		fmt.Fprintf(w, "\nwarning: %s\n", warning)
	}
	return nil
}

func historyShow(ctx context.Context, w io.Writer, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.History.Path == "" {
		fmt.Fprintf(w, "Upload history is disabled. Set history.path (or PTTO115_HISTORY_PATH), e.g. %s\n", history.DefaultPath())
		return nil
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	uploads, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(uploads) == 0 {
		fmt.Fprintln(w, "No uploads recorded yet.")
		return nil
	}

	renderUploads(w, uploads)
	return nil
}

func renderUploads(w io.Writer, uploads []*history.Upload) {
	table := newTable(w, []string{"Uploaded", "File", "Size", "SHA1", "Backend", "Target"})
	for _, u := range uploads {
		table.Append([]string{
			humanize.Time(u.UploadedAt),
			u.Filename,
			humanize.Bytes(uint64(u.Size)),
			u.SHA1,
			u.Backend,
			strconv.FormatInt(u.TargetPID, 10),
		})
	}
	table.Render()
}
