/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mautops/moderation-gin/internal/api"
	"github.com/mautops/moderation-gin/internal/database"
	"github.com/mautops/moderation-gin/internal/service"
	"github.com/spf13/cobra"
)

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print read-only moderation reports",
}

var agingReportCmd = &cobra.Command{
	Use:   "aging",
	Short: "List published pages ordered by how long ago they were last published",
	Long: `List every page that has been published at least once, oldest first.
Output formats are table (default), json and csv.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "table", "json", "csv":
		default:
			return fmt.Errorf("unsupported format: %s", format)
		}

		filter := &service.AgingPagesFilter{}
		if before, _ := cmd.Flags().GetString("before"); before != "" {
			t, err := time.Parse("2006-01-02", before)
			if err != nil {
				return fmt.Errorf("invalid --before date: %w", err)
			}
			filter.PublishedBefore = &t
		}
		if contentType, _ := cmd.Flags().GetString("content-type"); contentType != "" {
			filter.ContentType = &contentType
		}
		if cmd.Flags().Changed("live") {
			live, _ := cmd.Flags().GetBool("live")
			filter.Live = &live
		}

		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			if sqlDB, _ := db.DB(); sqlDB != nil {
				sqlDB.Close()
			}
		}()

		rows, err := service.NewReportService(db, nil).AgingPages(filter)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch format {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		case "csv":
			w := csv.NewWriter(out)
			_ = w.Write(api.AgingPagesHeader)
			for _, row := range rows {
				_ = w.Write(api.AgingPageRecord(row))
			}
			w.Flush()
			return w.Error()
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, strings.ToUpper(strings.Join(api.AgingPagesHeader, "\t")))
		for _, row := range rows {
			record := api.AgingPageRecord(row)
			// 表格里用相对时间更直观
			record[2] = row.LastPublishedAgo
			fmt.Fprintln(w, strings.Join(record, "\t"))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(agingReportCmd)

	agingReportCmd.Flags().String("before", "", "Only pages last published before this date (2006-01-02)")
	agingReportCmd.Flags().String("content-type", "", "Only pages of this content type")
	agingReportCmd.Flags().Bool("live", false, "Only live (true) or unpublished (false) pages")
	agingReportCmd.Flags().String("format", "table", "Output format: table, json, csv")
}
