package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"helixar/internal/export"
	"helixar/internal/session"
)

var (
	exportFormat string
	outputDir    string
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	idStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	groupStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage stored chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		kv, store, err := openStore(cmd.Context(), cfg, session.Options{})
		if err != nil {
			return err
		}
		defer kv.Close()
		return printSessions(cmd.OutOrStdout(), store.Snapshot())
	},
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export one session as json, yaml or markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exporter, err := export.NewExporter(exportFormat)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		kv, store, err := openStore(cmd.Context(), cfg, session.Options{})
		if err != nil {
			return err
		}
		defer kv.Close()

		se, ok := store.Session(args[0])
		if !ok {
			return fmt.Errorf("session %s not found", args[0])
		}
		if outputDir == "" {
			return exporter.Export(se, cmd.OutOrStdout())
		}
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		path := filepath.Join(outputDir, se.ID+"."+exporter.Extension())
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		defer f.Close()
		if err := exporter.Export(se, f); err != nil {
			return fmt.Errorf("export %s: %w", se.ID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %s\n", path)
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a stored session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		kv, store, err := openStore(cmd.Context(), cfg, session.Options{})
		if err != nil {
			return err
		}
		defer kv.Close()

		if _, ok := store.Session(args[0]); !ok {
			return fmt.Errorf("session %s not found", args[0])
		}
		if err := store.DeleteSession(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

func init() {
	sessionsExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "Export format: json, yaml or markdown")
	sessionsExportCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Write to <output>/<id>.<ext> instead of stdout")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsExportCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func printSessions(out io.Writer, snap session.Snapshot) error {
	if len(snap.Sessions) == 0 {
		fmt.Fprintln(out, "no sessions stored")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, headerStyle.Render("ID")+"\t"+headerStyle.Render("TITLE")+"\t"+headerStyle.Render("MESSAGES")+"\t"+headerStyle.Render("UPDATED"))
	for _, se := range snap.Sessions {
		title := titleStyle.Render(se.Title)
		if se.IsGroup {
			title += " " + groupStyle.Render("[group]")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			idStyle.Render(se.ID),
			title,
			len(se.Messages),
			se.Updated().Format(time.DateTime),
		)
	}
	return w.Flush()
}
