package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"qmpie/internal/deliverable"
	"qmpie/internal/i18n"
	"qmpie/internal/storage"
	"qmpie/internal/tui"

	"github.com/spf13/cobra"
)

func newDeliverablesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deliverables",
		Aliases: []string{"archive"},
		Short:   "Browse archived final questionnaires",
	}
	cmd.AddCommand(
		newDeliverablesListCmd(a),
		newDeliverablesShowCmd(a),
		newDeliverablesExportCmd(a),
		newDeliverablesDeleteCmd(a),
	)
	return cmd
}

func newDeliverablesListCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived deliverables, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(a.cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			items, err := store.ListDeliverables(limit)
			if err != nil {
				return err
			}
			return writeDeliverableList(cmd.OutOrStdout(), items)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows (0 for all)")
	return cmd
}

func writeDeliverableList(out io.Writer, items []storage.Deliverable) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(out, i18n.T("archive.empty"))
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, i18n.T("archive.header"))
	for _, d := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			d.ID, d.CreatedAt, d.Phase, shortID(d.SessionID), utf8.RuneCountInString(d.Markdown), d.Title)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newDeliverablesShowCmd(a *app) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print an archived deliverable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadDeliverable(a, args[0])
			if err != nil {
				return err
			}
			if raw {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), d.Markdown)
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tui.RenderMarkdown(d.Markdown, terminalWidth()))
			return err
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print markdown without terminal rendering")
	return cmd
}

func newDeliverablesExportCmd(a *app) *cobra.Command {
	var (
		asHTML bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export an archived deliverable as markdown or standalone HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadDeliverable(a, args[0])
			if err != nil {
				return err
			}
			body := d.Markdown + "\n"
			if asHTML {
				title := d.Title
				if title == "" {
					title = deliverable.Title(d.Markdown)
				}
				body, err = deliverable.Document(title, d.Markdown)
				if err != nil {
					return err
				}
			}
			if strings.TrimSpace(output) == "" || output == "-" {
				_, err = io.WriteString(cmd.OutOrStdout(), body)
				return err
			}
			if err := os.WriteFile(output, []byte(body), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), i18n.T("repl.saved", output))
			return err
		},
	}
	cmd.Flags().BoolVar(&asHTML, "html", false, "export sanitised HTML instead of markdown")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newDeliverablesDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an archived deliverable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			store, err := openStore(a.cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.DeleteDeliverable(id)
		},
	}
}

func loadDeliverable(a *app, arg string) (storage.Deliverable, error) {
	id, err := parseID(arg)
	if err != nil {
		return storage.Deliverable{}, err
	}
	store, err := openStore(a.cfg)
	if err != nil {
		return storage.Deliverable{}, err
	}
	defer store.Close()
	return store.GetDeliverable(id)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid deliverable id %q", arg)
	}
	return id, nil
}
