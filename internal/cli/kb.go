package codeforge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mwiater/codeforge/internal/rag"
	"github.com/spf13/cobra"
)

func newKBCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage the knowledge base",
	}
	cmd.AddCommand(newKBIndexCmd(a), newKBSearchCmd(a), newKBAddCmd(a), newKBImportCmd(a))
	return cmd
}

func newKBIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Re-embed the knowledge directory and refresh the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.config()
			status := newStatus(cmd.OutOrStdout())
			kb, err := openKnowledge(cmd.Context(), cfg, status)
			if err != nil {
				return err
			}
			defer kb.Close()
			_, err = kb.index(cmd.Context(), cfg, status)
			return err
		},
	}
}

func newKBSearchCmd(a *app) *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Show what the knowledge base returns for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.config()
			out := cmd.OutOrStdout()
			status := newStatus(out)
			kb, err := openKnowledge(cmd.Context(), cfg, status)
			if err != nil {
				return err
			}
			defer kb.Close()
			if err := kb.ensureIndexed(cmd.Context(), cfg, status); err != nil {
				return err
			}
			if topK > 0 {
				cfg.Knowledge.TopK = topK
			}
			r := kb.retriever(cfg)
			if err := rag.Preview(cmd.Context(), out, r, strings.Join(args, " ")); err != nil {
				return err
			}
			st := r.Stats()
			fmt.Fprintln(out, mutedText(fmt.Sprintf("queries=%d avg=%s min=%s max=%s", st.TotalQueries, st.Average, st.Min, st.Max)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of matches to return (default from config)")
	return cmd
}

func newKBAddCmd(a *app) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "add <filename> [content...]",
		Short: "Save a .rs or .txt snippet into the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args[1:], " ")
			if from != "" {
				raw, err := os.ReadFile(from)
				if err != nil {
					return err
				}
				content = string(raw)
			}
			if strings.TrimSpace(content) == "" {
				return errors.New("provide content as arguments or with --from")
			}

			cfg := a.config()
			status := newStatus(cmd.OutOrStdout())
			kb, err := openKnowledge(cmd.Context(), cfg, status)
			if err != nil {
				return err
			}
			defer kb.Close()
			if err := kb.ensureIndexed(cmd.Context(), cfg, status); err != nil {
				return err
			}
			if _, err := rag.SaveKnowledge(cmd.Context(), kb.store, cfg.Knowledge.Path, content, args[0]); err != nil {
				return err
			}
			if err := kb.store.Persist(cmd.Context(), kb.cache); err != nil {
				return err
			}
			status("[KB] saved %s (%d entries)", filepath.Join(cfg.Knowledge.Path, args[0]), kb.store.Len())
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "read content from this file")
	return cmd
}

func newKBImportCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "import <batch.json>",
		Short: "Validate a JSON batch of {content, metadata} entries and add it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			docs, err := rag.ParseBatch(raw)
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(args[0])
			}

			cfg := a.config()
			status := newStatus(cmd.OutOrStdout())
			kb, err := openKnowledge(cmd.Context(), cfg, status)
			if err != nil {
				return err
			}
			defer kb.Close()
			if err := kb.ensureIndexed(cmd.Context(), cfg, status); err != nil {
				return err
			}
			ids, err := rag.SaveKnowledgeBatch(cmd.Context(), kb.store, cfg.Knowledge.Path, docs, name)
			if err != nil {
				return err
			}
			if err := kb.store.Persist(cmd.Context(), kb.cache); err != nil {
				return err
			}
			status("[KB] imported %d entries as %s", len(ids), name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "file name inside the knowledge directory (default: source file name)")
	return cmd
}
