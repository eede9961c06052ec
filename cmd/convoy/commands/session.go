package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/convoy-ai/convoy/internal/config"
	"github.com/convoy-ai/convoy/internal/ordering"
	"github.com/convoy-ai/convoy/internal/storage"
)

var sessionDir string

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and repair stored sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore()
		if err != nil {
			return err
		}

		ids, err := store.List(context.Background(), []string{"session"})
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var sessionValidateCmd = &cobra.Command{
	Use:   "validate <sessionID>",
	Short: "Check a session's message ordering for holes and conflicts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		alloc, _, err := openStore()
		if err != nil {
			return err
		}

		report, err := alloc.Validate(context.Background(), args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		if !report.OK() {
			return fmt.Errorf("session %s has ordering defects", args[0])
		}
		return nil
	},
}

var sessionReorderCmd = &cobra.Command{
	Use:   "reorder <sessionID>",
	Short: "Reassign a session's message indices to a dense 1..N sequence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		alloc, _, err := openStore()
		if err != nil {
			return err
		}

		if err := alloc.Reorder(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("session %s reordered\n", args[0])
		return nil
	},
}

func init() {
	sessionCmd.PersistentFlags().StringVar(&sessionDir, "directory", "", "Working directory")
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionValidateCmd)
	sessionCmd.AddCommand(sessionReorderCmd)
}

func openStore() (*ordering.Allocator, *storage.Storage, error) {
	workDir, err := GetWorkDir(sessionDir)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return nil, nil, err
	}

	store := storage.New(cfg.DataDir)
	return ordering.NewAllocator(store), store, nil
}
