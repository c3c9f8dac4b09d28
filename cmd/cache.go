package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/supacrawl/supacrawl/internal/app"
)

// newCacheCmd creates the 'cache' subcommand group for inspecting and
// maintaining the content cache.
func newCacheCmd(appFrom func() *app.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the content cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache size and entry counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := appFrom().Cache.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("directory: %s\n", s.Dir)
			fmt.Printf("entries:   %d (%d valid, %d expired)\n", s.Entries, s.Valid, s.Expired)
			fmt.Printf("size:      %s\n", s.SizeHuman)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear [url]",
		Short: "Remove one cached URL, or everything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := ""
			if len(args) == 1 {
				url = args[0]
			}
			removed, err := appFrom().Cache.Clear(url)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d entries\n", removed)
			return nil
		},
	}

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove expired cache entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			removed, err := appFrom().Cache.Prune()
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d expired entries\n", removed)
			return nil
		},
	}

	cmd.AddCommand(statsCmd, clearCmd, pruneCmd)
	return cmd
}
