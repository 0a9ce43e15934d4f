package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/statetree/errors"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage stored snapshots",
	Long: `db — Manage snapshots stored in the SQLite database

Examples:
  stctl db list                        # List stored snapshots
  stctl db show org.s7s.instance       # Print the entries of one snapshot
  stctl db delete old-tree             # Delete a snapshot`,
}

var dbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots",
	Args:  cobra.NoArgs,
	RunE:  runDbList,
}

var dbShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Print the entries of a stored snapshot (default: the tree namespace)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDbShow,
}

var dbDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runDbDelete,
}

var dbPathFlag string

func init() {
	DbCmd.PersistentFlags().StringVar(&dbPathFlag, "db-path", "", "Custom database path (overrides config)")

	DbCmd.AddCommand(dbListCmd)
	DbCmd.AddCommand(dbShowCmd)
	DbCmd.AddCommand(dbDeleteCmd)
}

func runDbList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, store, err := openStore(cfg, dbPathFlag)
	if err != nil {
		return err
	}
	defer database.Close()

	infos, err := store.List(cmd.Context())
	if err != nil {
		return errors.Wrap(err, "failed to list snapshots")
	}
	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		pterm.Info.WithWriter(out).Println("No snapshots stored")
		return nil
	}

	rows := pterm.TableData{{"Name", "Codec", "Entries", "Size", "Updated", "Digest"}}
	for _, info := range infos {
		rows = append(rows, []string{
			info.Name,
			info.Codec,
			fmt.Sprint(info.Entries),
			fmt.Sprint(info.Size),
			info.UpdatedAt.Format(time.RFC3339),
			info.Digest.String(),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(out).WithData(rows).Render()
}

func runDbShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, store, err := openStore(cfg, dbPathFlag)
	if err != nil {
		return err
	}
	defer database.Close()

	name := cfg.Tree.Namespace
	if len(args) == 1 {
		name = args[0]
	}
	u, err := store.Load(cmd.Context(), name)
	if err != nil {
		return errors.Wrapf(err, "failed to load snapshot %s", name)
	}
	return printUpdate(cmd, u)
}

func runDbDelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, store, err := openStore(cfg, dbPathFlag)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		return errors.Wrapf(err, "failed to delete snapshot %s", args[0])
	}
	pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("Deleted snapshot %s", args[0])
	return nil
}
