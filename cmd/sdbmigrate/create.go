/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/acronis/go-sdbmigrate/migrate"
)

// newCreateCommand scaffolds a migration file with the next free version.
func newCreateCommand(v *viper.Viper, out io.Writer) *cobra.Command {
	var noTrx, perShard, script bool
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new migration file with the next version",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := v.GetString(keyMigrationsDir)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create migrations dir: %w", err)
			}
			existing, err := migrate.LoadDirMigrations(dir)
			if err != nil {
				return err
			}

			txMode, scope, lang := migrate.TxModeTrx, migrate.ScopePlain, migrate.LangSQL
			if noTrx {
				txMode = migrate.TxModeNoTrx
			}
			if perShard {
				scope = migrate.ScopeShard
			}
			body := fmt.Sprintf("-- %s\n", args[0])
			if script {
				lang = migrate.LangExpr
				body = fmt.Sprintf("# %s\n", args[0])
			}

			m, err := migrate.NewMigration(migrate.NextVersion(existing), txMode, scope, args[0], lang, body)
			if err != nil {
				return err
			}
			path, err := m.WriteTo(dir)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noTrx, "notrx", false, "run the migration outside of a transaction")
	cmd.Flags().BoolVar(&perShard, "shard", false, "run the migration once per shard")
	cmd.Flags().BoolVar(&script, "expr", false, "create an expression script instead of SQL")
	return cmd
}
