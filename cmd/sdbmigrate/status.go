/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/acronis/go-sdbmigrate/migrate"
)

func runStatus(cmd *cobra.Command, opts options, out io.Writer) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.close()

	manager, err := migrate.NewManager(a.cfg, a.sessions, a.logger)
	if err != nil {
		return err
	}
	statuses, err := manager.Status(cmdContext(cmd), a.migrations)
	if err != nil {
		return err
	}
	printStatus(out, statuses)
	return nil
}

func printStatus(out io.Writer, statuses []migrate.DatabaseStatus) {
	for _, st := range statuses {
		if !st.Initialized {
			_, _ = fmt.Fprintf(out, "%s: not initialized, %d pending\n", st.Database, len(st.Pending))
		} else {
			_, _ = fmt.Fprintf(out, "%s: version %d, %d applied, %d pending\n",
				st.Database, st.SchemaVersion, len(st.Applied), len(st.Pending))
		}
		for _, applied := range st.Applied {
			_, _ = fmt.Fprintf(out, "  [x] %s\n", applied.Name)
		}
		for _, name := range st.Pending {
			_, _ = fmt.Fprintf(out, "  [ ] %s\n", name)
		}
	}
}
