package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/epibuilder/portal/internal/model"
)

var dbsCmd = &cobra.Command{
	Use:   "dbs",
	Short: "Manage reference proteome databases",
}

var dbsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered databases",
	RunE:  runDbsList,
}

var dbsAddCmd = &cobra.Command{
	Use:   "add <alias> <proteome.fasta>",
	Short: "Register a database (admin only)",
	Args:  cobra.ExactArgs(2),
	RunE:  runDbsAdd,
}

var dbsRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a database (admin only)",
	Args:  cobra.ExactArgs(1),
	RunE:  runDbsRemove,
}

func init() {
	dbsCmd.AddCommand(dbsListCmd, dbsAddCmd, dbsRemoveCmd)
}

func runDbsList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.enter("", "/dbs"); err != nil {
		return err
	}

	dbs, err := a.api.Databases(cmd.Context())
	if err != nil {
		return a.apiError(cmd.Context(), err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tALIAS\tFILE")
	for _, db := range dbs {
		fmt.Fprintf(w, "%d\t%s\t%s\n", db.ID, db.Alias, db.FileName)
	}
	return w.Flush()
}

func runDbsAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.enter(model.RoleAdmin, "/dbs"); err != nil {
		return err
	}

	if err := a.api.AddDatabase(cmd.Context(), args[0], args[1]); err != nil {
		return a.apiError(cmd.Context(), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered database %q\n", args[0])
	return nil
}

func runDbsRemove(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.enter(model.RoleAdmin, "/dbs"); err != nil {
		return err
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad database id %q", args[0])
	}
	if err := a.api.DeleteDatabase(cmd.Context(), id); err != nil {
		return a.apiError(cmd.Context(), err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Database deleted")
	return nil
}
