package main

import (
	"fmt"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/epibuilder/portal/internal/model"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage accounts (admin only)",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE:  runUsersList,
}

var usersAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersAdd,
}

var usersUpdateCmd = &cobra.Command{
	Use:   "update <id> <username>",
	Short: "Update an account",
	Args:  cobra.ExactArgs(2),
	RunE:  runUsersUpdate,
}

var usersRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersRemove,
}

var (
	userName     string
	userRole     string
	userPassword bool
)

func init() {
	usersCmd.AddCommand(usersListCmd, usersAddCmd, usersUpdateCmd, usersRemoveCmd)

	usersAddCmd.Flags().StringVar(&userName, "name", "", "display name (required)")
	usersAddCmd.Flags().StringVar(&userRole, "role", "USER", "USER or ADMIN")
	usersAddCmd.MarkFlagRequired("name")

	usersUpdateCmd.Flags().StringVar(&userName, "name", "", "display name (required)")
	usersUpdateCmd.Flags().StringVar(&userRole, "role", "USER", "USER or ADMIN")
	usersUpdateCmd.Flags().BoolVar(&userPassword, "password", false, "prompt for a new password")
	usersUpdateCmd.MarkFlagRequired("name")
}

func runUsersList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.enter(model.RoleAdmin, "/users"); err != nil {
		return err
	}

	users, err := a.api.Users(cmd.Context())
	if err != nil {
		return a.apiError(cmd.Context(), err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tNAME\tROLE")
	for _, u := range users {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", u.ID, u.Username, u.Name, u.Role)
	}
	return w.Flush()
}

func runUsersAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.enter(model.RoleAdmin, "/users"); err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), "Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	user, err := a.api.CreateUser(cmd.Context(), &model.UserRequest{
		Username: args[0],
		Name:     userName,
		Role:     model.Role(userRole),
		Password: string(password),
	})
	if err != nil {
		return a.apiError(cmd.Context(), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (id %d)\n", user.Username, user.ID)
	return nil
}

func runUsersUpdate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.enter(model.RoleAdmin, "/users"); err != nil {
		return err
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad user id %q", args[0])
	}

	// Leaving the password empty keeps the current credential.
	var password []byte
	if userPassword {
		fmt.Fprint(cmd.OutOrStdout(), "New password: ")
		password, err = term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	user, err := a.api.UpdateUser(cmd.Context(), id, &model.UserRequest{
		Username: args[1],
		Name:     userName,
		Role:     model.Role(userRole),
		Password: string(password),
	})
	if err != nil {
		return a.apiError(cmd.Context(), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated user %s (id %d)\n", user.Username, user.ID)
	return nil
}

func runUsersRemove(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.enter(model.RoleAdmin, "/users"); err != nil {
		return err
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad user id %q", args[0])
	}
	if err := a.api.DeleteUser(cmd.Context(), id); err != nil {
		return a.apiError(cmd.Context(), err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "User deleted")
	return nil
}
