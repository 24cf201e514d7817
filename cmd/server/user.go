package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iliyamo/parkb/internal/config"
	"github.com/iliyamo/parkb/internal/model"
)

func newUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts in the MySQL store",
	}
	cmd.AddCommand(newUserAddCommand())
	return cmd
}

func newUserAddCommand() *cobra.Command {
	var password, role string
	cmd := &cobra.Command{
		Use:   "add USERNAME",
		Short: "Create a subscriber, attendant or manager account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			if a.cfg.Parking.Store != config.StoreMySQL {
				return errors.New("user add needs PARKING_STORE=mysql; the memory store does not outlive this command")
			}
			u, err := a.addUser(ctx, args[0], password, model.Role(role), false)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created user %d %s (%s)\n", u.ID, u.Username, u.Role)
			return err
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "initial password (at least 6 characters)")
	cmd.Flags().StringVar(&role, "role", string(model.RoleSubscriber), "sub, emp or mng")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
