package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newProfileCmd builds the profile command group: CRUD, exclusive
// activation, and drive bindings for filter profiles.
func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage filter profiles",
	}

	cmd.AddCommand(newProfileListCmd())
	cmd.AddCommand(newProfileCreateCmd())
	cmd.AddCommand(newProfileActivateCmd())
	cmd.AddCommand(newProfileDeleteCmd())
	cmd.AddCommand(newProfileBindCmd())
	cmd.AddCommand(newProfileUnbindCmd())

	return cmd
}

func newProfileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all filter profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.store.Close()

			profiles, err := a.filter.ListProfiles(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tACTIVE\tDESCRIPTION")

			for _, p := range profiles {
				active := ""
				if p.IsActive {
					active = "*"
				}

				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, active, p.Description)
			}

			return w.Flush()
		},
	}
}

func newProfileCreateCmd() *cobra.Command {
	var flagDescription string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new (inactive) filter profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.store.Close()

			p, err := a.filter.CreateProfile(cmd.Context(), args[0], flagDescription)
			if err != nil {
				return err
			}

			fmt.Printf("created profile %s (%s)\n", p.Name, p.ID)

			return nil
		},
	}

	cmd.Flags().StringVar(&flagDescription, "description", "", "profile description")

	return cmd
}

func newProfileActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <profile-id>",
		Short: "Activate a profile, deactivating every other one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.store.Close()

			if err := a.filter.SetActive(cmd.Context(), args[0]); err != nil {
				return err
			}

			fmt.Printf("activated profile %s\n", args[0])

			return nil
		},
	}
}

func newProfileDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <profile-id>",
		Short: "Delete a profile and its drive bindings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.store.Close()

			return a.filter.DeleteProfile(cmd.Context(), args[0])
		},
	}
}

func newProfileBindCmd() *cobra.Command {
	var flagNoChildren bool

	cmd := &cobra.Command{
		Use:   "bind <profile-id> <root-drive-id>",
		Short: "Bind a root drive folder to a profile's scope",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.store.Close()

			return a.filter.BindDrive(cmd.Context(), args[0], args[1], !flagNoChildren)
		},
	}

	cmd.Flags().BoolVar(&flagNoChildren, "no-children", false, "bind only the root itself, not its subtree")

	return cmd
}

func newProfileUnbindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unbind <profile-id> <root-drive-id>",
		Short: "Remove a root drive binding from a profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.store.Close()

			return a.filter.UnbindDrive(cmd.Context(), args[0], args[1])
		},
	}
}
