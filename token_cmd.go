package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newTokenCmd builds the token command group.
func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect and validate the stored access token",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Probe the provider with the stored token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.store.Close()

			ok, err := a.tokens.Validate(cmd.Context(), a.client)
			if err != nil {
				return err
			}

			if !ok {
				return fmt.Errorf("token is invalid (state %s), re-authentication required", a.tokens.State())
			}

			fmt.Printf("token is usable (state %s)\n", a.tokens.State())

			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Force a refresh exchange now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.store.Close()

			tok, err := a.tokens.Refresh(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("token refreshed, expires at %s\n", tok.ExpiresAt.Format("2006-01-02 15:04:05 MST"))

			return nil
		},
	})

	return cmd
}
