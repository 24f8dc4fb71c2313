package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	la "github.com/panyam/linkauth"
)

// withProvisioner opens the configured backend for the duration of fn
func (c *cli) withProvisioner(ctx context.Context, fn func(p *la.Provisioner) error) error {
	b, err := openBackend(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer b.close()

	p, err := la.NewProvisionerFromConfig(c.cfg, b.store, nil)
	if err != nil {
		return err
	}
	return fn(p)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAccountCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Account commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <account-id>",
		Short: "Print an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withProvisioner(cmd.Context(), func(p *la.Provisioner) error {
				account, err := p.Store.GetAccount(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("failed to get account: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), account)
			})
		},
	})
	return cmd
}

func newIdentitiesCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identities",
		Short: "Identity record commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <account-id>",
		Short: "List the provider identities linked to an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withProvisioner(cmd.Context(), func(p *la.Provisioner) error {
				records, err := p.LinkedIdentities(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("failed to list identities: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), records)
			})
		},
	})
	return cmd
}

func newAuditCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Link audit commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <account-id>",
		Short: "List the link history of an account, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withProvisioner(cmd.Context(), func(p *la.Provisioner) error {
				entries, err := p.AuditTrail(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("failed to list audit entries: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), entries)
			})
		},
	})
	return cmd
}

func newMergeCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Cross-domain merge flag commands",
	}
	setFlag := func(use, short string, needed bool) *cobra.Command {
		return &cobra.Command{
			Use:     use + " <provider> <external-id>",
			Short:   short,
			Args:    cobra.ExactArgs(2),
			Example: "  linkauthctl merge " + use + " openid https://www.google.com/accounts/o8/id?id=abc",
			RunE: func(cmd *cobra.Command, args []string) error {
				provider, err := la.ParseProvider(args[0])
				if err != nil {
					return err
				}
				return c.withProvisioner(cmd.Context(), func(p *la.Provisioner) error {
					if err := p.SetCrossDomainMerge(cmd.Context(), provider, args[1], needed); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s: needs_cross_domain_merge=%t\n", provider, args[1], needed)
					return nil
				})
			},
		}
	}
	cmd.AddCommand(setFlag("clear", "Clear the merge flag of an identity", false))
	cmd.AddCommand(setFlag("set", "Flag an identity for a cross-domain merge", true))
	return cmd
}
