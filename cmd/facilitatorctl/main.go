// facilitatorctl is the operator CLI for provisioning the pieces a running
// facilitator needs but never exposes over HTTP: the network registry and
// the API keys resource servers authenticate /verify and /settle with.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"facilitator/internal/config"
	"facilitator/internal/db"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "facilitatorctl",
		Short: "Operator CLI for the x402 facilitator",
		Long: `facilitatorctl manages the facilitator's operator-owned state:
registering the networks it serves, and issuing the API keys resource
servers use to authenticate against /verify and /settle.

None of this is exposed over HTTP; it is provisioned out of band so a
compromised API key can never register a new network or mint another key.`,
	}

	rootCmd.AddCommand(networkCmd(), userCmd(), apiKeyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openDB() (*db.DB, error) {
	cfg := config.Load()
	return db.New(&db.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	})
}

func networkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "network",
		Short: "Manage the network registry",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a network the facilitator should serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			chainID, _ := cmd.Flags().GetInt64("chain-id")
			n := &db.Network{
				ID:                    mustFlag(cmd, "id"),
				ChainID:               chainID,
				RPCURL:                mustFlag(cmd, "rpc-url"),
				EscrowAddress:         mustFlag(cmd, "escrow-address"),
				TokenAddress:          mustFlag(cmd, "token-address"),
				TokenCollectorAddress: mustFlag(cmd, "token-collector-address"),
				Multicall3Address:     cmd.Flag("multicall3-address").Value.String(),
				TokenEIP712Name:       mustFlag(cmd, "token-name"),
				TokenEIP712Version:    mustFlag(cmd, "token-version"),
				Enabled:               true,
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := database.CreateNetwork(ctx, n); err != nil {
				return fmt.Errorf("failed to create network: %w", err)
			}
			fmt.Printf("registered network %s (chain %d)\n", n.ID, n.ChainID)
			return nil
		},
	}
	addCmd.Flags().String("id", "", "CAIP-2 network id (e.g. eip155:84532)")
	addCmd.Flags().Int64("chain-id", 0, "EVM chain id")
	addCmd.Flags().String("rpc-url", "", "JSON-RPC endpoint")
	addCmd.Flags().String("escrow-address", "", "escrow contract address")
	addCmd.Flags().String("token-address", "", "ERC-3009 token address")
	addCmd.Flags().String("token-collector-address", "", "token collector address the escrow uses for transferWithAuthorization")
	addCmd.Flags().String("multicall3-address", "", "Multicall3 deployment on this chain, empty to disable batch capture/reclaim")
	addCmd.Flags().String("token-name", "", "token's EIP-712 domain name")
	addCmd.Flags().String("token-version", "1", "token's EIP-712 domain version")
	for _, f := range []string{"id", "rpc-url", "escrow-address", "token-address", "token-collector-address", "token-name"} {
		addCmd.MarkFlagRequired(f) //nolint:errcheck
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered networks",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			enabledOnly, _ := cmd.Flags().GetBool("enabled-only")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			networks, err := database.ListNetworks(ctx, enabledOnly)
			if err != nil {
				return fmt.Errorf("failed to list networks: %w", err)
			}
			for _, n := range networks {
				fmt.Printf("%s\tchain=%d\tenabled=%v\tescrow=%s\n", n.ID, n.ChainID, n.Enabled, n.EscrowAddress)
			}
			return nil
		},
	}
	listCmd.Flags().Bool("enabled-only", false, "only list enabled networks")

	disableCmd := &cobra.Command{
		Use:   "disable <id>",
		Short: "Disable a registered network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := database.SetNetworkEnabled(ctx, args[0], false); err != nil {
				return fmt.Errorf("failed to disable network: %w", err)
			}
			fmt.Printf("disabled network %s\n", args[0])
			return nil
		},
	}

	enableCmd := &cobra.Command{
		Use:   "enable <id>",
		Short: "Re-enable a disabled network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := database.SetNetworkEnabled(ctx, args[0], true); err != nil {
				return fmt.Errorf("failed to enable network: %w", err)
			}
			fmt.Printf("enabled network %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(addCmd, listCmd, disableCmd, enableCmd)
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage facilitator operator accounts",
		Long:  "Accounts exist only to own API keys; there is no login flow since API keys are the facilitator's only credential.",
	}

	createCmd := &cobra.Command{
		Use:   "create <email>",
		Short: "Create an account to own API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			user, err := database.CreateUser(ctx, args[0], "")
			if err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
			fmt.Printf("created user %s (%s)\n", user.ID, user.Email)
			return nil
		},
	}

	cmd.AddCommand(createCmd)
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys resource servers use against /verify and /settle",
	}

	createCmd := &cobra.Command{
		Use:   "create <user-email> <key-name>",
		Short: "Mint a new API key, printing it once",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			user, err := database.GetUserByEmail(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to find user %s: %w", args[0], err)
			}
			_, rawKey, err := database.CreateAPIKey(ctx, user.ID, args[1])
			if err != nil {
				return fmt.Errorf("failed to create API key: %w", err)
			}
			fmt.Printf("API key (store this now, it will not be shown again):\n%s\n", rawKey)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list <user-email>",
		Short: "List a user's API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			user, err := database.GetUserByEmail(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to find user %s: %w", args[0], err)
			}
			keys, err := database.ListAPIKeys(ctx, user.ID)
			if err != nil {
				return fmt.Errorf("failed to list API keys: %w", err)
			}
			for _, k := range keys {
				status := "active"
				if k.RevokedAt != nil {
					status = "revoked"
				}
				fmt.Printf("%s\t%s\t%s\t%s\n", k.ID, k.Name, k.KeyPrefix, status)
			}
			return nil
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke <user-email> <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			keyID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid key id: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			user, err := database.GetUserByEmail(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to find user %s: %w", args[0], err)
			}
			if err := database.RevokeAPIKey(ctx, user.ID, keyID); err != nil {
				return fmt.Errorf("failed to revoke API key: %w", err)
			}
			fmt.Printf("revoked key %s\n", keyID)
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd, revokeCmd)
	return cmd
}

func mustFlag(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
