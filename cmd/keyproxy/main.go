package main

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "keyproxy",
	Short: "KeyProxy CLI",
	Long:  "A CLI for managing proxy credentials in KeyProxy.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(rotationCmd())
}

// --- session ---

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Unlock session commands"}

	unlockCmd := &cobra.Command{
		Use:   "unlock <owner-id>",
		Short: "Unlock the vault for an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, _ := cmd.Flags().GetString("key")
			if key == "" {
				fmt.Print("Unlock Key (base64): ")
				scanner := bufio.NewScanner(os.Stdin)
				scanner.Scan()
				key = strings.TrimSpace(scanner.Text())
			}
			if _, err := base64.StdEncoding.DecodeString(key); err != nil {
				printError("unlock key must be base64")
				return nil
			}
			client := newClient()
			_, err := client.post("/v1/session/unlock", map[string]any{
				"owner_id":   args[0],
				"unlock_key": key,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			cfg.Owner = args[0]
			if err := saveConfig(); err == nil {
				fmt.Fprintln(os.Stderr, "Owner saved to config.")
			}
			printSuccess("Success! Vault unlocked for " + args[0])
			return nil
		},
	}
	unlockCmd.Flags().String("key", "", "Base64-encoded unlock key (prompted if omitted)")

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "End the current owner's session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.post("/v1/session/logout", nil); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Session ended.")
			return nil
		},
	}

	cmd.AddCommand(unlockCmd, logoutCmd)
	return cmd
}

// --- keys ---

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "Manage proxy credentials"}

	provisionCmd := &cobra.Command{
		Use:   "provision <proxy-id>",
		Short: "Register an upstream credential behind a proxy id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, _ := cmd.Flags().GetString("provider")
			interval, _ := cmd.Flags().GetInt64("interval")
			webhook, _ := cmd.Flags().GetString("webhook")
			secret, _ := cmd.Flags().GetString("secret")
			if secret == "" {
				fmt.Print("Upstream secret: ")
				scanner := bufio.NewScanner(os.Stdin)
				scanner.Scan()
				secret = strings.TrimSpace(scanner.Text())
			}
			client := newClient()
			result, err := client.post("/v1/vault/keys", map[string]any{
				"proxy_id":            args[0],
				"secret":              secret,
				"provider":            provider,
				"rotation_interval_s": interval,
				"webhook_url":         webhook,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	provisionCmd.Flags().String("provider", "", "Upstream provider tag (e.g. openai)")
	provisionCmd.Flags().Int64("interval", 0, "Rotation interval in seconds (0 = never)")
	provisionCmd.Flags().String("webhook", "", "URL notified on rotation")
	provisionCmd.Flags().String("secret", "", "Upstream secret (prompted if omitted)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the owner's proxy credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/vault/keys")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if d, ok := result["data"].(map[string]any); ok {
				printResult(d)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	resolveCmd := &cobra.Command{
		Use:   "resolve <proxy-id>",
		Short: "Resolve a proxy id to its upstream secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/vault/keys/"+args[0]+"/resolve", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke <proxy-id>",
		Short: "Permanently revoke a proxy credential and its chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if err := client.delete("/v1/vault/keys/" + args[0]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Credential revoked.")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status <proxy-id>",
		Short: "Show a credential's rotation schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/vault/keys/" + args[0] + "/status")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if d, ok := result["data"].(map[string]any); ok {
				printResult(d)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(provisionCmd, listCmd, resolveCmd, revokeCmd, statusCmd)
	return cmd
}

// --- rotation ---

func rotationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rotation", Short: "Rotation commands"}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Rotate all credentials whose interval has elapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/rotation/sweep", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(sweepCmd)
	return cmd
}
