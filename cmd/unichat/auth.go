package main

import (
	"fmt"

	"github.com/spf13/cobra"
	unichat "github.com/unichat-dev/unichat-go"
)

// ============================================================================
// Flag variables
// ============================================================================

var loginDisplayName string

// ============================================================================
// login
// ============================================================================

var loginCmd = &cobra.Command{
	Use:   "login <user-id> <token>",
	Short: "Store session credentials in ~/.unichat/config.toml",
	Long:  "Log in by storing your user id and access token in the local configuration file.\nThe token is obtained from the UniChat web application.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, token := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.UserID = userID
		cfg.Auth.Token = token
		if loginDisplayName != "" {
			cfg.Auth.DisplayName = loginDisplayName
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Session saved to %s\n", path)

		session := unichat.NewSession(userID, loginDisplayName, token)
		if exp := session.ExpiresAt(); !exp.IsZero() {
			fmt.Printf("Token expires: %s\n", exp.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

// ============================================================================
// logout
// ============================================================================

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth = ConfigAuth{}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Logged out.")
		return nil
	},
}

// ============================================================================
// whoami
// ============================================================================

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		session := getSession(cfg)

		fmt.Printf("User ID:      %s\n", session.UserID)
		if session.DisplayName != "" {
			fmt.Printf("Display Name: %s\n", session.DisplayName)
		}
		if exp := session.ExpiresAt(); !exp.IsZero() {
			fmt.Printf("Expires:      %s\n", exp.Format("2006-01-02 15:04:05"))
			if !session.Valid() {
				fmt.Println("Status:       EXPIRED")
				return nil
			}
		}
		fmt.Println("Status:       valid")
		return nil
	},
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	loginCmd.Flags().StringVar(&loginDisplayName, "name", "", "Display name to store with the session")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}
