package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jgoulah/bwusage/internal/scraper"
)

var loginVisible bool

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Verify the portal credentials",
	Long: `Logs in to the portal with the configured credentials and reports whether
they were accepted. Nothing is stored.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().BoolVar(&loginVisible, "visible", false, "Show browser window (browser mode only)")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, _, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()

	fetcher, err := scraper.NewFetcher(cfg)
	if err != nil {
		return err
	}
	if b, ok := fetcher.(*scraper.BrowserFetcher); ok {
		b.Visible = loginVisible
	}

	auth, ok := fetcher.(scraper.Authenticator)
	if !ok {
		return fmt.Errorf("portal mode %s cannot verify credentials alone", cfg.GetPortalMode())
	}

	fmt.Printf("Logging in to %s as %s...\n", cfg.Portal.LoginURL, cfg.Portal.Username)
	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.GetPortalTimeout())
	defer cancel()

	if err := auth.Login(ctx); err != nil {
		var authErr *scraper.AuthError
		if errors.As(err, &authErr) {
			return fmt.Errorf("credentials rejected: %w", err)
		}
		return fmt.Errorf("login failed: %w", err)
	}

	fmt.Println("✓ Login successful")
	return nil
}
