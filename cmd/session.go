package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-publisher/internal/clock/system"
	"github.com/JakeFAU/listing-publisher/internal/publish"
	"github.com/JakeFAU/listing-publisher/internal/server"
)

// errSessionInvalid makes `session check` exit non-zero for scripts.
var errSessionInvalid = errors.New("session is not valid")

type sessionReport struct {
	Path            string `json:"path"`
	Exists          bool   `json:"exists"`
	AdvisoryExpired bool   `json:"advisoryExpired"`
	Restored        bool   `json:"restored"`
	Valid           bool   `json:"valid"`
	Probe           string `json:"probe"`
}

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspects or removes the saved marketplace session",
	}
	cmd.AddCommand(newSessionCheckCmd())
	cmd.AddCommand(newSessionDeleteCmd())
	return cmd
}

func newSessionCheckCmd() *cobra.Command {
	var useHTTP bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validates the saved session against the marketplace",
		Long: `Restores the saved cookies and loads the protected page. The session is valid
only when the marketplace keeps the request on that page. With --http the check uses a
plain HTTP client instead of launching Chrome.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			vault, err := server.NewVault(rt.cfg, system.New(), rt.logger)
			if err != nil {
				return err
			}
			report := sessionReport{
				Path:            vault.Path(),
				Exists:          vault.Exists(),
				AdvisoryExpired: vault.IsExpired(),
			}
			if report.Exists {
				if useHTTP {
					report.Probe = "http"
					report.Restored, report.Valid, err = checkOverHTTP(cmd.Context(), rt, vault)
				} else {
					report.Probe = "browser"
					report.Restored, report.Valid, err = checkInBrowser(cmd.Context(), rt, vault)
				}
				if err != nil {
					return err
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			if !report.Valid {
				return errSessionInvalid
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&useHTTP, "http", false, "probe with an HTTP client instead of headless Chrome")
	return cmd
}

type sessionVault interface {
	Load(ctx context.Context, jar publish.CookieJar) (bool, error)
	Validate(ctx context.Context, nav publish.Navigator) bool
	Save(ctx context.Context, jar publish.CookieJar) error
}

func checkOverHTTP(ctx context.Context, rt *runtime, vault sessionVault) (bool, bool, error) {
	probe, err := server.NewProbe(rt.cfg)
	if err != nil {
		return false, false, err
	}
	restored, err := vault.Load(ctx, probe)
	if err != nil || !restored {
		return false, false, err
	}
	return true, vault.Validate(ctx, probe), nil
}

func checkInBrowser(ctx context.Context, rt *runtime, vault sessionVault) (bool, bool, error) {
	browser, err := server.NewBrowser(rt.cfg, rt.logger)
	if err != nil {
		return false, false, err
	}
	defer browser.Close()
	sess, err := browser.Open(ctx)
	if err != nil {
		return false, false, fmt.Errorf("open browser: %w", err)
	}
	defer func() { _ = sess.Close() }()

	restored, err := vault.Load(ctx, sess)
	if err != nil || !restored {
		return false, false, err
	}
	valid := vault.Validate(ctx, sess)
	if valid {
		// Refreshes rotated cookies the marketplace may have issued.
		if err := vault.Save(ctx, sess); err != nil {
			rt.logger.Warn("session refresh failed", zap.Error(err))
		}
	}
	return true, valid, nil
}

func newSessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Removes the saved session file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			vault, err := server.NewVault(rt.cfg, system.New(), rt.logger)
			if err != nil {
				return err
			}
			if err := vault.Delete(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session removed: %s\n", vault.Path())
			return nil
		},
	}
}
