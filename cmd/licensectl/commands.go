package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
	"github.com/skyvaultex/chrono-license-service/pkg/licenseclient"
)

const defaultAPIURL = "http://localhost:8080"

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetDefault("LICENSE_API_URL", defaultAPIURL)
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "licensectl",
		Short:         "Manage Chrono licenses through the admin API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("api-url", "", "license service base URL (env LICENSE_API_URL)")
	root.PersistentFlags().String("admin-token", "", "admin API token (env ADMIN_TOKEN)")
	root.PersistentFlags().Bool("json", false, "print raw JSON")
	_ = v.BindPFlag("LICENSE_API_URL", root.PersistentFlags().Lookup("api-url"))
	_ = v.BindPFlag("ADMIN_TOKEN", root.PersistentFlags().Lookup("admin-token"))
	_ = v.BindPFlag("JSON", root.PersistentFlags().Lookup("json"))

	clientFor := func() (*licenseclient.Client, error) {
		token := v.GetString("ADMIN_TOKEN")
		if strings.TrimSpace(token) == "" {
			return nil, errors.New("admin token is required (--admin-token or ADMIN_TOKEN)")
		}
		return licenseclient.NewClient(v.GetString("LICENSE_API_URL"), token), nil
	}

	root.AddCommand(
		newSearchCmd(v, clientFor),
		newShowCmd(v, clientFor),
		newIssueCmd(v, clientFor),
		newRevokeCmd(clientFor),
	)
	return root
}

type clientFactory func() (*licenseclient.Client, error)

func newSearchCmd(v *viper.Viper, clientFor clientFactory) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "List licenses, optionally filtered by key or email",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFor()
			if err != nil {
				return err
			}
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			page, err := client.ListLicenses(cmd.Context(), query, limit, offset)
			if err != nil {
				return err
			}
			if v.GetBool("JSON") {
				return printJSON(cmd.OutOrStdout(), page)
			}
			printLicenses(cmd.OutOrStdout(), page.Licenses)
			fmt.Fprintf(cmd.OutOrStdout(), "%d license(s)\n", page.Count)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of licenses")
	cmd.Flags().IntVar(&offset, "offset", 0, "licenses to skip (ignored when searching)")
	return cmd
}

func newShowCmd(v *viper.Viper, clientFor clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "show <license-id>",
		Short: "Show a license and its activated devices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFor()
			if err != nil {
				return err
			}
			detail, err := client.GetLicense(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if v.GetBool("JSON") {
				return printJSON(cmd.OutOrStdout(), detail)
			}

			out := cmd.OutOrStdout()
			printLicenses(out, []domain.License{detail.License})
			fmt.Fprintf(out, "\nDevices (%d/%d):\n", len(detail.Activations), detail.License.MaxActivations)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, a := range detail.Activations {
				name := ""
				if a.DeviceName != nil {
					name = *a.DeviceName
				}
				fmt.Fprintf(tw, "  %s\t%s\t%s\n", a.DeviceID, name, a.ActivatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newIssueCmd(v *viper.Viper, clientFor clientFactory) *cobra.Command {
	var req licenseclient.IssueRequest
	var expires string
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a license by hand",
		RunE: func(cmd *cobra.Command, args []string) error {
			if expires != "" {
				t, err := parseExpiry(expires)
				if err != nil {
					return err
				}
				req.ExpiresAt = &t
			}
			client, err := clientFor()
			if err != nil {
				return err
			}
			license, err := client.IssueLicense(cmd.Context(), req)
			if err != nil {
				return err
			}
			if v.GetBool("JSON") {
				return printJSON(cmd.OutOrStdout(), license)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Issued %s license %s (id %s)\n", license.Tier, license.LicenseKey, license.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Tier, "tier", string(domain.TierPro), "license tier: free, pro or lifetime")
	cmd.Flags().StringVar(&req.Email, "email", "", "owner email")
	cmd.Flags().StringVar(&req.LicenseKey, "key", "", "explicit license key (generated when empty)")
	cmd.Flags().IntVar(&req.MaxActivations, "max-activations", 0, "device slots (default 3)")
	cmd.Flags().StringVar(&expires, "expires-at", "", "expiry as RFC3339 or YYYY-MM-DD")
	return cmd
}

func newRevokeCmd(clientFor clientFactory) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "revoke <license-id>",
		Short: "Revoke a license and free all its devices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFor()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !yes {
				detail, err := client.GetLicense(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printLicenses(out, []domain.License{detail.License})
				fmt.Fprintf(out, "\nAre you sure you want to revoke this license? (yes/no): ")
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if strings.TrimSpace(strings.ToLower(answer)) != "yes" {
					fmt.Fprintln(out, "Revocation cancelled.")
					return nil
				}
			}

			resp, err := client.RevokeLicense(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %s\n", resp.Message, resp.LicenseKey)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func parseExpiry(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --expires-at %q: use RFC3339 or YYYY-MM-DD", raw)
}

func printLicenses(w io.Writer, licenses []domain.License) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKEY\tTIER\tSTATUS\tEMAIL\tEXPIRES")
	for _, l := range licenses {
		email := "-"
		if l.Email != nil {
			email = *l.Email
		}
		expires := "never"
		if l.ExpiresAt != nil {
			expires = l.ExpiresAt.Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", l.ID, l.LicenseKey, l.Tier, l.Status, email, expires)
	}
	tw.Flush()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
