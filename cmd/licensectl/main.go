/**
 * @description
 * licensectl is the operator tool for the license service. It talks to the
 * admin API to look up, issue and revoke licenses.
 *
 * Usage:
 *   licensectl search buyer@example.com
 *   licensectl show <license-id>
 *   licensectl issue --tier lifetime --email vip@example.com
 *   licensectl revoke <license-id>
 *
 * The API address and admin token come from --api-url/--admin-token or the
 * LICENSE_API_URL and ADMIN_TOKEN environment variables (a .env file is read
 * when present).
 */
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
