package main

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain an operator token (export it as SENTINEL_TOKEN)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/auth/token", nil, map[string]string{
				"username": username,
				"password": password,
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "operator username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "operator password")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("password")
	return cmd
}

func newPackagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "packages",
		Short: "Manage the package registry",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List registry records",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			return call(http.MethodGet, "/v1/packages", q, nil)
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter: untrusted|pending|active|banned")

	var name, version, minMaturity, reason string
	pkgFlags := func(c *cobra.Command) {
		c.Flags().StringVar(&name, "name", "", "package name")
		c.Flags().StringVar(&version, "version", "", "package version")
		c.MarkFlagRequired("name")
		c.MarkFlagRequired("version")
	}

	request := &cobra.Command{
		Use:   "request",
		Short: "File a pending request for a package",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/v1/packages", nil, map[string]string{
				"package_name": name, "version": version,
			})
		},
	}
	pkgFlags(request)

	approve := &cobra.Command{
		Use:   "approve",
		Short: "Approve a package with a minimum maturity level",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/v1/packages/approve", nil, map[string]string{
				"package_name": name, "version": version, "min_maturity": minMaturity,
			})
		},
	}
	pkgFlags(approve)
	approve.Flags().StringVar(&minMaturity, "min-maturity", "intern", "student|intern|supervised|autonomous")

	ban := &cobra.Command{
		Use:   "ban",
		Short: "Ban a package (reason is mandatory)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/v1/packages/ban", nil, map[string]string{
				"package_name": name, "version": version, "reason": reason,
			})
		},
	}
	pkgFlags(ban)
	ban.Flags().StringVar(&reason, "reason", "", "why the package is banned")
	ban.MarkFlagRequired("reason")

	liftBan := &cobra.Command{
		Use:   "lift-ban",
		Short: "Lift a ban (package returns to pending)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/v1/packages/lift-ban", nil, map[string]string{
				"package_name": name, "version": version,
			})
		},
	}
	pkgFlags(liftBan)

	cmd.AddCommand(list, request, approve, ban, liftBan)
	return cmd
}

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage agent maturity levels",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/v1/agents", nil, nil)
		},
	}

	var id, name, maturity string
	register := &cobra.Command{
		Use:   "register",
		Short: "Register an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/v1/agents", nil, map[string]string{
				"id": id, "name": name, "maturity": maturity,
			})
		},
	}
	register.Flags().StringVar(&id, "id", "", "agent id")
	register.Flags().StringVar(&name, "name", "", "human-readable name")
	register.Flags().StringVar(&maturity, "maturity", "student", "student|intern|supervised|autonomous")
	register.MarkFlagRequired("id")

	setMaturity := &cobra.Command{
		Use:   "set-maturity <agent-id>",
		Short: "Change an agent's maturity level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/v1/agents/"+args[0]+"/maturity", nil, map[string]string{
				"maturity": maturity,
			})
		},
	}
	setMaturity.Flags().StringVar(&maturity, "maturity", "", "student|intern|supervised|autonomous")
	setMaturity.MarkFlagRequired("maturity")

	cmd.AddCommand(list, register, setMaturity)
	return cmd
}

func newAuditCmd() *cobra.Command {
	var agentID, pkg, action, from, to, limit string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			set := func(key, val string) {
				if val != "" {
					q.Set(key, val)
				}
			}
			set("agent_id", agentID)
			set("package", pkg)
			set("action", action)
			set("from", from)
			set("to", to)
			set("limit", limit)
			return call(http.MethodGet, "/v1/audit", q, nil)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "filter by agent id")
	cmd.Flags().StringVar(&pkg, "package", "", "filter by package name")
	cmd.Flags().StringVar(&action, "action", "", "filter by action")
	cmd.Flags().StringVar(&from, "from", "", "RFC3339 lower bound")
	cmd.Flags().StringVar(&to, "to", "", "RFC3339 upper bound")
	cmd.Flags().StringVar(&limit, "limit", "", "max entries")
	return cmd
}
