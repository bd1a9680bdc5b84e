package cmd

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"analyticsbridge/internal/auth"
	"analyticsbridge/internal/router"

	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Inspect the analytics route table",
}

var routesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every bridged route and the command it runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listRoutes(cmd.OutOrStdout(), router.DefaultRoutes())
	},
}

var routesMatchCmd = &cobra.Command{
	Use:   "match METHOD PATH",
	Short: "Show the CLI arguments a request would produce",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return matchRoute(cmd.OutOrStdout(), router.New(router.DefaultRoutes(), nil), args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(routesCmd)
	routesCmd.AddCommand(routesListCmd, routesMatchCmd)
}

func listRoutes(w io.Writer, routes []router.Route) error {
	table := tablewriter.NewWriter(w)
	table.Header("NAME", "METHOD", "PATH", "COMMAND", "AUTH")
	for _, r := range routes {
		authCol := "-"
		if r.RequiresAuth {
			authCol = router.AdminPermission
		}
		if err := table.Append(r.Name, r.Method, r.Template(), strings.Join(r.Command, " "), authCol); err != nil {
			return errors.Wrapf(err, "render route %s", r.Name)
		}
	}
	return table.Render()
}

// matchRoute resolves target as an administrator would, so protected routes
// show their arguments too.
func matchRoute(w io.Writer, rt *router.Router, method, target string) error {
	req, err := http.NewRequest(strings.ToUpper(method), target, nil)
	if err != nil {
		return errors.Wrapf(err, "build request for %s", target)
	}
	admin := auth.Account{Name: "routes", Permissions: []string{router.AdminPermission}, Authenticated: true}

	m, err := rt.Resolve(req, admin)
	if errors.Is(err, router.ErrNoRouteMatch) {
		if s, ok := rt.Suggest(req.URL.Path); ok {
			return errors.Newf("no route matches %s %s; closest is %s %s (similarity %.2f)",
				req.Method, req.URL.Path, s.Route.Method, s.Route.Template(), s.Score)
		}
		return errors.Newf("no route matches %s %s", req.Method, req.URL.Path)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n%s\n", m.Name, strings.Join(m.Args, " "))
	return nil
}
