package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/goald/internal/app"
	"github.com/dokzlo13/goald/internal/goal"
	"github.com/dokzlo13/goald/internal/ledger"
)

// withAdmin opens the stored projects, runs fn and writes any edits.
func withAdmin(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.Admin) error) (err error) {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	closer := setupLogging(cfg.Log)
	defer closer.Close()

	ctx := cmd.Context()
	a, err := app.OpenAdmin(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); err == nil {
			err = closeErr
		}
	}()
	return fn(ctx, a)
}

func projectsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects and their goals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, opts, func(ctx context.Context, a *app.Admin) error {
				renderProjects(cmd.OutOrStdout(), a.Projects.List(), a.Projects.ActiveID())
				return nil
			})
		},
	}
}

func renderProjects(w io.Writer, projects []goal.Project, activeID string) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"", "Project", "ID", "Goal", "Resource", "Target", "Strict"})
	for _, p := range projects {
		marker := ""
		if p.ID == activeID {
			marker = "*"
		}
		if len(p.Goals) == 0 {
			tw.AppendRow(table.Row{marker, p.Name, p.ID, "", "", "", ""})
			continue
		}
		for _, g := range p.Goals {
			tw.AppendRow(table.Row{marker, p.Name, p.ID, g.ID, g.Matcher.String(), g.Target, strictLabel(g)})
		}
	}
	tw.SetStyle(table.StyleLight)
	tw.Render()
}

func strictLabel(g goal.Goal) string {
	if !g.Strict {
		return ""
	}
	var parts []string
	for _, k := range slices.Sorted(maps.Keys(g.Filter.Match)) {
		parts = append(parts, k+"="+g.Filter.Match[k])
	}
	for _, k := range g.Filter.Ignore {
		parts = append(parts, "!"+k)
	}
	if len(parts) == 0 {
		return "yes"
	}
	return strings.Join(parts, ",")
}

func projectCmd(opts *rootOptions) *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}

	prj.AddCommand(&cobra.Command{
		Use:   "create NAME",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, opts, func(ctx context.Context, a *app.Admin) error {
				p, err := a.Projects.Create(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), p.ID)
				return nil
			})
		},
	})

	prj.AddCommand(&cobra.Command{
		Use:   "show ID",
		Short: "Show a stored project and its record revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, opts, func(ctx context.Context, a *app.Admin) error {
				p, version, err := a.Repo.Load(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (revision %d)\n", p.Name, version)
				renderProjects(cmd.OutOrStdout(), []goal.Project{p}, a.Projects.ActiveID())
				return nil
			})
		},
	})

	prj.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, opts, func(ctx context.Context, a *app.Admin) error {
				return a.Projects.Delete(args[0])
			})
		},
	})

	prj.AddCommand(&cobra.Command{
		Use:   "activate ID",
		Short: "Select the project the tracker follows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, opts, func(ctx context.Context, a *app.Admin) error {
				return a.Projects.SetActive(args[0])
			})
		},
	})

	prj.AddCommand(&cobra.Command{
		Use:       "secondary ID on|off",
		Short:     "Toggle the secondary counter rate",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch args[1] {
			case "on":
				enabled = true
			case "off":
			default:
				return fmt.Errorf("expected on or off, got %q", args[1])
			}
			return withAdmin(cmd, opts, func(ctx context.Context, a *app.Admin) error {
				_, err := a.Projects.SetTrackSecondary(args[0], enabled)
				return err
			})
		},
	})

	return prj
}

func goalCmd(opts *rootOptions) *cobra.Command {
	g := &cobra.Command{Use: "goal", Short: "Manage goals"}
	g.AddCommand(goalAddCmd(opts))

	g.AddCommand(&cobra.Command{
		Use:   "remove PROJECT GOAL",
		Short: "Remove a goal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, opts, func(ctx context.Context, a *app.Admin) error {
				_, err := a.Projects.RemoveGoal(args[0], args[1])
				return err
			})
		},
	})

	g.AddCommand(&cobra.Command{
		Use:   "target PROJECT GOAL AMOUNT",
		Short: "Change a goal's target amount",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := goal.ParseTarget(args[2])
			if err != nil {
				return err
			}
			return withAdmin(cmd, opts, func(ctx context.Context, a *app.Admin) error {
				_, err := a.Projects.SetTarget(args[0], args[1], target)
				return err
			})
		},
	})

	return g
}

func goalAddCmd(opts *rootOptions) *cobra.Command {
	var (
		strict bool
		match  []string
		ignore []string
	)
	cmd := &cobra.Command{
		Use:   "add PROJECT RESOURCE AMOUNT",
		Short: "Add a goal; a '#' prefix tracks a tag",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := goal.ParseTarget(args[2])
			if err != nil {
				return err
			}
			m := goal.ParseMatcher(args[1])

			g := goal.NewGoal(m, target)
			if strict || len(match) > 0 || len(ignore) > 0 {
				filter, err := parseFilter(match, ignore)
				if err != nil {
					return err
				}
				g = goal.NewStrictGoal(m, target, filter)
			}

			return withAdmin(cmd, opts, func(ctx context.Context, a *app.Admin) error {
				p, err := a.Projects.AddGoal(args[0], g)
				if err != nil {
					return err
				}
				renderProjects(cmd.OutOrStdout(), []goal.Project{p}, a.Projects.ActiveID())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Only count stacks whose attributes match")
	cmd.Flags().StringSliceVar(&match, "match", nil, "Expected attribute as key=value (implies --strict)")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "Attribute key to ignore (implies --strict)")
	return cmd
}

func parseFilter(match, ignore []string) (goal.AttributeFilter, error) {
	f := goal.AttributeFilter{Ignore: ignore}
	for _, kv := range match {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return goal.AttributeFilter{}, fmt.Errorf("invalid attribute %q, want key=value", kv)
		}
		if f.Match == nil {
			f.Match = make(map[string]string)
		}
		f.Match[k] = v
	}
	return f, nil
}

func historyCmd(opts *rootOptions) *cobra.Command {
	var (
		project string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent completions and save failures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, opts, func(ctx context.Context, a *app.Admin) error {
				var (
					entries []*ledger.Entry
					err     error
				)
				if project != "" {
					entries, err = a.Ledger.ByProject(project, limit)
				} else {
					entries, err = a.Ledger.Recent(limit)
				}
				if err != nil {
					return err
				}

				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"Time", "Event", "Project", "Goal", "Details"})
				for _, e := range entries {
					details := ""
					if e.Payload != nil {
						details = fmt.Sprint(e.Payload)
					}
					tw.AppendRow(table.Row{e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.EventType, e.ProjectID, e.GoalID, details})
				}
				tw.SetStyle(table.StyleLight)
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Only show one project")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries")
	return cmd
}
