package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flitsinc/agentlab/internal/remote"
)

func (a *app) remote() *remote.Client {
	c := remote.New(a.cfg.APIURL)
	c.Logger = a.logger
	return c
}

func newProjectsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List the backend's projects",
		RunE: func(cmd *cobra.Command, _ []string) error {
			projects, err := a.remote().ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSOURCE\tSTATUS\tPATH")
			for _, p := range projects {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Source, p.Status, p.LocalPath)
			}
			return tw.Flush()
		},
	}

	var req remote.CreateProjectRequest
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a project (clone, local or init)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.remote().CreateProject(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
	create.Flags().StringVar(&req.Name, "name", "", "project name")
	create.Flags().StringVar(&req.Source, "source", remote.SourceInit, "clone, local or init")
	create.Flags().StringVar(&req.RepoURL, "repo", "", "repository url for clone")
	create.Flags().StringVar(&req.LocalPath, "path", "", "local path for local")
	create.Flags().StringVar(&req.CLIAdapter, "cli", "", "agent cli adapter")

	remove := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.remote().DeleteProject(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(create, remove)
	return cmd
}

func newMissionCmd(a *app) *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "mission --project <id> <text>",
		Short: "Send a mission to a project's coordinator",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.remote().SendMission(cmd.Context(), projectID, strings.Join(args, " ")); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "mission sent")
			return nil
		},
	}
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newAgentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the backend's agents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			agents, err := a.remote().ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDOMAIN\tSTATUS\tLEVEL\tLINES\tBRANCH")
			for _, ag := range agents {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", ag.ID, ag.Domain, ag.Status, ag.ValidationLevel, ag.OutputLineCount, ag.Branch)
			}
			return tw.Flush()
		},
	}
	kill := &cobra.Command{
		Use:   "kill <agent-id>",
		Short: "Stop a running agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.remote().KillAgent(cmd.Context(), args[0])
		},
	}
	cmd.AddCommand(kill)
	return cmd
}

func newMemoryCmd(a *app) *cobra.Command {
	var projectID, write string
	var agents bool
	cmd := &cobra.Command{
		Use:   "memory --project <id>",
		Short: "Show or replace a project's global memory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := a.remote()
			out := cmd.OutOrStdout()
			switch {
			case cmd.Flags().Changed("write"):
				return c.WriteGlobalMemory(cmd.Context(), projectID, write)
			case agents:
				files, err := c.AgentMemories(cmd.Context(), projectID)
				if err != nil {
					return err
				}
				for _, f := range files {
					fmt.Fprintln(out, f)
				}
				return nil
			default:
				content, err := c.GlobalMemory(cmd.Context(), projectID)
				if err != nil {
					return err
				}
				fmt.Fprint(out, content)
				if content != "" && !strings.HasSuffix(content, "\n") {
					fmt.Fprintln(out)
				}
				return nil
			}
		},
	}
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project id")
	cmd.Flags().StringVar(&write, "write", "", "replace the global memory with this text")
	cmd.Flags().BoolVar(&agents, "agents", false, "list per-agent memory files instead")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newContractsCmd(a *app) *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "contracts --project <id> [file]",
		Short: "List a project's contracts or print one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.remote()
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				content, err := c.ContractContent(cmd.Context(), projectID, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, content)
				return nil
			}
			contracts, err := c.Contracts(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tSIZE")
			for _, ct := range contracts {
				fmt.Fprintf(tw, "%s\t%d\n", ct.File, ct.Size)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
