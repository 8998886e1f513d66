package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/swarm/internal/agent"
)

var (
	activityType   string
	activityRole   string
	activityTicket string
	activityLimit  int

	initName        string
	initDescription string
	initLanguages   []string
	initForce       bool
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show recent entries of the activity log",
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := agent.ReadActivity(cfg.ActivityPath(), agent.ActivityFilter{
			Type:   activityType,
			Agent:  activityRole,
			Ticket: activityTicket,
		}, activityLimit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No activity recorded.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTYPE\tROLE\tTICKET\tDETAIL")
		for _, e := range events {
			ts, _ := e["ts"].(string)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ts, e.Type(), e.Agent(), e.Ticket(), activityDetail(e))
		}
		return w.Flush()
	},
}

// activityDetail summarizes the event-specific fields.
func activityDetail(e agent.ActivityEvent) string {
	str := func(k string) string {
		if v, ok := e[k]; ok {
			return fmt.Sprint(v)
		}
		return ""
	}
	outcome := func() string {
		if b, _ := e["success"].(bool); b {
			return "ok"
		}
		return "failed"
	}
	switch e.Type() {
	case agent.EventToolCall:
		return fmt.Sprintf("%s %s (%sms)", str("tool"), outcome(), str("duration_ms"))
	case agent.EventRoleComplete:
		return str("action") + " " + outcome()
	case agent.EventHandoff:
		return "-> " + str("to_agent")
	case agent.EventStatusChange:
		return str("old") + " -> " + str("new")
	case agent.EventRoleStart:
		return str("kind") + " from " + str("from")
	case agent.EventCycle:
		return "cycle " + str("cycle") + ": " + str("result")
	}
	return ""
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Describe the workspace project for the roles",
	Long: `init writes .hive/project.yaml in the workspace and creates docs/adr.
Roles see the project file, ARCHITECTURE.md and the latest ADRs in their
system prompt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := initName
		if name == "" {
			abs, err := filepath.Abs(cfg.Workspace)
			if err != nil {
				return err
			}
			name = filepath.Base(abs)
		}
		var pc agent.ProjectConfig
		pc.Name = name
		pc.Description = initDescription
		pc.TechStack.Languages = initLanguages

		got, err := agent.NewProject(cfg.Workspace).Init(pc, initForce)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s (%s)\n", got.Name, strings.Join(got.TechStack.Languages, ", "))
		return nil
	},
}

func init() {
	activityCmd.Flags().StringVar(&activityType, "type", "", "only events of this type (tool_call, agent_start, ...)")
	activityCmd.Flags().StringVar(&activityRole, "role", "", "only events of this role")
	activityCmd.Flags().StringVar(&activityTicket, "ticket", "", "only events about this ticket")
	activityCmd.Flags().IntVarP(&activityLimit, "limit", "n", 50, "number of events to show (0 for all)")

	initCmd.Flags().StringVar(&initName, "name", "", "project name (default: workspace directory name)")
	initCmd.Flags().StringVar(&initDescription, "description", "", "one-line project description")
	initCmd.Flags().StringSliceVar(&initLanguages, "language", nil, "languages in use (default: detected)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing project file")
}
