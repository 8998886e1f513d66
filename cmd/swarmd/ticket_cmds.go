package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/h1v3-io/swarm/internal/agent"
	"github.com/h1v3-io/swarm/internal/ticket"
	"github.com/h1v3-io/swarm/pkg/protocol"
)

var ticketCmd = &cobra.Command{
	Use:   "ticket",
	Short: "Manage tickets in the store",
}

var (
	newID          string
	newDescription string
	newCriteria    []string
	newPriority    string
	newType        string

	listStatus   string
	listAssignee string
	listQuery    string
	listLimit    int

	showMarkdown bool
)

var ticketCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Add a backlog ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		id := newID
		if id == "" {
			id = ticket.NewID()
		}
		t := protocol.NewTicket(id, args[0])
		t.Description = newDescription
		t.AcceptanceCriteria = newCriteria
		t.CreatedBy = "cli"
		if newPriority != "" {
			t.Priority = protocol.Priority(newPriority)
		}
		if newType != "" {
			t.Type = protocol.TicketType(newType)
		}
		if err := store.Create(t); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.ID)
		return nil
	},
}

var ticketListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickets in selection order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		filter := ticket.Filter{
			Assignee: protocol.RoleID(listAssignee),
			Query:    listQuery,
			Limit:    listLimit,
		}
		if listStatus != "" {
			st := protocol.TicketStatus(listStatus)
			if !st.Valid() {
				return fmt.Errorf("unknown status %q", listStatus)
			}
			filter.Status = &st
		}
		tickets, err := store.List(filter)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tASSIGNEE\tTITLE")
		for _, t := range tickets {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Priority, t.Implementation.AssignedTo, t.Title)
		}
		return w.Flush()
	},
}

var ticketShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a ticket as JSON, or as the markdown roles see with --markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		t, err := store.Get(args[0])
		if err != nil {
			return err
		}
		if !showMarkdown {
			return printJSON(cmd.OutOrStdout(), t)
		}
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
		if err != nil {
			return err
		}
		out, err := r.Render(agent.FormatTicket(t))
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), out)
		return err
	},
}

var ticketImportCmd = &cobra.Command{
	Use:   "import <dir-or-file>",
	Short: "Load tickets from YAML files",
	Long: `Loads one ticket per YAML file. Given a directory, every *.yaml and *.yml
file in it is read in name order. Existing tickets with the same id are
overwritten.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tickets, err := loadTickets(args[0])
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := ticket.Import(store, tickets)
		if err != nil {
			return fmt.Errorf("imported %d of %d: %w", n, len(tickets), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d tickets\n", n)
		return nil
	},
}

var ticketDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a ticket and its comments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Delete(args[0])
	},
}

func loadTickets(path string) ([]*protocol.Ticket, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return ticket.LoadYAMLDir(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := ticket.ParseYAML(data)
	if err != nil {
		return nil, err
	}
	return []*protocol.Ticket{t}, nil
}

func init() {
	f := ticketCreateCmd.Flags()
	f.StringVar(&newID, "id", "", "ticket id (generated when empty)")
	f.StringVarP(&newDescription, "description", "d", "", "description")
	f.StringArrayVar(&newCriteria, "criteria", nil, "acceptance criterion, repeatable")
	f.StringVar(&newPriority, "priority", "", "critical, high, medium or low")
	f.StringVar(&newType, "type", "", "feature, bug, refactor, chore or spike")

	f = ticketListCmd.Flags()
	f.StringVar(&listStatus, "status", "", "only tickets with this status")
	f.StringVar(&listAssignee, "assignee", "", "only tickets assigned to this role")
	f.StringVarP(&listQuery, "query", "q", "", "text search on title and description")
	f.IntVar(&listLimit, "limit", 0, "max results")

	ticketShowCmd.Flags().BoolVarP(&showMarkdown, "markdown", "m", false, "render the ticket as markdown")

	ticketCmd.AddCommand(ticketCreateCmd, ticketListCmd, ticketShowCmd, ticketImportCmd, ticketDeleteCmd)
}
