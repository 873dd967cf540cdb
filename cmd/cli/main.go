package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ulvgard/procplan/internal/models"
	"github.com/ulvgard/procplan/internal/netutils"
)

var (
	serverURL string
	insecure  bool
)

func main() {
	defaultURL := os.Getenv("PROCPLAN_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}

	rootCmd := &cobra.Command{Use: "procplan"}
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", defaultURL, "Base URL of the ProcPlan server")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification")

	nodesCmd := &cobra.Command{
		Use:   "nodes",
		Short: "List nodes and their GPUs",
		RunE:  listNodes,
	}

	var nodeID string
	var date string
	gridCmd := &cobra.Command{
		Use:   "grid",
		Short: "Show the day-resolution booking grid for a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showGrid(nodeID, date)
		},
	}
	gridCmd.Flags().StringVar(&nodeID, "node", "", "Node id (defaults to the host name)")
	gridCmd.Flags().StringVar(&date, "date", "", "Inspect one UTC day (YYYY-MM-DD); defaults to the current week")

	rootCmd.AddCommand(nodesCmd, gridCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func listNodes(cmd *cobra.Command, args []string) error {
	var payload struct {
		Nodes []models.Node `json:"nodes"`
	}
	if err := fetchJSON("/api/nodes", nil, &payload); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tGPUS\tKINDS")
	for _, n := range payload.Nodes {
		kinds := map[string]int{}
		for _, g := range n.GPUs {
			kinds[g.Kind]++
		}
		parts := make([]string, 0, len(kinds))
		for _, g := range n.GPUs {
			if c, ok := kinds[g.Kind]; ok {
				parts = append(parts, fmt.Sprintf("%dx %s", c, g.Kind))
				delete(kinds, g.Kind)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", n.ID, n.Name, n.GPUCount, strings.Join(parts, ", "))
	}
	return w.Flush()
}

func showGrid(nodeID, date string) error {
	if nodeID == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("no --node given and hostname lookup failed: %w", err)
		}
		nodeID = host
	}

	start, end, err := gridWindow(date)
	if err != nil {
		return err
	}

	var grid models.Availability
	query := url.Values{
		"node_id":     {nodeID},
		"start":       {start.Format(time.RFC3339)},
		"end":         {end.Format(time.RFC3339)},
		"granularity": {string(models.ResolutionDay)},
	}
	if err := fetchJSON("/api/availability", query, &grid); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := []string{"GPU"}
	for _, day := range grid.Days {
		header = append(header, day.Start.Format("2006-01-02"))
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))

	for _, row := range grid.Rows {
		cells := []string{fmt.Sprintf("%s (%s)", row.GPU.ID, row.GPU.Kind)}
		for _, slot := range row.DaySlots {
			cells = append(cells, renderSlot(slot))
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	return w.Flush()
}

func renderSlot(slot models.DaySlot) string {
	if slot.Booking == nil {
		return "-"
	}
	label := slot.Booking.UserLabel
	priority := strings.ToUpper(string(slot.Booking.Priority)[:1]) + string(slot.Booking.Priority)[1:]
	if label == "" {
		return priority
	}
	return fmt.Sprintf("%s (%s, %d/%dh)", label, priority, slot.BookedHours, slot.TotalHours)
}

// gridWindow covers one UTC day when a date is given, otherwise the current
// week from Monday 00:00 to the next Monday.
func gridWindow(date string) (time.Time, time.Time, error) {
	if date != "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --date %q: %w", date, err)
		}
		return day, day.AddDate(0, 0, 1), nil
	}

	now := time.Now().UTC()
	monday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for monday.Weekday() != time.Monday {
		monday = monday.AddDate(0, 0, -1)
	}
	return monday, monday.AddDate(0, 0, 7), nil
}

func fetchJSON(path string, query url.Values, out any) error {
	u := strings.TrimSuffix(serverURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	client := netutils.NewClient(10*time.Second, insecure)
	resp, err := client.Get(u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
