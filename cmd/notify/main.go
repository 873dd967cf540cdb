// Command notify tells a ProcPlan server that a reservation finished early
// so the remaining window frees up. Intended to run as the last step of a
// batch job.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ulvgard/procplan/internal/netutils"
)

func main() {
	url := flag.String("url", "", "Base URL of the ProcPlan server, e.g. http://localhost:8080")
	reservationID := flag.Int64("reservation-id", 0, "Reservation identifier to mark as complete")
	timeout := flag.Duration("timeout", 5*time.Second, "Request timeout")
	insecure := flag.Bool("insecure", false, "Skip TLS certificate verification")
	flag.Parse()

	if *url == "" || *reservationID <= 0 {
		fmt.Fprintln(os.Stderr, "both -url and a positive -reservation-id are required")
		flag.Usage()
		os.Exit(2)
	}

	body, _ := json.Marshal(map[string]int64{"reservation_id": *reservationID})
	endpoint := strings.TrimSuffix(*url, "/") + "/api/mark_done"

	client := netutils.NewClient(*timeout, *insecure)
	resp, err := client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to contact server: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		fmt.Printf("Reservation %d marked complete (status %d).\n", *reservationID, resp.StatusCode)
		return
	}

	msg, _ := io.ReadAll(resp.Body)
	fmt.Fprintf(os.Stderr, "failed to mark reservation complete (status %d): %s\n", resp.StatusCode, strings.TrimSpace(string(msg)))
	os.Exit(1)
}
