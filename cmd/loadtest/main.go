// Command loadtest hammers the availability read path of a running server
// with concurrent workers and reports throughput and latency.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ulvgard/procplan/internal/models"
	"github.com/ulvgard/procplan/internal/netutils"
)

var (
	serverURL      string
	concurrency    int
	readsPerWorker int
	windowHours    int
)

func init() {
	flag.StringVar(&serverURL, "url", "http://localhost:8080", "Server URL")
	flag.IntVar(&concurrency, "c", 10, "Number of concurrent workers")
	flag.IntVar(&readsPerWorker, "n", 100, "Availability reads per worker")
	flag.IntVar(&windowHours, "hours", 24, "Queried window length in hours")
}

// Stats
var (
	successCount int64
	failCount    int64
	totalLatency int64 // microseconds
)

func main() {
	flag.Parse()

	nodes, err := fetchNodeIDs()
	if err != nil {
		fmt.Printf("failed to list nodes: %v\n", err)
		return
	}
	if len(nodes) == 0 {
		fmt.Println("server has no nodes, nothing to query")
		return
	}

	totalReads := concurrency * readsPerWorker
	fmt.Printf("Starting load test: %d workers, %d reads each (%d total) across %d nodes\n",
		concurrency, readsPerWorker, totalReads, len(nodes))
	fmt.Printf("Target: %s\n", serverURL)

	start := time.Now()
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			worker(id, nodes)
		}(i)
	}

	wg.Wait()
	duration := time.Since(start)

	tps := float64(totalReads) / duration.Seconds()
	avgLatency := time.Duration(atomic.LoadInt64(&totalLatency) / int64(totalReads) * int64(time.Microsecond))

	fmt.Printf("\n--- Results (%d total) ---\n", totalReads)
	fmt.Printf("Duration: %v (%.2f reads/sec)\n", duration, tps)
	fmt.Printf("Latency:  avg=%v\n", avgLatency)
	fmt.Printf("Status:   %d ok, %d failed\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&failCount))
}

func worker(id int, nodes []string) {
	client := netutils.NewClient(10*time.Second, false)
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

	dayStart := time.Now().UTC().Truncate(time.Hour)
	resolutions := []models.Resolution{models.ResolutionHour, models.ResolutionDay}

	for j := 0; j < readsPerWorker; j++ {
		nodeID := nodes[rng.Intn(len(nodes))]
		start := dayStart.Add(time.Duration(rng.Intn(72)) * time.Hour)
		end := start.Add(time.Duration(windowHours) * time.Hour)

		query := url.Values{
			"node_id":     {nodeID},
			"start":       {start.Format(time.RFC3339)},
			"end":         {end.Format(time.RFC3339)},
			"granularity": {string(resolutions[rng.Intn(len(resolutions))])},
		}

		reqStart := time.Now()
		resp, err := client.Get(strings.TrimSuffix(serverURL, "/") + "/api/availability?" + query.Encode())
		atomic.AddInt64(&totalLatency, time.Since(reqStart).Microseconds())

		if err != nil || resp.StatusCode != 200 {
			atomic.AddInt64(&failCount, 1)
			if err != nil {
				if j%10 == 0 {
					fmt.Printf("[W%d] Error: %v\n", id, err)
				}
			} else {
				fmt.Printf("[W%d] Status: %d\n", id, resp.StatusCode)
				resp.Body.Close()
			}
			continue
		}

		// consume body to reuse keep-alive
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		atomic.AddInt64(&successCount, 1)
	}
}

func fetchNodeIDs() ([]string, error) {
	client := netutils.NewClient(10*time.Second, false)
	resp, err := client.Get(strings.TrimSuffix(serverURL, "/") + "/api/nodes")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Nodes []models.Node `json:"nodes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(payload.Nodes))
	for _, n := range payload.Nodes {
		ids = append(ids, n.ID)
	}
	return ids, nil
}
