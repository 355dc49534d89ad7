// nexus-watch polls the analysis endpoint for a live call and prints
// each fresh result, for keeping an eye on a call from a terminal.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"reflect"
	"strings"
	"time"
)

type analysis struct {
	Sentiment      string   `json:"sentiment"`
	Confidence     float64  `json:"confidence"`
	KeyPoints      []string `json:"key_points"`
	Recommendation string   `json:"recommendation_to_salesperson"`
}

type analysisResponse struct {
	CallID   string    `json:"call_id"`
	Analysis *analysis `json:"analysis"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "nexus API base URL")
	callID := flag.String("call", "", "call id to watch")
	interval := flag.Duration("interval", time.Second, "poll interval")
	flag.Parse()

	if *callID == "" {
		fmt.Fprintln(os.Stderr, "usage: nexus-watch -call <call_id> [-url ...] [-interval ...]")
		os.Exit(2)
	}

	endpoint := strings.TrimRight(*baseURL, "/") + "/api/v1/analysis/" + *callID
	client := &http.Client{Timeout: 5 * time.Second}

	fmt.Printf("watching %s\n", *callID)
	var last *analysis
	for {
		cur, err := fetch(client, endpoint)
		switch {
		case err != nil:
			fmt.Fprintf(os.Stderr, "poll failed: %v\n", err)
		case cur != nil && !reflect.DeepEqual(cur, last):
			printAnalysis(cur)
			last = cur
		}
		time.Sleep(*interval)
	}
}

func fetch(client *http.Client, endpoint string) (*analysis, error) {
	resp, err := client.Get(endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("unknown call")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var body analysisResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Analysis, nil
}

func printAnalysis(a *analysis) {
	fmt.Printf("\n[%s] %s (%.0f%% confidence)\n",
		time.Now().Format("15:04:05"), strings.ToUpper(a.Sentiment), a.Confidence*100)
	for _, p := range a.KeyPoints {
		fmt.Printf("  - %s\n", p)
	}
	if a.Recommendation != "" {
		fmt.Printf("  => %s\n", a.Recommendation)
	}
}
