// Package main provides a minimal readiness probe for the schedule server.
// It issues a GET against the readiness endpoint and exits with code 0 on a
// 2xx response, so container images can use it as their HEALTHCHECK command
// without shipping curl.
// Usage: healthcheck [url]   (default http://localhost:8080/readyz)
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

func main() {
	url := "http://localhost:8080/readyz"
	if v := os.Getenv("SCHED_HEALTHCHECK_URL"); v != "" {
		url = v
	}
	if len(os.Args) > 1 {
		url = os.Args[1]
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		fmt.Fprintf(os.Stderr, "healthcheck failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
}
