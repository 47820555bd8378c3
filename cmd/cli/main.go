package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type checkResult struct {
	OK           bool   `json:"ok"`
	TargetID     string `json:"targetId"`
	State        string `json:"state"`
	StatusCode   *int   `json:"statusCode"`
	ElapsedMs    int64  `json:"elapsedMs"`
	ErrorMessage string `json:"errorMessage"`
}

func main() {
	target := flag.String("target", "", "catalog target id whose content signatures apply (optional)")
	flag.Parse()

	api := os.Getenv("API_BASE")
	if api == "" {
		api = "http://localhost:8080"
	}

	raw := strings.TrimSpace(flag.Arg(0))
	if raw == "" {
		reader := bufio.NewReader(os.Stdin)
		fmt.Print("Enter a site URL to check (e.g., https://example.com): ")
		raw, _ = reader.ReadString('\n')
		raw = strings.TrimSpace(raw)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	if _, err := url.ParseRequestURI(raw); err != nil {
		fmt.Println("Invalid URL.")
		os.Exit(2)
	}

	body, _ := json.Marshal(map[string]string{"url": raw, "targetId": *target})
	req, err := http.NewRequest(http.MethodPost, api+"/api/check", bytes.NewReader(body))
	if err != nil {
		fmt.Println("Error building request:", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := os.Getenv("API_KEY"); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Println("Error contacting API:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		fmt.Println("API returned status:", resp.Status)
		os.Exit(1)
	}
	var res checkResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		fmt.Println("Unreadable response:", err)
		os.Exit(1)
	}

	code := "-"
	if res.StatusCode != nil {
		code = fmt.Sprint(*res.StatusCode)
	}
	fmt.Printf("%s  state=%s  http=%s  %dms\n", raw, res.State, code, res.ElapsedMs)
	if res.ErrorMessage != "" {
		fmt.Println("  ", res.ErrorMessage)
	}
	if !res.OK {
		os.Exit(3)
	}
}
