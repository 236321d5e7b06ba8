package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"futurescore/internal/ensemble"
	"futurescore/pkg/config"
	"futurescore/pkg/db"
)

type HealthStatus struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthReport struct {
	Overall  string         `json:"overall"`
	Services []HealthStatus `json:"services"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	fmt.Println("Control Plane Health Check")
	fmt.Println("===========================")
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report := HealthReport{
		Overall:  "HEALTHY",
		Services: make([]HealthStatus, 0),
	}

	report.Services = append(report.Services, checkConfig())
	report.Services = append(report.Services, checkDatabase())
	report.Services = append(report.Services, checkEnsembleProviders(ctx))
	report.Services = append(report.Services, checkAPIServer(ctx))

	for _, svc := range report.Services {
		if svc.Status == "UNHEALTHY" {
			report.Overall = "UNHEALTHY"
			break
		} else if svc.Status == "DEGRADED" && report.Overall != "UNHEALTHY" {
			report.Overall = "DEGRADED"
		}
	}

	fmt.Println()
	fmt.Println("Results:")
	fmt.Println("--------")
	for _, svc := range report.Services {
		statusIcon := "OK"
		if svc.Status == "UNHEALTHY" {
			statusIcon = "FAIL"
		} else if svc.Status == "DEGRADED" {
			statusIcon = "WARN"
		}
		fmt.Printf("[%-4s] %-20s %s %s\n", statusIcon, svc.Service, svc.Status, svc.Message)
	}

	fmt.Println()
	fmt.Printf("Overall Status: %s\n", report.Overall)

	if len(os.Args) > 1 && os.Args[1] == "--json" {
		jsonData, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(jsonData))
	}

	if report.Overall == "UNHEALTHY" {
		os.Exit(1)
	}
}

func checkConfig() HealthStatus {
	status := HealthStatus{
		Service:   "Configuration",
		Status:    "HEALTHY",
		Timestamp: time.Now(),
	}

	cfg, err := config.Load()
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Failed to load: %v", err)
		return status
	}

	if cfg.Port == "" {
		status.Status = "DEGRADED"
		status.Message = "Port not configured"
		return status
	}

	status.Message = fmt.Sprintf("Port=%s", cfg.Port)
	return status
}

func checkDatabase() HealthStatus {
	status := HealthStatus{
		Service:   "Database",
		Status:    "HEALTHY",
		Timestamp: time.Now(),
	}

	cfg, err := config.Load()
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Config load failed: %v", err)
		return status
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Open failed: %v", err)
		return status
	}
	defer database.Close()

	if err := db.ApplyMigrations(database); err != nil {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("Migrations not applied: %v", err)
		return status
	}

	status.Message = fmt.Sprintf("Path=%s", cfg.DBPath)
	return status
}

// checkEnsembleProviders dials every configured Ensemble Vote gRPC provider
// (§4.M) and reports how many are reachable: unhealthy when none are,
// degraded when only some are; a pool with no providers configured
// degrades rather than fails, since single-source fusion is a supported mode.
func checkEnsembleProviders(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Service:   "Ensemble Providers",
		Status:    "HEALTHY",
		Timestamp: time.Now(),
	}

	cfg, err := config.Load()
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Config load failed: %v", err)
		return status
	}

	if len(cfg.EnsembleProviderAddrs) == 0 {
		status.Status = "DEGRADED"
		status.Message = "No providers configured, running single-source"
		return status
	}

	reachable := 0
	for _, addr := range cfg.EnsembleProviderAddrs {
		tr, err := ensemble.Dial(addr)
		if err != nil {
			continue
		}
		reachable++
		tr.Close()
	}

	if reachable == 0 {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("0/%d providers reachable", len(cfg.EnsembleProviderAddrs))
		return status
	}
	if reachable < len(cfg.EnsembleProviderAddrs) {
		status.Status = "DEGRADED"
	}
	status.Message = fmt.Sprintf("%d/%d providers reachable", reachable, len(cfg.EnsembleProviderAddrs))
	return status
}

func checkAPIServer(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Service:   "API Server",
		Status:    "HEALTHY",
		Timestamp: time.Now(),
	}

	cfg, err := config.Load()
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Config load failed: %v", err)
		return status
	}
	url := fmt.Sprintf("http://localhost:%s/health", cfg.Port)

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Bad request: %v", err)
		return status
	}
	resp, err := client.Do(req)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Not reachable: %v", err)
		return status
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return status
	}

	status.Message = "Running"
	return status
}
