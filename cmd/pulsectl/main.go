package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	apiclient "github.com/pulseboard/pulseboard/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL string `json:"api_base_url"`
	AdminToken string `json:"admin_token"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "status":
		err = commandStatus(args)
	case "health":
		err = commandHealth(args)
	case "metrics":
		err = commandMetrics(args)
	case "alerts":
		err = commandAlerts(args)
	case "queue":
		err = commandQueue(args)
	case "stats":
		err = commandStats(args)
	case "overview":
		err = commandOverview(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	apiBase := fs.String("api", "", "API base URL (default http://localhost:8080)")
	token := fs.String("token", "", "Admin token (supply to avoid prompt)")
	fs.Parse(args)

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	} else if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:8080"
	}

	secret := strings.TrimSpace(*token)
	if secret == "" {
		fmt.Print("Admin token (leave empty for read-only use): ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		secret = strings.TrimSpace(string(raw))
	}

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	status, err := client.Status(ctx)
	if err != nil {
		return err
	}
	cfg.AdminToken = secret
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("connected to %s (service %s, signature validation %s)\n", cfg.APIBaseURL, status.Service, status.SignatureValidation)
	return nil
}

func commandStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Parse(args)

	_, client, err := clientFromConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	status, err := client.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("service:              %s\n", status.Service)
	fmt.Printf("uptime:               %s\n", time.Duration(status.UptimeSeconds)*time.Second)
	fmt.Printf("signature validation: %s\n", status.SignatureValidation)
	printStatistics(status.Statistics)
	return nil
}

func commandHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	fs.Parse(args)

	_, client, err := clientFromConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	report, err := client.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("status: %s\n", report.Status)
	for name, component := range report.Components {
		if component.Error != "" {
			fmt.Printf("%s\t%s\t%s\n", name, component.Status, component.Error)
			continue
		}
		fmt.Printf("%s\t%s\n", name, component.Status)
	}
	return nil
}

func commandMetrics(args []string) error {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	timeframe := fs.String("timeframe", "24h", "Window: 1h, 6h, 24h or 7d")
	fs.Parse(args)

	_, client, err := clientFromConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	metrics, err := client.Metrics(ctx, *timeframe)
	if err != nil {
		return err
	}
	fmt.Printf("timeframe:    %s (%s to %s)\n", metrics.Timeframe,
		metrics.WindowStart.Format(time.RFC3339), metrics.WindowEnd.Format(time.RFC3339))
	fmt.Printf("received:     %d\n", metrics.Received)
	fmt.Printf("processed:    %d\n", metrics.Processed)
	fmt.Printf("failed:       %d\n", metrics.Failed)
	fmt.Printf("duplicates:   %d\n", metrics.Duplicates)
	fmt.Printf("success rate: %.1f%%\n", metrics.SuccessRate)
	fmt.Printf("avg latency:  %.1fms (max %.1fms)\n", metrics.AverageProcessingTimeMs, metrics.MaxProcessingTimeMs)
	for eventType, count := range metrics.ByEventType {
		fmt.Printf("%s\t%d\n", eventType, count)
	}
	return nil
}

func commandAlerts(args []string) error {
	if len(args) > 0 && args[0] == "configure" {
		return alertsConfigure(args[1:])
	}
	return alertsShow(args)
}

func alertsShow(args []string) error {
	fs := flag.NewFlagSet("alerts", flag.ExitOnError)
	fs.Parse(args)

	_, client, err := clientFromConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	report, err := client.Alerts(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("overall: %s (evaluated %s)\n", report.Overall, report.EvaluatedAt.Format(time.RFC3339))
	for _, metric := range []string{"successRate", "processingTime", "errorRate", "queueSize"} {
		fmt.Printf("%s\t%s\n", metric, report.Metrics[metric])
	}
	printThresholds(report.Thresholds)
	return nil
}

func alertsConfigure(args []string) error {
	fs := flag.NewFlagSet("alerts configure", flag.ExitOnError)
	successRate := fs.Float64("success-rate", 0, "Minimum success rate percentage")
	processingMs := fs.Float64("processing-ms", 0, "Maximum average processing time in ms")
	errorRate := fs.Float64("error-rate", 0, "Maximum error rate percentage")
	queueSize := fs.Int("queue-size", 0, "Maximum queue depth")
	fs.Parse(args)

	var update apiclient.ThresholdUpdate
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "success-rate":
			update.SuccessRate = successRate
		case "processing-ms":
			update.ProcessingTimeMs = processingMs
		case "error-rate":
			update.ErrorRate = errorRate
		case "queue-size":
			update.QueueSize = queueSize
		}
	})
	if update.SuccessRate == nil && update.ProcessingTimeMs == nil && update.ErrorRate == nil && update.QueueSize == nil {
		return errors.New("supply at least one threshold flag")
	}

	cfg, client, err := clientFromConfig()
	if err != nil {
		return err
	}
	token, err := requireToken(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	thresholds, err := client.ConfigureAlerts(ctx, token, update)
	if err != nil {
		return err
	}
	fmt.Println("thresholds updated")
	printThresholds(thresholds)
	return nil
}

func commandQueue(args []string) error {
	if len(args) == 0 || args[0] != "clear" {
		return errors.New("usage: pulsectl queue clear")
	}
	cfg, client, err := clientFromConfig()
	if err != nil {
		return err
	}
	token, err := requireToken(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cleared, err := client.ClearQueue(ctx, token)
	if err != nil {
		return err
	}
	fmt.Printf("queue cleared: %d entries\n", cleared)
	return nil
}

func commandStats(args []string) error {
	if len(args) == 0 || args[0] != "reset" {
		return errors.New("usage: pulsectl stats reset")
	}
	cfg, client, err := clientFromConfig()
	if err != nil {
		return err
	}
	token, err := requireToken(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := client.ResetStatistics(ctx, token); err != nil {
		return err
	}
	fmt.Println("statistics reset")
	return nil
}

func commandOverview(args []string) error {
	fs := flag.NewFlagSet("overview", flag.ExitOnError)
	period := fs.String("period", "", "Period: sprint, month, quarter or year")
	product := fs.String("product", "", "Product (project) identifier")
	sprint := fs.String("sprint", "", "Sprint identifier")
	from := fs.String("from", "", "Range start (YYYY-MM-DD)")
	to := fs.String("to", "", "Range end (YYYY-MM-DD)")
	fs.Parse(args)

	_, client, err := clientFromConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	overview, err := client.Overview(ctx, apiclient.OverviewFilters{
		Period:    *period,
		ProductID: *product,
		SprintID:  *sprint,
		StartDate: *from,
		EndDate:   *to,
	})
	if err != nil {
		return err
	}
	meta := overview.Metadata
	fmt.Printf("period: %s (%s to %s, source %s, %d items)\n", meta.Period,
		meta.StartDate.Format("2006-01-02"), meta.EndDate.Format("2006-01-02"), meta.Source, meta.ItemCount)
	kpis := overview.KPIs
	fmt.Printf("velocity:        %.1f\n", kpis.Velocity)
	fmt.Printf("points:          %.1f of %.1f (%.1f%%)\n", kpis.CompletedPoints, kpis.TotalPoints, kpis.CompletionRate)
	fmt.Printf("open bugs:       %d\n", kpis.BugCount)
	fmt.Printf("profit/loss:     %.2f (revenue %.2f, cost %.2f)\n", kpis.ProfitLoss, kpis.Revenue, kpis.Cost)
	fmt.Printf("satisfaction:    %.1f (%d responses)\n", kpis.Satisfaction, kpis.Responses)
	if len(overview.Charts.Distribution) > 0 {
		fmt.Println("work item types:")
		for _, slice := range overview.Charts.Distribution {
			fmt.Printf("%s\t%d\n", slice.Type, slice.Count)
		}
	}
	return nil
}

func printStatistics(stats apiclient.Statistics) {
	fmt.Printf("received:             %d\n", stats.TotalReceived)
	fmt.Printf("processed:            %d\n", stats.TotalProcessed)
	fmt.Printf("failed:               %d\n", stats.TotalFailed)
	fmt.Printf("duplicates:           %d\n", stats.TotalDuplicates)
	fmt.Printf("success rate:         %.1f%%\n", stats.SuccessRate)
	fmt.Printf("avg processing time:  %.1fms\n", stats.AverageProcessingTimeMs)
	fmt.Printf("queue size:           %d\n", stats.QueueSize)
}

func printThresholds(thresholds apiclient.Thresholds) {
	fmt.Printf("thresholds: success rate %.1f%%, processing %.0fms, error rate %.1f%%, queue %d\n",
		thresholds.SuccessRate, thresholds.ProcessingTimeMs, thresholds.ErrorRate, thresholds.QueueSize)
}

func clientFromConfig() (cliConfig, *apiclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cliConfig{}, nil, err
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return cliConfig{}, nil, err
	}
	return cfg, client, nil
}

func requireToken(cfg cliConfig) (string, error) {
	token := strings.TrimSpace(cfg.AdminToken)
	if token == "" {
		return "", errors.New("admin token required, run 'pulsectl login' first")
	}
	return token, nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: "http://localhost:8080"}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:8080"
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "pulseboard", "config.json"), nil
}

func printUsage() {
	fmt.Printf("pulsectl %s\n\n", buildVersion)
	fmt.Print(`Usage:
	pulsectl login [--api http://localhost:8080] [--token secret]
	pulsectl status
	pulsectl health
	pulsectl metrics [--timeframe 1h|6h|24h|7d]
	pulsectl alerts
	pulsectl alerts configure [--success-rate N] [--processing-ms N] [--error-rate N] [--queue-size N]
	pulsectl queue clear
	pulsectl stats reset
	pulsectl overview [--period sprint|month|quarter|year] [--product id] [--sprint id] [--from YYYY-MM-DD] [--to YYYY-MM-DD]
	pulsectl version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
