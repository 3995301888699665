package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/marketplace-settlements/internal/config"
	"github.com/ksred/marketplace-settlements/internal/marketplace"
	"github.com/ksred/marketplace-settlements/internal/settlement"
	"github.com/ksred/marketplace-settlements/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	numPartners       = 5
	productsPerOwner  = 4
	minOrders         = 50
	maxOrders         = 300
	orderBatchSize    = 25
	numWorkers        = 5
	defaultServerAddr = "http://localhost:8080"
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the settlement API
type simulationClient struct {
	baseURL     string
	internalKey string
	authToken   string
	client      *http.Client

	mu    sync.Mutex
	stats map[string]*routeStats
}

// newSimulationClient creates a client and authenticates as platform admin
func newSimulationClient(baseURL string, cfg *config.Config) (*simulationClient, error) {
	sc := &simulationClient{
		baseURL:     baseURL,
		internalKey: cfg.Auth.InternalKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		stats: map[string]*routeStats{
			"auth":     {name: "Authentication"},
			"partners": {name: "Push Partners"},
			"products": {name: "Push Products"},
			"orders":   {name: "Push Orders"},
			"partner":  {name: "Partner Settlement"},
			"report":   {name: "Partner Report"},
			"monthly":  {name: "Monthly Summary"},
			"export":   {name: "Monthly Export"},
			"run":      {name: "Run Batch"},
		},
	}

	token, err := sc.authenticate(cfg.Auth.AdminAPIKey, cfg.Auth.AdminAPISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

func (sc *simulationClient) record(route string, start time.Time, err error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	stats := sc.stats[route]
	stats.addDuration(time.Since(start))
	if err != nil {
		stats.failures++
	}
}

// do sends a request and decodes the data field of the response envelope
// into out. Raw bodies are returned for non-JSON responses.
func (sc *simulationClient) do(route string, req *http.Request, out interface{}) (body []byte, err error) {
	start := time.Now()
	defer func() {
		sc.record(route, start, err)
	}()

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("route", route).Str("response", string(body)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%s failed with status %d: %s", route, resp.StatusCode, string(body))
	}
	if out == nil {
		return body, nil
	}

	envelope := struct {
		Success bool        `json:"success"`
		Data    interface{} `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(body))
	}
	return body, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, sc.baseURL+"/api/v1/auth/token", bytes.NewBuffer(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var result struct {
		Token string `json:"jwt_token"`
	}
	if _, err := sc.do("auth", req, &result); err != nil {
		return "", err
	}
	return result.Token, nil
}

// push sends a batch of snapshot records to an internal ingestion route
func (sc *simulationClient) push(route, path string, payload interface{}) (*marketplace.IngestResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, sc.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Key", sc.internalKey)
	req.Header.Set(marketplace.IdempotencyKeyHeader, uuid.New().String())

	var result marketplace.IngestResult
	if _, err := sc.do(route, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (sc *simulationClient) get(route, path string, out interface{}) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, sc.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	return sc.do(route, req, out)
}

func (sc *simulationClient) runBatch() (*settlement.RunRecord, error) {
	req, err := http.NewRequest(http.MethodPost, sc.baseURL+"/api/v1/settlements/automation/run", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Idempotency-Key", uuid.New().String())

	var run settlement.RunRecord
	if _, err := sc.do("run", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	routes := make([]string, 0, len(sc.stats))
	for route := range sc.stats {
		routes = append(routes, route)
	}
	sort.Strings(routes)

	for _, route := range routes {
		stats := sc.stats[route]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// catalog is the generated marketplace the simulation pushes
type catalog struct {
	partners []types.Partner
	products []types.Product
	owned    map[string][]types.Product // products a partner may sell
}

func generateCatalog(runID string) *catalog {
	c := &catalog{owned: make(map[string][]types.Product)}

	var platform []types.Product
	for i := 0; i < productsPerOwner; i++ {
		price := decimal.NewFromInt(int64(rand.Intn(200) + 20)).Add(decimal.RequireFromString("0.99"))
		wholesale := price.Mul(decimal.NewFromFloat(0.4 + rand.Float64()*0.3)).Round(2)
		platform = append(platform, types.Product{
			ProductID:     fmt.Sprintf("SIM_%s_MAIN_%d", runID, i),
			Name:          fmt.Sprintf("Platform item %d", i),
			Type:          types.ProductTypePlatformSupplied,
			Price:         price,
			WholesaleCost: decimal.NewNullDecimal(wholesale),
		})
	}
	c.products = append(c.products, platform...)

	for p := 0; p < numPartners; p++ {
		partnerID := fmt.Sprintf("SIM_%s_P%d", runID, p)
		c.partners = append(c.partners, types.Partner{
			PartnerID: partnerID,
			Name:      fmt.Sprintf("Simulated Partner %d", p),
			Email:     fmt.Sprintf("partner%d@example.com", p),
			Status:    "active",
		})

		owned := append([]types.Product{}, platform...)
		for i := 0; i < productsPerOwner; i++ {
			product := types.Product{
				ProductID: fmt.Sprintf("%s_ITEM_%d", partnerID, i),
				Name:      fmt.Sprintf("Partner %d item %d", p, i),
				Type:      types.ProductTypePartnerUploaded,
				Price:     decimal.NewFromInt(int64(rand.Intn(80) + 5)),
				PartnerID: partnerID,
			}
			c.products = append(c.products, product)
			owned = append(owned, product)
		}
		c.owned[partnerID] = owned
	}
	return c
}

// generateOrders spreads orders across the previous calendar month
func (c *catalog) generateOrders(runID string, count int, period settlement.Period) []types.Order {
	from, to := period.Bounds(time.Local)
	span := to.Sub(from)

	orders := make([]types.Order, 0, count)
	for i := 0; i < count; i++ {
		partner := c.partners[rand.Intn(len(c.partners))]
		owned := c.owned[partner.PartnerID]

		order := types.Order{
			OrderID:     fmt.Sprintf("SIM_%s_ORD_%d", runID, i),
			OrderNumber: fmt.Sprintf("#%s-%05d", runID, i),
			PartnerID:   partner.PartnerID,
			PartnerName: partner.Name,
			CreatedAt:   from.Add(time.Duration(rand.Int63n(int64(span)))),
		}
		for n := rand.Intn(3) + 1; n > 0; n-- {
			product := owned[rand.Intn(len(owned))]
			order.Items = append(order.Items, types.OrderItem{
				ProductID: product.ProductID,
				Price:     product.Price,
				Quantity:  int64(rand.Intn(4) + 1),
			})
		}
		orders = append(orders, order)
	}
	return orders
}

// pushOrdersHTTP submits order batches from the batches channel
// Runs as a worker goroutine, reporting stored counts on results
func pushOrdersHTTP(workerID int, simClient *simulationClient, batches <-chan []types.Order, results chan<- int) {
	for batch := range batches {
		result, err := simClient.push("orders", "/api/v1/internal/orders", marketplace.UpsertOrdersRequest{Orders: batch})
		if err != nil {
			log.Error().Err(err).
				Int("worker_id", workerID).
				Int("batch_size", len(batch)).
				Msg("Failed to push orders")
			results <- 0
			continue
		}

		log.Info().
			Int("worker_id", workerID).
			Int("count", result.Count).
			Msg("Orders pushed")
		results <- result.Count
	}
}

// main seeds a running settlement API with generated marketplace data and
// exercises the settlement endpoints
func main() {
	cfg := config.Load(".env")
	baseURL := os.Getenv("SIM_SERVER_ADDRESS")
	if baseURL == "" {
		baseURL = defaultServerAddr
	}

	simClient, err := newSimulationClient(baseURL, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	startTime := time.Now()
	runID := strings.ToUpper(uuid.New().String()[:8])
	period := settlement.PreviousPeriod(time.Now())
	cat := generateCatalog(runID)

	if _, err := simClient.push("partners", "/api/v1/internal/partners", marketplace.UpsertPartnersRequest{Partners: cat.partners}); err != nil {
		log.Fatal().Err(err).Msg("Failed to push partners")
	}
	if _, err := simClient.push("products", "/api/v1/internal/products", marketplace.UpsertProductsRequest{Products: cat.products}); err != nil {
		log.Fatal().Err(err).Msg("Failed to push products")
	}

	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().
		Int("target_orders", targetOrders).
		Str("period", period.String()).
		Msg("Starting simulation")

	orders := cat.generateOrders(runID, targetOrders, period)
	batches := make(chan []types.Order, len(orders)/orderBatchSize+1)
	for i := 0; i < len(orders); i += orderBatchSize {
		end := i + orderBatchSize
		if end > len(orders) {
			end = len(orders)
		}
		batches <- orders[i:end]
	}
	close(batches)

	results := make(chan int, cap(batches))
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			pushOrdersHTTP(workerID, simClient, batches, results)
		}(i)
	}
	wg.Wait()
	close(results)

	pushed := 0
	for count := range results {
		pushed += count
	}
	log.Info().Int("orders_pushed", pushed).Msg("All orders pushed")

	label := period.String()
	for _, partner := range cat.partners {
		var calc settlement.Calculation
		base := "/api/v1/settlements/partners/" + url.PathEscape(partner.PartnerID)
		query := "?period=" + url.QueryEscape(label)
		if _, err := simClient.get("partner", base+query, &calc); err != nil {
			log.Error().Err(err).Str("partner_id", partner.PartnerID).Msg("Failed to fetch partner settlement")
			continue
		}
		log.Info().
			Str("partner_id", partner.PartnerID).
			Int("transactions", calc.TransactionCount).
			Str("net", calc.NetSettlementAmount.StringFixed(2)).
			Msg("Partner settlement")

		if _, err := simClient.get("report", base+"/report"+query, &settlement.Report{}); err != nil {
			log.Error().Err(err).Str("partner_id", partner.PartnerID).Msg("Failed to fetch partner report")
		}
	}

	var summary settlement.MonthlySummary
	monthlyPath := fmt.Sprintf("/api/v1/settlements/monthly?month=%d&year=%d", period.Month, period.Year)
	if _, err := simClient.get("monthly", monthlyPath, &summary); err != nil {
		log.Error().Err(err).Msg("Failed to fetch monthly summary")
	}

	export, err := simClient.get("export", fmt.Sprintf("/api/v1/settlements/monthly/export?month=%d&year=%d&format=csv", period.Month, period.Year), nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to export monthly settlements")
	}

	run, err := simClient.runBatch()
	if err != nil {
		log.Error().Err(err).Msg("Failed to run settlement batch")
	}

	duration := time.Since(startTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SETTLEMENT SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Period:            %s
Partners:          %d
Products:          %d
Orders Pushed:     %d / %d
Settled Partners:  %d
Total Net:         %s
Gateway Fees:      %s
Export Size:       %d bytes
Duration:          %v
`, label, len(cat.partners), len(cat.products), pushed, len(orders),
		summary.TotalPartners,
		settlement.FormatMoney(summary.TotalAmount),
		settlement.FormatMoney(summary.TotalGatewayFees),
		len(export), duration.Round(time.Millisecond))

	if run != nil {
		fmt.Printf("Batch Run:         %s (%s) emails sent %d, skipped %d\n",
			run.RunID, run.Status, run.EmailsSent, run.EmailsSkipped)
	}

	fmt.Println("\nNet by Partner")
	fmt.Println("--------------")
	maxNet := decimal.Zero
	for _, calc := range summary.Settlements {
		maxNet = decimal.Max(maxNet, calc.NetSettlementAmount)
	}
	for _, calc := range summary.Settlements {
		barLength := 0
		if maxNet.IsPositive() {
			barLength = int(calc.NetSettlementAmount.Div(maxNet).Mul(decimal.NewFromInt(20)).IntPart())
		}
		fmt.Printf("%-24s: %s (%s)\n", calc.PartnerName, strings.Repeat("#", barLength), settlement.FormatMoney(calc.NetSettlementAmount))
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("orders", pushed).
		Int("partners_settled", summary.TotalPartners).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}
