package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/config"
	"github.com/patrickwarner/adselection/internal/db"
	"github.com/patrickwarner/adselection/internal/logic"
	"github.com/patrickwarner/adselection/internal/logic/selectors"
	"github.com/patrickwarner/adselection/internal/models"
)

// SelectAdvertisementInput describes a selection request made by an agent.
type SelectAdvertisementInput struct {
	CustomerID    string            `json:"customer_id,omitempty" jsonschema:"customer identifier, optional"`
	MarketplaceID string            `json:"marketplace_id" jsonschema:"marketplace to select content for"`
	UserAgent     string            `json:"user_agent,omitempty" jsonschema:"User-Agent used to derive device type and bot status"`
	Country       string            `json:"country,omitempty" jsonschema:"ISO 3166-1 alpha-2 country code"`
	Region        string            `json:"region,omitempty" jsonschema:"subdivision code such as CA"`
	KeyValues     map[string]string `json:"key_values,omitempty" jsonschema:"caller supplied targeting signals"`
	Debug         bool              `json:"debug,omitempty" jsonschema:"include the selection trace"`
}

// SelectAdvertisementOutput carries the selected content, if any.
type SelectAdvertisementOutput struct {
	Selected bool                         `json:"selected"`
	Content  *models.AdvertisementContent `json:"content,omitempty"`
	Trace    *logic.SelectionTrace        `json:"trace,omitempty"`
}

// ListContentsInput names the marketplace to describe.
type ListContentsInput struct {
	MarketplaceID string `json:"marketplace_id" jsonschema:"marketplace whose content is listed"`
}

// GroupSummary describes one targeting group of a content item.
type GroupSummary struct {
	ID               string  `json:"id"`
	ClickThroughRate float64 `json:"click_through_rate"`
	Predicates       int     `json:"predicates"`
}

// ContentSummary is a content item with its groups in declaration order.
type ContentSummary struct {
	ContentID string         `json:"content_id"`
	Groups    []GroupSummary `json:"groups"`
}

// ListContentsOutput lists a marketplace's contents in lookup order.
type ListContentsOutput struct {
	Contents []ContentSummary `json:"contents"`
}

// SelectionServer exposes the catalog and the selector as MCP tools.
type SelectionServer struct {
	store    models.AdDataStore
	selector selectors.Selector
	logger   *zap.Logger
}

// SelectAdvertisement runs one selection against the loaded catalog.
func (s *SelectionServer) SelectAdvertisement(ctx context.Context, req *mcp.CallToolRequest, input SelectAdvertisementInput) (*mcp.CallToolResult, SelectAdvertisementOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	targeting := models.TargetingContext{}
	if input.UserAgent != "" {
		targeting = logic.ResolveTargetingFromUA(input.UserAgent)
	}
	targeting.Country = strings.ToUpper(input.Country)
	targeting.Region = strings.ToUpper(input.Region)
	targeting.KeyValues = input.KeyValues

	var tr *logic.SelectionTrace
	if input.Debug {
		tr = &logic.SelectionTrace{}
	}
	rc := models.NewRequestContext(input.CustomerID, input.MarketplaceID, targeting)
	result, err := s.selector.SelectForRequest(ctx, rc, tr)
	if err != nil {
		return nil, SelectAdvertisementOutput{}, fmt.Errorf("select advertisement: %w", err)
	}

	s.logger.Info("mcp selection",
		zap.String("marketplace_id", input.MarketplaceID),
		zap.Bool("selected", !result.IsEmpty()))
	return nil, SelectAdvertisementOutput{
		Selected: !result.IsEmpty(),
		Content:  result.Content,
		Trace:    tr,
	}, nil
}

// ListContents describes the candidate content of a marketplace and the
// targeting groups attached to each item.
func (s *SelectionServer) ListContents(ctx context.Context, req *mcp.CallToolRequest, input ListContentsInput) (*mcp.CallToolResult, ListContentsOutput, error) {
	contents, err := s.store.GetContents(ctx, input.MarketplaceID)
	if err != nil {
		return nil, ListContentsOutput{}, fmt.Errorf("list contents: %w", err)
	}
	out := ListContentsOutput{Contents: []ContentSummary{}}
	for _, c := range contents {
		groups, err := s.store.GetTargetingGroups(ctx, c.ContentID)
		if err != nil {
			return nil, ListContentsOutput{}, fmt.Errorf("list groups for %s: %w", c.ContentID, err)
		}
		summary := ContentSummary{ContentID: c.ContentID, Groups: []GroupSummary{}}
		for _, g := range groups {
			summary.Groups = append(summary.Groups, GroupSummary{
				ID:               g.ID,
				ClickThroughRate: g.ClickThroughRate,
				Predicates:       len(g.Predicates),
			})
		}
		out.Contents = append(out.Contents, summary)
	}
	return nil, out, nil
}

func newMCPServer(s *SelectionServer) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "adselection",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "select_advertisement",
		Description: "Select the advertisement content with the highest click-through rate among eligible targeting groups",
	}, s.SelectAdvertisement)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_contents",
		Description: "List a marketplace's content items and their targeting groups",
	}, s.ListContents)
	return server
}

func main() {
	// stdout carries the MCP protocol, so logs go to stderr
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.MessageKey = "msg"

	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("adselection-mcp").With(zap.String("service", "adselection-mcp"))

	cfg := config.Load()
	pg, err := db.InitPostgres(cfg.PostgresDSN, 10, 5, 30*time.Minute, 5*time.Minute)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pg.Close()

	ctx := context.Background()
	store := models.NewInMemoryAdDataStore()
	cat, err := db.LoadCatalog(ctx, pg, store)
	if err != nil {
		logger.Fatal("Failed to load catalog", zap.Error(err))
	}
	logger.Info("Catalog loaded",
		zap.Int("contents", len(cat.Contents)),
		zap.Int("targeting_groups", len(cat.Groups)))

	selector := selectors.NewCTRSelector(store, store)
	selector.SetLogger(logger)
	selector.SetGroupTimeout(cfg.PredicateGroupTimeout)

	server := newMCPServer(&SelectionServer{store: store, selector: selector, logger: logger})

	var logBuffer bytes.Buffer
	transport := &mcp.LoggingTransport{
		Transport: &mcp.StdioTransport{},
		Writer:    &logBuffer,
	}

	logger.Info("MCP server running via stdio")
	if err := server.Run(ctx, transport); err != nil {
		logger.Fatal("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
	}
}
