package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/config"
	"github.com/patrickwarner/adselection/internal/db"
	"github.com/patrickwarner/adselection/internal/logic/predicates"
	"github.com/patrickwarner/adselection/internal/models"
	"github.com/patrickwarner/adselection/internal/observability"
)

var (
	marketplaces = flag.Int("marketplaces", 3, "number of random marketplaces")
	contentsPer  = flag.Int("contents", 10, "content items per marketplace")
	groupsPer    = flag.Int("groups", 2, "targeting groups per content item")
	seed         = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	skipReload   = flag.Bool("skip-reload", false, "skip automatic reload after data insertion")
)

const demoMarketplace = "demo"

func main() {
	flag.Parse()

	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	ctx := context.Background()
	r := rand.New(rand.NewSource(*seed))

	contents, groups := demoCatalog()
	rc, rg := randomCatalog(r, *marketplaces, *contentsPer, *groupsPer)
	contents = append(contents, rc...)
	groups = append(groups, rg...)

	inserted, skipped := 0, 0
	for i, c := range contents {
		err := pg.InsertContent(ctx, c, i)
		if errors.Is(err, db.ErrDuplicateID) {
			skipped++
			continue
		}
		if err != nil {
			logger.Fatal("insert content", zap.Error(err))
		}
		inserted++
	}
	for _, g := range groups {
		err := pg.InsertTargetingGroup(ctx, g)
		if errors.Is(err, db.ErrDuplicateID) {
			continue
		}
		if err != nil {
			logger.Fatal("insert targeting group", zap.Error(err))
		}
	}

	logger.Info("catalog seeded",
		zap.Int("contents_inserted", inserted),
		zap.Int("contents_existing", skipped),
		zap.Int("targeting_groups", len(groups)),
		zap.Int64("seed", *seed))

	if !*skipReload {
		if err := callReloadEndpoint(&cfg); err != nil {
			logger.Error("reload endpoint failed", zap.Error(err))
			fmt.Fprintf(os.Stderr, "Warning: failed to reload server data: %v\n", err)
		} else {
			fmt.Println("server data reloaded")
		}
	}
}

// demoCatalog is a small hand written marketplace that exercises every
// predicate type.
func demoCatalog() ([]models.AdvertisementContent, []models.TargetingGroupRecord) {
	contents := []models.AdvertisementContent{
		{ContentID: "demo-running-shoes", MarketplaceID: demoMarketplace, RenderableContent: `<div class="ad">Trail running shoes, 20% off</div>`},
		{ContentID: "demo-streaming", MarketplaceID: demoMarketplace, RenderableContent: `<div class="ad">Stream the season finale tonight</div>`},
		{ContentID: "demo-banking", MarketplaceID: demoMarketplace, RenderableContent: `<div class="ad">Open an account in five minutes</div>`},
		{ContentID: "demo-house", MarketplaceID: demoMarketplace, RenderableContent: `<div class="ad">Try our app</div>`},
	}
	groups := []models.TargetingGroupRecord{
		{ID: "demo-running-shoes-mobile", ContentID: "demo-running-shoes", ClickThroughRate: 0.042, Predicates: []models.PredicateSpec{
			{Type: predicates.TypeDeviceType, Values: []string{"mobile", "tablet"}},
			{Type: predicates.TypeKeyValue, Key: "section", Values: []string{"sports", "outdoors"}},
			{Type: predicates.TypeExcludeBots},
		}},
		{ID: "demo-running-shoes-us", ContentID: "demo-running-shoes", ClickThroughRate: 0.031, Position: 1, Predicates: []models.PredicateSpec{
			{Type: predicates.TypeCountry, Values: []string{"US", "CA"}},
		}},
		{ID: "demo-streaming-evening", ContentID: "demo-streaming", ClickThroughRate: 0.055, Predicates: []models.PredicateSpec{
			{Type: predicates.TypeKeyValue, Key: "daypart", Values: []string{"evening"}},
			{Type: predicates.TypeCountry, Values: []string{"US"}},
			{Type: predicates.TypeRegion, Values: []string{"CA"}, Negate: true},
		}},
		{ID: "demo-banking-vip", ContentID: "demo-banking", ClickThroughRate: 0.09, Predicates: []models.PredicateSpec{
			{Type: predicates.TypeCustomerAllowlist, Values: []string{"vip-1", "vip-2"}},
			{Type: predicates.TypeMarketplace, Values: []string{demoMarketplace}},
		}},
		{ID: "demo-house-default", ContentID: "demo-house", ClickThroughRate: 0.005, Predicates: []models.PredicateSpec{
			{Type: predicates.TypeAlways},
		}},
	}
	return contents, groups
}

var (
	sections  = []string{"news", "sports", "finance", "travel", "tech", "outdoors"}
	countries = []string{"US", "CA", "GB", "DE", "FR", "JP"}
	devices   = []string{"mobile", "desktop", "tablet"}
	brands    = []string{"Acme", "Globex", "Initech", "Umbrella", "Hooli", "Stark"}
	products  = []string{"Sneakers", "Headphones", "Coffee", "Insurance", "Flights", "Laptop"}
)

// randomCatalog builds n marketplaces with contentsPer items each. Every item
// gets groupsPer targeting groups with one or two random predicates.
func randomCatalog(r *rand.Rand, n, contentsPer, groupsPer int) ([]models.AdvertisementContent, []models.TargetingGroupRecord) {
	var contents []models.AdvertisementContent
	var groups []models.TargetingGroupRecord
	for m := 0; m < n; m++ {
		marketplaceID := fmt.Sprintf("mkt-%d", m+1)
		for c := 0; c < contentsPer; c++ {
			contentID := fmt.Sprintf("%s-content-%d", marketplaceID, c+1)
			contents = append(contents, models.AdvertisementContent{
				ContentID:         contentID,
				MarketplaceID:     marketplaceID,
				RenderableContent: fmt.Sprintf(`<div class="ad">%s %s</div>`, pick(r, brands), pick(r, products)),
			})
			for g := 0; g < groupsPer; g++ {
				groups = append(groups, models.TargetingGroupRecord{
					ID:               fmt.Sprintf("%s-group-%d", contentID, g+1),
					ContentID:        contentID,
					ClickThroughRate: float64(r.Intn(1000)) / 10000,
					Predicates:       randomPredicates(r),
					Position:         g,
				})
			}
		}
	}
	return contents, groups
}

func randomPredicates(r *rand.Rand) []models.PredicateSpec {
	specs := make([]models.PredicateSpec, 0, 2)
	for i := 0; i < 1+r.Intn(2); i++ {
		switch r.Intn(3) {
		case 0:
			specs = append(specs, models.PredicateSpec{Type: predicates.TypeCountry, Values: []string{pick(r, countries), pick(r, countries)}})
		case 1:
			specs = append(specs, models.PredicateSpec{Type: predicates.TypeDeviceType, Values: []string{pick(r, devices)}})
		default:
			specs = append(specs, models.PredicateSpec{Type: predicates.TypeKeyValue, Key: "section", Values: []string{pick(r, sections)}})
		}
	}
	return specs
}

func pick(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}

func callReloadEndpoint(cfg *config.Config) error {
	reloadURL := fmt.Sprintf("http://localhost:%s/reload", cfg.Port)
	req, err := http.NewRequest(http.MethodPost, reloadURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
