package geoip

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/oschwald/geoip2-golang"
)

// Location is the geographic information resolved for an IP address.
// Unknown parts are left empty.
type Location struct {
	Country string // ISO 3166-1 alpha-2 code
	Region  string // first subdivision ISO code, if the database carries it
}

// GeoIP resolves IP addresses using a MaxMind database, or a JSON list of
// CIDR ranges when the file is not a MaxMind database (handy for tests and
// local development).
type GeoIP struct {
	db     *geoip2.Reader
	ranges []cidrRange
}

type cidrRange struct {
	network  *net.IPNet
	location Location
}

// Init opens the database located at path.
func Init(path string) (*GeoIP, error) {
	reader, err := geoip2.Open(path)
	if err == nil {
		return &GeoIP{db: reader}, nil
	}

	ranges, jerr := loadRanges(path)
	if jerr != nil {
		return nil, fmt.Errorf("open geoip db %s: %w", path, err)
	}
	return &GeoIP{ranges: ranges}, nil
}

// loadRanges parses the JSON fallback format:
// [{"net": "10.0.0.0/8", "country": "US", "region": "CA"}].
func loadRanges(path string) ([]cidrRange, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []struct {
		Net     string `json:"net"`
		Country string `json:"country"`
		Region  string `json:"region"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	ranges := make([]cidrRange, 0, len(entries))
	for _, e := range entries {
		_, n, err := net.ParseCIDR(e.Net)
		if err != nil {
			continue
		}
		ranges = append(ranges, cidrRange{network: n, location: Location{Country: e.Country, Region: e.Region}})
	}
	return ranges, nil
}

// Lookup returns the location of ip. A nil receiver or an unknown address
// yields an empty Location.
func (g *GeoIP) Lookup(ip net.IP) Location {
	if g == nil || ip == nil {
		return Location{}
	}
	if g.db != nil {
		var loc Location
		if rec, err := g.db.City(ip); err == nil {
			loc.Country = rec.Country.IsoCode
			if len(rec.Subdivisions) > 0 {
				loc.Region = rec.Subdivisions[0].IsoCode
			}
			return loc
		}
		// Country-only databases do not answer City lookups.
		if rec, err := g.db.Country(ip); err == nil {
			loc.Country = rec.Country.IsoCode
			return loc
		}
	}
	for _, r := range g.ranges {
		if r.network.Contains(ip) {
			return r.location
		}
	}
	return Location{}
}

// Close releases resources associated with the database.
func (g *GeoIP) Close() error {
	if g != nil && g.db != nil {
		return g.db.Close()
	}
	return nil
}
