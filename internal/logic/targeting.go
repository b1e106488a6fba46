package logic

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/avct/uasurfer"

	"github.com/patrickwarner/adselection/internal/geoip"
	"github.com/patrickwarner/adselection/internal/models"
)

// KeyValuePrefix marks query parameters that are forwarded to predicates as
// request key/values, e.g. ?kv.section=sports.
const KeyValuePrefix = "kv."

// ResolveTargetingFromUA parses a raw User-Agent string into device, OS,
// browser and bot attributes.
func ResolveTargetingFromUA(uaString string) models.TargetingContext {
	if uaString == "" {
		return models.TargetingContext{}
	}
	u := uasurfer.Parse(uaString)

	var deviceType string
	switch u.DeviceType {
	case uasurfer.DeviceComputer:
		deviceType = "desktop"
	case uasurfer.DevicePhone:
		deviceType = "mobile"
	case uasurfer.DeviceTablet:
		deviceType = "tablet"
	default:
		deviceType = "other"
	}

	v := u.OS.Version
	bv := u.Browser.Version
	return models.TargetingContext{
		DeviceType: deviceType,
		OS:         fmt.Sprintf("%s %s %d.%d.%d", u.OS.Platform.String(), u.OS.Name.String(), v.Major, v.Minor, v.Patch),
		Browser:    fmt.Sprintf("%s %d.%d.%d", u.Browser.Name.String(), bv.Major, bv.Minor, bv.Patch),
		IsBot:      u.IsBot(),
	}
}

// ResolveTargeting combines User-Agent attributes with the location of the
// client IP address.
func ResolveTargeting(g *geoip.GeoIP, uaString, ipString string) models.TargetingContext {
	tc := ResolveTargetingFromUA(uaString)
	if ip := net.ParseIP(ipString); ip != nil {
		loc := g.Lookup(ip)
		tc.Country = loc.Country
		tc.Region = loc.Region
	}
	return tc
}

// ResolveTargetingFromRequest derives the full TargetingContext for an HTTP
// request: User-Agent, client IP and kv.* query parameters.
func ResolveTargetingFromRequest(r *http.Request, g *geoip.GeoIP) models.TargetingContext {
	tc := ResolveTargeting(g, r.Header.Get("User-Agent"), ClientIP(r))
	tc.KeyValues = KeyValuesFromQuery(r.URL.Query())
	return tc
}

// ClientIP returns the originating client address, preferring the first
// X-Forwarded-For entry over RemoteAddr.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx != -1 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// KeyValuesFromQuery extracts kv.* parameters. Only the first value of a
// repeated key is kept. It returns nil when there are none.
func KeyValuesFromQuery(q url.Values) map[string]string {
	var kv map[string]string
	for k, vs := range q {
		if !strings.HasPrefix(k, KeyValuePrefix) || len(vs) == 0 {
			continue
		}
		name := strings.TrimPrefix(k, KeyValuePrefix)
		if name == "" {
			continue
		}
		if kv == nil {
			kv = make(map[string]string)
		}
		kv[name] = vs[0]
	}
	return kv
}
