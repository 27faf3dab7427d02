package tunnel

import (
	"context"
	"fmt"

	cf "github.com/cloudflare/cloudflare-go"

	"stackctl/internal/config"
	"stackctl/pkg/logging"
)

// DNSRouter points public hostnames at the tunnel through the Cloudflare API.
type DNSRouter struct {
	api      *cf.API
	zoneID   string
	tunnelID string
}

// NewDNSRouter creates a router authenticated with an API token. Extra options are
// passed to the Cloudflare client.
func NewDNSRouter(dns config.DNSConfig, token string, opts ...cf.Option) (*DNSRouter, error) {
	if dns.ZoneID == "" || dns.TunnelID == "" {
		return nil, fmt.Errorf("dns routing needs zoneId and tunnelId")
	}
	api, err := cf.NewWithAPIToken(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloudflare client: %w", err)
	}
	return &DNSRouter{api: api, zoneID: dns.ZoneID, tunnelID: dns.TunnelID}, nil
}

// Target is the CNAME content every routed hostname points to.
func (r *DNSRouter) Target() string {
	return r.tunnelID + ".cfargotunnel.com"
}

// RouteDNS makes sure every concrete hostname has a proxied CNAME to the tunnel.
// Existing records are left alone. It returns the hostnames that were created.
func (r *DNSRouter) RouteDNS(ctx context.Context, rules []Rule) ([]string, error) {
	zone := cf.ZoneIdentifier(r.zoneID)
	proxied := true

	var created []string
	for _, host := range Hostnames(rules) {
		existing, _, err := r.api.ListDNSRecords(ctx, zone, cf.ListDNSRecordsParams{Type: "CNAME", Name: host})
		if err != nil {
			return created, fmt.Errorf("failed to look up DNS record for %s: %w", host, err)
		}
		if len(existing) > 0 {
			logging.Debug("Tunnel", "DNS record for %s already exists (%s)", host, existing[0].Content)
			continue
		}

		_, err = r.api.CreateDNSRecord(ctx, zone, cf.CreateDNSRecordParams{
			Type:    "CNAME",
			Name:    host,
			Content: r.Target(),
			Proxied: &proxied,
			Comment: "managed by stackctl",
		})
		if err != nil {
			return created, fmt.Errorf("failed to create DNS record for %s: %w", host, err)
		}
		logging.Info("Tunnel", "Routed %s to tunnel %s", host, r.tunnelID)
		created = append(created, host)
	}
	return created, nil
}
