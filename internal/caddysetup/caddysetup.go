// Package caddysetup runs an embedded Caddy instance terminating TLS for
// the public tunnel domain and its wildcard subdomains.
package caddysetup

import (
	"context"
	"encoding/json"
	"fmt"

	caddy "github.com/caddyserver/caddy/v2"
	"github.com/rs/zerolog/log"

	// Register standard modules (http, tls, reverse_proxy, file storage, etc.)
	_ "github.com/caddyserver/caddy/v2/modules/standard"
)

// Start launches Caddy proxying listenAddr to upstream (the internal HTTP
// listener). Certificates are issued on demand per subdomain; askURL is
// consulted before each issuance so random tunnel labels cannot be used to
// mint certs for foreign hosts. For a localhost domain the internal issuer
// is used so development needs no ACME account.
func Start(ctx context.Context, listenAddr, upstream, domain, email, askURL string) error {
	policy := map[string]any{
		"on_demand": true,
	}
	if domain == "localhost" {
		policy["issuers"] = []any{
			map[string]any{"module": "internal"},
		}
	} else if email != "" {
		policy["issuers"] = []any{
			map[string]any{"module": "acme", "email": email},
		}
	}

	cfg := map[string]any{
		"apps": map[string]any{
			"tls": map[string]any{
				"automation": map[string]any{
					"policies": []any{policy},
					"on_demand": map[string]any{
						"ask": askURL,
					},
				},
			},
			"http": map[string]any{
				"servers": map[string]any{
					"srv0": map[string]any{
						"listen": []string{listenAddr},
						"routes": []any{
							map[string]any{
								"match": []any{map[string]any{"host": []string{domain, "*." + domain}}},
								"handle": []any{
									map[string]any{
										"handler": "reverse_proxy",
										"upstreams": []any{
											map[string]any{"dial": upstream},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("build caddy config: %w", err)
	}

	var conf caddy.Config
	if err := json.Unmarshal(raw, &conf); err != nil {
		return fmt.Errorf("parse caddy config: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = caddy.Stop()
	}()

	if err := caddy.Run(&conf); err != nil {
		return fmt.Errorf("run caddy: %w", err)
	}

	log.Info().Str("listen", listenAddr).Str("upstream", upstream).Msg("caddy started")
	return nil
}
