package audit

import "github.com/forc-lang/forc-registry/internal/config"

// ShippersFromConfig translates the Viper-backed audit configuration into
// the ShipperConfig slice NewMultiShipper expects. A nil/empty Shippers list
// still produces one enabled slog shipper so every deployment gets an audit
// trail without explicit configuration.
func ShippersFromConfig(cfg config.AuditConfig) []ShipperConfig {
	if !cfg.Enabled {
		return nil
	}
	if len(cfg.Shippers) == 0 {
		return []ShipperConfig{{Enabled: true, Type: "slog"}}
	}

	out := make([]ShipperConfig, 0, len(cfg.Shippers))
	for _, s := range cfg.Shippers {
		sc := ShipperConfig{Enabled: s.Enabled, Type: s.Type}
		if s.Webhook != nil {
			sc.Webhook = &WebhookConfig{
				URL:     s.Webhook.URL,
				Headers: s.Webhook.Headers,
				Timeout: s.Webhook.Timeout,
			}
		}
		if s.File != nil {
			sc.File = &FileConfig{
				Path:       s.File.Path,
				MaxSizeMB:  s.File.MaxSizeMB,
				MaxBackups: s.File.MaxBackups,
			}
		}
		out = append(out, sc)
	}
	return out
}
