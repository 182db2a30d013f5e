// Package directory implements the enrich stage's provider-registry lookup
// and the convert stage's payer-configuration-backed converter registry:
// the two pieces of supplemental gateway state spec §6 names alongside the
// pipeline's own tables (provider_registry, payer_configuration).
package directory

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/priorauth/pagw/internal/errors"
	"github.com/priorauth/pagw/internal/stages/convert"
)

// Provider is one provider_registry row.
type Provider struct {
	NPI      string `db:"npi"`
	Tenant   string `db:"tenant"`
	Name     string `db:"name"`
	PayerID  string `db:"payer_id"`
	Active   bool   `db:"active"`
}

// PayerConfig is one payer_configuration row.
type PayerConfig struct {
	PayerID                  string `db:"payer_id"`
	Name                     string `db:"name"`
	Endpoint                 string `db:"endpoint"`
	Provider                 string `db:"provider"`
	CircuitBreakerMaxReqs    int    `db:"circuit_breaker_max_requests"`
	CircuitBreakerTimeoutMs  int    `db:"circuit_breaker_timeout_ms"`
	Active                   bool   `db:"active"`
}

// Directory is the Postgres-backed provider registry the enrich stage
// queries to resolve which payer handles a submission.
type Directory struct {
	db *sqlx.DB
}

// NewDirectory builds a Directory.
func NewDirectory(db *sqlx.DB) *Directory {
	return &Directory{db: db}
}

// ResolvePayer implements enrich.PayerDirectory: it looks up the active
// provider_registry row for (tenant, npi) and returns its assigned payer id.
// An unenrolled or inactive provider is a business-rule rejection, not a
// transient failure, so the enrich stage should treat it accordingly.
func (d *Directory) ResolvePayer(ctx context.Context, tenant, npi string) (string, error) {
	const query = `
		SELECT payer_id FROM provider_registry
		WHERE tenant = $1 AND npi = $2 AND active = true`

	var payerID string
	err := d.db.GetContext(ctx, &payerID, query, tenant, npi)
	if err == sql.ErrNoRows {
		return "", apperrors.NewNotFoundError("provider " + npi + " is not enrolled with an active payer")
	}
	if err != nil {
		return "", apperrors.NewDatabaseError("resolve payer for provider", err)
	}
	return payerID, nil
}

// PayerConfig looks up payer_configuration for payerID, used at startup to
// build the payer-call stage's circuit breaker and HTTP endpoint per payer.
func (d *Directory) PayerConfig(ctx context.Context, payerID string) (*PayerConfig, error) {
	const query = `SELECT * FROM payer_configuration WHERE payer_id = $1 AND active = true`

	var cfg PayerConfig
	err := d.db.GetContext(ctx, &cfg, query, payerID)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("payer configuration " + payerID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get payer configuration", err)
	}
	return &cfg, nil
}

// ActivePayerConfigs lists every active payer_configuration row, used at
// startup to provision one circuit breaker per payer before any submission
// reaches the convert/payer-call stages.
func (d *Directory) ActivePayerConfigs(ctx context.Context) ([]PayerConfig, error) {
	const query = `SELECT * FROM payer_configuration WHERE active = true`

	var configs []PayerConfig
	if err := d.db.SelectContext(ctx, &configs, query); err != nil {
		return nil, apperrors.NewDatabaseError("list payer configurations", err)
	}
	return configs, nil
}

// jsonConverter renders an enriched submission body into a payer's
// canonical wire format by re-marshaling it under a payer envelope — the
// gateway's own payer integrations carry the payer-specific transforms
// (X12 278, proprietary JSON schemas); this is the baseline every payer
// configured without a registered Converter falls back to.
type jsonConverter struct {
	payerID string
}

// Convert implements convert.Converter.
func (c jsonConverter) Convert(ctx context.Context, enriched map[string]interface{}) ([]byte, error) {
	envelope := map[string]interface{}{
		"payerId":          c.payerID,
		"priorAuthRequest": enriched,
	}
	return json.Marshal(envelope)
}

// Registry implements convert.ConverterRegistry against payer_configuration:
// every active payer gets a default JSON converter unless a payer-specific
// Converter has been registered for it via Register.
type Registry struct {
	directory  *Directory
	overrides  map[string]convert.Converter
}

// NewRegistry builds a Registry backed by directory.
func NewRegistry(directory *Directory) *Registry {
	return &Registry{directory: directory, overrides: map[string]convert.Converter{}}
}

// Register installs a payer-specific Converter, overriding the default JSON
// envelope for that payer id.
func (r *Registry) Register(payerID string, converter convert.Converter) {
	r.overrides[payerID] = converter
}

// ConverterFor implements convert.ConverterRegistry.
func (r *Registry) ConverterFor(payerID string) (convert.Converter, bool) {
	if c, ok := r.overrides[payerID]; ok {
		return c, true
	}
	if payerID == "" {
		return nil, false
	}
	return jsonConverter{payerID: payerID}, true
}
