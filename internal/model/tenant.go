package model

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Tenant is a client workspace on whose behalf contacts are acquired and to
// whom approved batches are ultimately delivered.
type Tenant struct {
	Slug   string `yaml:"slug"`
	Name   string `yaml:"name"`
	Region string `yaml:"region"`

	// Region override routing: when enabled, high-value contacts whose
	// region matches OverrideRegion are routed to OverrideTenant instead.
	RegionOverrideEnabled bool   `yaml:"region_override_enabled"`
	OverrideRegion        string `yaml:"override_region"`
	OverrideTenant        string `yaml:"override_tenant"`

	// CampaignWorkspaceID is the tenant's workspace on the campaign platform.
	CampaignWorkspaceID string `yaml:"campaign_workspace_id"`

	// CRMMirror enables pushing high-value contacts to the tenant's CRM.
	CRMMirror bool `yaml:"crm_mirror"`

	// PortalAccount names the credential set for the records portal.
	PortalAccount string `yaml:"portal_account"`
}

// TenantRegistry holds the tenant roster loaded from tenants.yaml.
type TenantRegistry struct {
	tenants map[string]Tenant
	order   []string
}

type tenantFile struct {
	Tenants []Tenant `yaml:"tenants"`
}

// LoadTenants reads the tenant roster from a YAML file.
func LoadTenants(path string) (*TenantRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read tenants file %s", path)
	}

	var f tenantFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "model: parse tenants file %s", path)
	}
	if len(f.Tenants) == 0 {
		return nil, eris.Errorf("model: tenants file %s defines no tenants", path)
	}

	reg := NewTenantRegistry(f.Tenants...)

	// Override targets must resolve, or routing would produce orphans.
	for _, t := range f.Tenants {
		if !t.RegionOverrideEnabled {
			continue
		}
		if t.OverrideRegion == "" || t.OverrideTenant == "" {
			return nil, eris.Errorf("model: tenant %s enables region override without override_region/override_tenant", t.Slug)
		}
		if _, ok := reg.Get(t.OverrideTenant); !ok {
			return nil, eris.Errorf("model: tenant %s overrides to unknown tenant %s", t.Slug, t.OverrideTenant)
		}
	}

	return reg, nil
}

// NewTenantRegistry builds a registry from an explicit tenant list.
func NewTenantRegistry(tenants ...Tenant) *TenantRegistry {
	reg := &TenantRegistry{tenants: make(map[string]Tenant, len(tenants))}
	for _, t := range tenants {
		if _, dup := reg.tenants[t.Slug]; !dup {
			reg.order = append(reg.order, t.Slug)
		}
		reg.tenants[t.Slug] = t
	}
	return reg
}

// Get returns the tenant with the given slug.
func (r *TenantRegistry) Get(slug string) (Tenant, bool) {
	t, ok := r.tenants[slug]
	return t, ok
}

// All returns tenants in file order.
func (r *TenantRegistry) All() []Tenant {
	out := make([]Tenant, 0, len(r.order))
	for _, slug := range r.order {
		out = append(out, r.tenants[slug])
	}
	return out
}
