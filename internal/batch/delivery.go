package batch

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listpull-cli/internal/model"
	"github.com/sells-group/listpull-cli/internal/store"
	"github.com/sells-group/listpull-cli/pkg/campaign"
	"github.com/sells-group/listpull-cli/pkg/crm"
)

// CampaignDeliverer uploads a batch's contacts to the destination tenant's
// campaign workspace, and optionally mirrors the high-value subset into the
// tenant's CRM as leads.
type CampaignDeliverer struct {
	store    store.Store
	tenants  *model.TenantRegistry
	platform campaign.Client
	crm      crm.Client // nil disables the mirror
}

func NewCampaignDeliverer(st store.Store, tenants *model.TenantRegistry, platform campaign.Client, crmClient crm.Client) *CampaignDeliverer {
	return &CampaignDeliverer{store: st, tenants: tenants, platform: platform, crm: crmClient}
}

// Deliver implements Deliverer. The import goes under the batch's list name,
// which the platform deduplicates, so a re-triggered delivery cannot double
// the delivered contacts.
func (d *CampaignDeliverer) Deliver(ctx context.Context, b *model.WeeklyBatch) (int, error) {
	tenant, ok := d.tenants.Get(b.Tenant)
	if !ok {
		return 0, eris.Errorf("deliver: unknown tenant %q", b.Tenant)
	}
	if tenant.CampaignWorkspaceID == "" {
		return 0, eris.Errorf("deliver: tenant %s has no campaign workspace", b.Tenant)
	}

	contacts, err := d.store.ContactsForBatch(ctx, b.ID)
	if err != nil {
		return 0, eris.Wrapf(err, "deliver: load contacts for %s", b.ID)
	}
	if len(contacts) == 0 {
		return 0, eris.Errorf("deliver: batch %s has no contacts", b.ID)
	}

	if err := d.platform.SwitchWorkspace(ctx, tenant.CampaignWorkspaceID); err != nil {
		return 0, err
	}

	req := campaign.ImportRequest{
		ListName: b.ListName(),
		Contacts: make([]campaign.Contact, len(contacts)),
	}
	for i, c := range contacts {
		req.Contacts[i] = campaign.Contact{
			FirstName: c.FirstName,
			LastName:  c.LastName,
			Email:     c.Email,
			State:     c.Region(),
			ZIP:       c.PropertyZIP,
			HomeValue: c.HomeValue,
			HighValue: c.HighValue,
		}
	}

	resp, err := d.platform.ImportList(ctx, req)
	if err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, eris.Errorf("deliver: import %s rejected by platform", req.ListName)
	}

	d.mirrorHighValue(ctx, tenant, b, contacts)

	return resp.ImportedCount, nil
}

// mirrorHighValue pushes the batch's high-value contacts to the tenant's
// CRM. Best effort: the batch is delivered either way, and mirror failures
// only log.
func (d *CampaignDeliverer) mirrorHighValue(ctx context.Context, tenant model.Tenant, b *model.WeeklyBatch, contacts []model.ClassifiedContact) {
	if d.crm == nil || !tenant.CRMMirror {
		return
	}

	var leads []crm.Lead
	for _, c := range contacts {
		if !c.HighValue {
			continue
		}
		leads = append(leads, crm.Lead{
			FirstName:  c.FirstName,
			LastName:   c.LastName,
			Email:      c.Email,
			State:      c.Region(),
			PostalCode: c.PropertyZIP,
			HomeValue:  c.HomeValue,
			LeadSource: b.ListName(),
		})
	}
	if len(leads) == 0 {
		return
	}

	results, err := d.crm.InsertLeads(ctx, leads)
	if err != nil {
		zap.L().Warn("crm mirror failed",
			zap.String("batch_id", b.ID), zap.Error(err))
		return
	}

	var failed int
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	zap.L().Info("high-value contacts mirrored to crm",
		zap.String("batch_id", b.ID),
		zap.Int("leads", len(leads)),
		zap.Int("failed", failed),
	)
}
