package notify

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listpull-cli/internal/model"
	"github.com/sells-group/listpull-cli/pkg/notion"
)

// NotionMirror keeps a Notion database row per weekly batch so reviewers see
// status without touching the CLI. One page per batch id; pending creates,
// resolution updates in place.
type NotionMirror struct {
	client notion.Client
	dbID   string
}

func NewNotionMirror(client notion.Client, dbID string) *NotionMirror {
	return &NotionMirror{client: client, dbID: dbID}
}

// BatchPending creates (or refreshes) the batch's tracking page.
func (m *NotionMirror) BatchPending(ctx context.Context, b *model.WeeklyBatch) error {
	return m.upsert(ctx, b, string(b.Status), "")
}

// BatchResolved stamps the approval outcome on the batch's page.
func (m *NotionMirror) BatchResolved(ctx context.Context, b *model.WeeklyBatch, outcome string) error {
	return m.upsert(ctx, b, string(b.Status), outcome)
}

func (m *NotionMirror) upsert(ctx context.Context, b *model.WeeklyBatch, status, outcome string) error {
	pageID, err := m.findPage(ctx, b.ID)
	if err != nil {
		return err
	}

	props := batchProperties(b, status, outcome)
	if pageID == "" {
		_, err = m.client.CreatePage(ctx, &notionapi.PageCreateRequest{
			Parent:     notionapi.Parent{Type: notionapi.ParentTypeDatabaseID, DatabaseID: notionapi.DatabaseID(m.dbID)},
			Properties: props,
		})
		if err != nil {
			return eris.Wrapf(err, "notify: create notion page for batch %s", b.ID)
		}
		zap.L().Debug("notion page created", zap.String("batch_id", b.ID))
		return nil
	}

	_, err = m.client.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{Properties: props})
	return eris.Wrapf(err, "notify: update notion page for batch %s", b.ID)
}

// findPage locates the batch's page by its Batch ID property; empty string
// when absent.
func (m *NotionMirror) findPage(ctx context.Context, batchID string) (string, error) {
	resp, err := m.client.QueryDatabase(ctx, m.dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Batch ID",
			RichText: &notionapi.TextFilterCondition{Equals: batchID},
		},
		PageSize: 1,
	})
	if err != nil {
		return "", eris.Wrapf(err, "notify: find notion page for batch %s", batchID)
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return string(resp.Results[0].ID), nil
}

func batchProperties(b *model.WeeklyBatch, status, outcome string) notionapi.Properties {
	scheduled := notionapi.Date(b.ScheduledFor)
	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Title: richText(b.ListName()),
		},
		"Batch ID": notionapi.RichTextProperty{
			RichText: richText(b.ID),
		},
		"Tenant": notionapi.SelectProperty{
			Select: notionapi.Option{Name: b.Tenant},
		},
		"Month": notionapi.RichTextProperty{
			RichText: richText(string(b.Month)),
		},
		"Week": notionapi.NumberProperty{
			Number: float64(b.Week),
		},
		"Contacts": notionapi.NumberProperty{
			Number: float64(b.ContactCount),
		},
		"High Value": notionapi.NumberProperty{
			Number: float64(b.HighValueCount),
		},
		"Scheduled": notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &scheduled},
		},
		"Status": notionapi.SelectProperty{
			Select: notionapi.Option{Name: status},
		},
	}
	if outcome != "" {
		props["Outcome"] = notionapi.RichTextProperty{RichText: richText(outcome)}
	}
	return props
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{Text: &notionapi.Text{Content: s}}}
}
