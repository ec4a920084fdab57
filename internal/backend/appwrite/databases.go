package appwrite

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"snapgram/internal/backend"

	"github.com/gofiber/fiber/v2"
)

func documentsPath(databaseID, collectionID string) string {
	return fmt.Sprintf("/databases/%s/collections/%s/documents", url.PathEscape(databaseID), url.PathEscape(collectionID))
}

// decodeDocument splits Appwrite's flat document JSON into the reserved
// attributes and the user data.
func decodeDocument(raw map[string]any) backend.Document {
	d := backend.Document{Data: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case backend.AttrID:
			d.ID, _ = v.(string)
		case "$collectionId":
			d.CollectionID, _ = v.(string)
		case "$databaseId":
			d.DatabaseID, _ = v.(string)
		case backend.AttrCreatedAt:
			d.CreatedAt = parseTime(v)
		case backend.AttrUpdatedAt:
			d.UpdatedAt = parseTime(v)
		case "$permissions":
		default:
			d.Data[k] = v
		}
	}
	return d
}

func parseTime(v any) time.Time {
	s, _ := v.(string)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (c *Client) CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any) (*backend.Document, error) {
	if documentID == "" {
		documentID = backend.UniqueID()
	}
	var raw map[string]any
	err := c.sendJSON(ctx, fiber.MethodPost, documentsPath(databaseID, collectionID), map[string]any{
		"documentId": documentID,
		"data":       data,
	}, &raw)
	if err != nil {
		return nil, err
	}
	d := decodeDocument(raw)
	return &d, nil
}

func (c *Client) GetDocument(ctx context.Context, databaseID, collectionID, documentID string) (*backend.Document, error) {
	var raw map[string]any
	path := documentsPath(databaseID, collectionID) + "/" + url.PathEscape(documentID)
	if err := c.sendJSON(ctx, fiber.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	d := decodeDocument(raw)
	return &d, nil
}

// QueryString encodes queries as repeated queries[] parameters.
func QueryString(queries []backend.Query) string {
	if len(queries) == 0 {
		return ""
	}
	parts := make([]string, 0, len(queries))
	for _, q := range queries {
		parts = append(parts, url.QueryEscape("queries[]")+"="+url.QueryEscape(q.String()))
	}
	return strings.Join(parts, "&")
}

func (c *Client) ListDocuments(ctx context.Context, databaseID, collectionID string, queries ...backend.Query) (*backend.DocumentList, error) {
	if _, err := backend.Compile(queries); err != nil {
		return nil, err
	}
	u := c.url(documentsPath(databaseID, collectionID))
	if qs := QueryString(queries); qs != "" {
		u += "?" + qs
	}

	var out struct {
		Total     int              `json:"total"`
		Documents []map[string]any `json:"documents"`
	}
	if err := c.send(ctx, c.agent(fiber.MethodGet, u), &out); err != nil {
		return nil, err
	}
	list := &backend.DocumentList{Total: out.Total, Documents: make([]backend.Document, 0, len(out.Documents))}
	for _, raw := range out.Documents {
		list.Documents = append(list.Documents, decodeDocument(raw))
	}
	return list, nil
}

func (c *Client) UpdateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any) (*backend.Document, error) {
	var raw map[string]any
	path := documentsPath(databaseID, collectionID) + "/" + url.PathEscape(documentID)
	if err := c.sendJSON(ctx, fiber.MethodPatch, path, map[string]any{"data": data}, &raw); err != nil {
		return nil, err
	}
	d := decodeDocument(raw)
	return &d, nil
}

func (c *Client) DeleteDocument(ctx context.Context, databaseID, collectionID, documentID string) error {
	path := documentsPath(databaseID, collectionID) + "/" + url.PathEscape(documentID)
	return c.sendJSON(ctx, fiber.MethodDelete, path, nil, nil)
}
