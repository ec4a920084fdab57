package appwrite

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"snapgram/internal/backend"

	"github.com/gofiber/fiber/v2"
)

func filesPath(bucketID string) string {
	return "/storage/buckets/" + url.PathEscape(bucketID) + "/files"
}

// CreateFile uploads the blob as multipart form data in a single request.
func (c *Client) CreateFile(ctx context.Context, bucketID, fileID string, file backend.Upload) (*backend.File, error) {
	if fileID == "" {
		fileID = backend.UniqueID()
	}
	var data []byte
	if file.Reader != nil {
		var err error
		if data, err = io.ReadAll(file.Reader); err != nil {
			return nil, fmt.Errorf("read upload %s: %w", file.Name, err)
		}
	}

	args := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(args)
	args.Set("fileId", fileID)

	a := c.agent(fiber.MethodPost, c.url(filesPath(bucketID)))
	a.FileData(&fiber.FormFile{Fieldname: "file", Name: file.Name, Content: data})
	a.MultipartForm(args)

	var out backend.File
	if err := c.send(ctx, a, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FilePreview builds the preview URL. Nothing is requested.
func (c *Client) FilePreview(bucketID, fileID string, opts backend.PreviewOptions) (string, error) {
	if bucketID == "" || fileID == "" {
		return "", fmt.Errorf("file preview %q/%q: %w", bucketID, fileID, backend.ErrNotFound)
	}
	q := url.Values{}
	if opts.Width > 0 {
		q.Set("width", strconv.Itoa(opts.Width))
	}
	if opts.Height > 0 {
		q.Set("height", strconv.Itoa(opts.Height))
	}
	if opts.Gravity != "" {
		q.Set("gravity", opts.Gravity)
	}
	if opts.Quality > 0 {
		q.Set("quality", strconv.Itoa(opts.Quality))
	}
	q.Set("project", c.project)
	return c.url(filesPath(bucketID)+"/"+url.PathEscape(fileID)+"/preview") + "?" + q.Encode(), nil
}

func (c *Client) DeleteFile(ctx context.Context, bucketID, fileID string) error {
	return c.sendJSON(ctx, fiber.MethodDelete, filesPath(bucketID)+"/"+url.PathEscape(fileID), nil, nil)
}

func (c *Client) InitialsURL(name string) string {
	q := url.Values{}
	q.Set("name", name)
	q.Set("project", c.project)
	return c.url("/avatars/initials") + "?" + q.Encode()
}
