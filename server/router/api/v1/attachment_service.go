package v1

import (
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/chatloom/chatloom/server/auth"
	"github.com/chatloom/chatloom/server/chat"
	"github.com/chatloom/chatloom/store"
)

const maxAttachmentBytes = 10 << 20 // 10 MiB

// UploadAttachment stores a file in the managed object store and returns the
// AttachmentRef to embed in a turn submission. The returned URL is a
// short-lived presigned link for immediate preview; the durable handle is
// the storage key.
func (s *APIV1Service) UploadAttachment(c echo.Context) error {
	if s.objects == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, apiError{Code: "not_configured", Message: "object storage is not configured"})
	}

	session := auth.SessionFrom(c)
	ctx := c.Request().Context()

	file, err := c.FormFile("file")
	if err != nil {
		return httpError(&chat.ValidationError{Field: "file", Detail: "multipart file is required"})
	}
	if file.Size > maxAttachmentBytes {
		return httpError(&chat.ValidationError{Field: "file", Detail: "file exceeds 10 MiB"})
	}
	contentType := file.Header.Get("Content-Type")
	if !allowedAttachmentTypes[contentType] {
		return httpError(&chat.ValidationError{Field: "file", Detail: "unsupported media type " + contentType})
	}

	src, err := file.Open()
	if err != nil {
		return httpError(err)
	}
	defer src.Close()

	key := fmt.Sprintf("attachments/%s/%s%s", session.UserID, newID(), path.Ext(file.Filename))
	if err := s.objects.Put(ctx, key, src, file.Size, contentType); err != nil {
		return httpError(err)
	}

	url, err := s.objects.PresignedGet(ctx, key, 15*time.Minute)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, store.AttachmentRef{
		Name:        file.Filename,
		URL:         url,
		ContentType: contentType,
		StorageKey:  key,
	})
}

// GetAttachmentURL mints a fresh presigned link for a managed attachment the
// caller uploaded. Stored URLs expire; clients re-request instead of caching.
func (s *APIV1Service) GetAttachmentURL(c echo.Context) error {
	if s.objects == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, apiError{Code: "not_configured", Message: "object storage is not configured"})
	}

	session := auth.SessionFrom(c)
	key := c.QueryParam("key")
	if key == "" {
		return httpError(&chat.ValidationError{Field: "key", Detail: "required"})
	}
	if !ownsStorageKey(session.UserID, key) {
		return httpError(chat.ErrUnauthorized)
	}

	url, err := s.objects.PresignedGet(c.Request().Context(), key, 15*time.Minute)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"url": url})
}

// ownsStorageKey reports whether key sits in the caller's attachment
// namespace. Keys are namespaced per user at upload time; that prefix is the
// authorization boundary for every path that hands out presigned links.
func ownsStorageKey(userID, key string) bool {
	return strings.HasPrefix(key, "attachments/"+userID+"/")
}
