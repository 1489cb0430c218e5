package handlers

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"

	"wainbox/server/internal/models"
	"wainbox/server/internal/sender"
)

const (
	MaxImageSize       = 5 * 1024 * 1024   // 5MB
	MaxVideoSize       = 16 * 1024 * 1024  // 16MB
	MaxDocumentSize    = 100 * 1024 * 1024 // 100MB
	AllowedImageExts   = ".jpg,.jpeg,.png,.webp"
	AllowedVideoExts   = ".mp4,.3gp"
	AllowedDocumentExt = ".pdf,.doc,.docx,.xls,.xlsx,.ppt,.pptx,.txt,.zip"
)

// readAttachment reads the "file" form part for a media message. fileType is
// image, video or document; "file" is accepted as an alias for document.
func readAttachment(c *fiber.Ctx, fileType string) (*sender.File, error) {
	if fileType == "file" {
		fileType = models.KindDocument
	}
	limit, ok := maxSize(fileType)
	if !ok {
		return nil, errors.New("Invalid file type. Must be: image, video or document")
	}

	header, err := c.FormFile("file")
	if err != nil {
		return nil, errors.New("No file uploaded")
	}
	if header.Size == 0 {
		return nil, errors.New("File is empty")
	}
	if header.Size > limit {
		return nil, fmt.Errorf("File size exceeds limit of %s (uploaded: %s)",
			humanize.IBytes(uint64(limit)), humanize.IBytes(uint64(header.Size)))
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !isAllowedExtension(ext, fileType) {
		return nil, fmt.Errorf("File extension %s not allowed for type %s", ext, fileType)
	}

	f, err := header.Open()
	if err != nil {
		return nil, errors.New("Failed to read file")
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, errors.New("Failed to read file")
	}

	return &sender.File{
		Type:    fileType,
		Name:    filepath.Base(header.Filename),
		Content: content,
	}, nil
}

func maxSize(fileType string) (int64, bool) {
	switch fileType {
	case models.KindImage:
		return MaxImageSize, true
	case models.KindVideo:
		return MaxVideoSize, true
	case models.KindDocument:
		return MaxDocumentSize, true
	default:
		return 0, false
	}
}

// isAllowedExtension checks if file extension is allowed for the given type
func isAllowedExtension(ext, fileType string) bool {
	if ext == "" {
		return false
	}
	var allowed string
	switch fileType {
	case models.KindImage:
		allowed = AllowedImageExts
	case models.KindVideo:
		allowed = AllowedVideoExts
	case models.KindDocument:
		allowed = AllowedDocumentExt
	default:
		return false
	}
	for _, e := range strings.Split(allowed, ",") {
		if e == ext {
			return true
		}
	}
	return false
}
