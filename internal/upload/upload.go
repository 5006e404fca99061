// Package upload publishes finished videos.
package upload

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

// DefaultTitle is used when a job reaches upload without a title
const DefaultTitle = "New Short"

// maxTitleLen is the YouTube title limit
const maxTitleLen = 100

// normalizeMetadata fills in the title and privacy a publish needs
func normalizeMetadata(meta models.PublishMetadata, now time.Time) models.PublishMetadata {
	meta.Title = strings.TrimSpace(meta.Title)
	if meta.Title == "" {
		meta.Title = fmt.Sprintf("%s %s", DefaultTitle, now.Format("2006-01-02 15:04"))
	}
	if r := []rune(meta.Title); len(r) > maxTitleLen {
		meta.Title = string(r[:maxTitleLen])
	}
	switch meta.Privacy {
	case models.PrivacyPublic, models.PrivacyUnlisted, models.PrivacyPrivate:
	default:
		meta.Privacy = models.PrivacyPublic
	}
	return meta
}

// contentType returns the content type based on file extension
func contentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	default:
		return "application/octet-stream"
	}
}
