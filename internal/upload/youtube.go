package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/aiprojectops/youtube-shorts-generator/internal/config"
	"github.com/aiprojectops/youtube-shorts-generator/internal/logging"
	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

// ErrMissingCredential is returned when a job carries no refresh token
var ErrMissingCredential = errors.New("missing upload credential")

// DefaultCategoryID is "People & Blogs"
const DefaultCategoryID = "22"

// YouTube uploads videos on behalf of a user. It builds a fresh token
// source from the user's refresh token on every call, since uploads run
// long after the user signed in.
type YouTube struct {
	oauth      oauth2.Config
	categoryID string
	endpoint   string
	now        func() time.Time
	logger     *logging.Logger
}

// YouTubeOption configures YouTube
type YouTubeOption func(*YouTube)

// WithAPIEndpoint points the client at another API root
func WithAPIEndpoint(endpoint string) YouTubeOption {
	return func(y *YouTube) {
		y.endpoint = endpoint
	}
}

// WithTokenURL overrides the OAuth token endpoint
func WithTokenURL(tokenURL string) YouTubeOption {
	return func(y *YouTube) {
		y.oauth.Endpoint.TokenURL = tokenURL
	}
}

// NewYouTube creates a YouTube uploader
func NewYouTube(cfg config.YouTubeConfig, logger *logging.Logger, opts ...YouTubeOption) (*YouTube, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("youtube client id and secret are required")
	}
	if cfg.CategoryID == "" {
		cfg.CategoryID = DefaultCategoryID
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	y := &YouTube{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{youtube.YoutubeUploadScope},
		},
		categoryID: cfg.CategoryID,
		now:        time.Now,
		logger:     logger.WithComponent("youtube"),
	}
	for _, opt := range opts {
		opt(y)
	}
	return y, nil
}

// Upload publishes filePath as a Short and returns its URL
func (y *YouTube) Upload(ctx context.Context, filePath string, meta models.PublishMetadata, credentialRef string) (string, error) {
	if credentialRef == "" {
		return "", fmt.Errorf("%w: %v", models.ErrUploadFailure, ErrMissingCredential)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", models.ErrArtifactMissing, filePath, err)
	}
	defer f.Close()

	ts := y.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: credentialRef})
	clientOpts := []option.ClientOption{option.WithTokenSource(ts)}
	if y.endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(y.endpoint))
	}
	svc, err := youtube.NewService(ctx, clientOpts...)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create youtube client: %v", models.ErrUploadFailure, err)
	}

	meta = normalizeMetadata(meta, y.now())
	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       meta.Title,
			Description: meta.Description,
			Tags:        meta.Tags,
			CategoryId:  y.categoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           meta.Privacy,
			SelfDeclaredMadeForKids: false,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}

	res, err := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(f).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("%w: youtube insert: %v", models.ErrUploadFailure, err)
	}

	y.logger.WithField("video_id", res.Id).Info("Video uploaded to YouTube")
	return ShortsURL(res.Id), nil
}

// ShortsURL returns the public URL of a Short
func ShortsURL(videoID string) string {
	return "https://www.youtube.com/shorts/" + videoID
}
