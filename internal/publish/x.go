package publish

import (
	"bidwatch/internal/components/assert"
	"bidwatch/internal/components/telemetry"
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/go-resty/resty/v2"
)

const (
	report_x_upload_media = "x.upload-media"
	report_x_post         = "x.post"
)

const (
	DefaultUploadUrl = "https://upload.twitter.com"
	DefaultApiUrl    = "https://api.twitter.com"
)

// XCredentials are the four oauth1 secrets of one account.
type XCredentials struct {
	ApiKey       string `json:"api_key"`
	ApiSecret    string `json:"api_secret"`
	AccessToken  string `json:"access_token"`
	AccessSecret string `json:"access_secret"`
}

func (c XCredentials) Complete() bool {
	return c.ApiKey != "" && c.ApiSecret != "" && c.AccessToken != "" && c.AccessSecret != ""
}

type XOptions struct {
	Credentials XCredentials
	UploadUrl   string
	ApiUrl      string
}

// X posts the card as an image attached to a tweet. The media goes through the
// v1.1 upload endpoint, the tweet itself through v2.
type X struct {
	opts XOptions
	http *resty.Client
	tel  telemetry.API
}

func NewX(opts XOptions, tel telemetry.API) X {
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("publish", tel)

	if opts.UploadUrl == "" {
		opts.UploadUrl = DefaultUploadUrl
	}
	if opts.ApiUrl == "" {
		opts.ApiUrl = DefaultApiUrl
	}

	config := oauth1.NewConfig(opts.Credentials.ApiKey, opts.Credentials.ApiSecret)
	token := oauth1.NewToken(opts.Credentials.AccessToken, opts.Credentials.AccessSecret)
	signed := config.Client(context.Background(), token)

	client := resty.NewWithClient(signed)
	client.SetTimeout(30 * time.Second)
	telemetry.InstrumentResty(client, "bidwatch/publish", tel)

	return X{
		opts: opts,
		http: client,
		tel:  tel,
	}
}

type mediaUploadResponse struct {
	MediaIDString string `json:"media_id_string"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Media *tweetMedia `json:"media,omitempty"`
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

func (x X) uploadMedia(ctx context.Context, image []byte) (string, error) {
	var result mediaUploadResponse
	res, err := x.http.R().
		SetContext(ctx).
		SetFileReader("media", "card.png", bytes.NewReader(image)).
		SetFormData(map[string]string{"media_category": "tweet_image"}).
		SetResult(&result).
		Post(x.opts.UploadUrl + "/1.1/media/upload.json")
	if err != nil {
		return "", err
	}
	if res.IsError() {
		return "", fmt.Errorf("unexpected status %s: %s", res.Status(), res.String())
	}
	if result.MediaIDString == "" {
		return "", fmt.Errorf("response carries no media id: %s", res.String())
	}
	return result.MediaIDString, nil
}

func (x X) Publish(ctx context.Context, text string, image []byte) (string, error) {
	req := tweetRequest{Text: text}
	if len(image) > 0 {
		mediaId, err := x.uploadMedia(ctx, image)
		if err != nil {
			x.tel.ReportBroken(report_x_upload_media, err)
			return "", fmt.Errorf("upload media: %w", err)
		}
		req.Media = &tweetMedia{MediaIDs: []string{mediaId}}
	}

	var result tweetResponse
	res, err := x.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post(x.opts.ApiUrl + "/2/tweets")
	if err != nil {
		x.tel.ReportBroken(report_x_post, err)
		return "", fmt.Errorf("post tweet: %w", err)
	}
	if res.IsError() {
		err := fmt.Errorf("unexpected status %s: %s", res.Status(), res.String())
		x.tel.ReportBroken(report_x_post, err)
		return "", fmt.Errorf("post tweet: %w", err)
	}
	if result.Data.ID == "" {
		err := fmt.Errorf("response carries no tweet id: %s", res.String())
		x.tel.ReportBroken(report_x_post, err)
		return "", fmt.Errorf("post tweet: %w", err)
	}
	return result.Data.ID, nil
}
