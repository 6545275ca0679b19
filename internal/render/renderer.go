package render

import (
	"bidwatch/internal/components/assert"
	"bidwatch/internal/components/telemetry"
	"bidwatch/internal/registry"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/go-resty/resty/v2"
)

const (
	report_renderer_fetch_asset = "renderer.fetch-asset"
	report_renderer_render      = "renderer.render"
)

type Options struct {
	// BaseUrl is where athlete photos and club crests are downloaded from.
	BaseUrl string
	// Width and Height set the browser viewport, zero means 900x700.
	Width  int
	Height int
	// Timeout bounds one render including asset downloads, zero means 1 minute.
	Timeout time.Duration
	// ExecPath overrides the chrome binary chromedp looks for.
	ExecPath string
}

// Renderer turns a record into a png card by screenshotting an html page in
// headless chrome. Every render starts its own browser.
type Renderer struct {
	opts     Options
	location *time.Location
	assets   *resty.Client
	tel      telemetry.API
}

func NewRenderer(opts Options, location *time.Location, tel telemetry.API) *Renderer {
	assert.NotNil(location)
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("render", tel)

	if opts.BaseUrl == "" {
		opts.BaseUrl = registry.DefaultBaseUrl
	}
	if opts.Width == 0 {
		opts.Width = 900
	}
	if opts.Height == 0 {
		opts.Height = 700
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Minute
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	client.SetTimeout(30 * time.Second)
	telemetry.InstrumentResty(client, "bidwatch/render", tel)

	return &Renderer{
		opts:     opts,
		location: location,
		assets:   client,
		tel:      tel,
	}
}

// fetchAsset downloads an image and returns it as a data uri, or "" when it
// is not available.
func (r *Renderer) fetchAsset(ctx context.Context, endpoint string) string {
	res, err := r.assets.R().
		SetContext(ctx).
		Get(endpoint)
	if err != nil {
		r.tel.ReportWarning(report_renderer_fetch_asset, err, endpoint)
		return ""
	}
	if res.IsError() || len(res.Body()) == 0 {
		r.tel.ReportWarning(report_renderer_fetch_asset, fmt.Errorf("unexpected status %s", res.Status()), endpoint)
		return ""
	}

	contentType := res.Header().Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(res.Body())
	}
	if !strings.HasPrefix(contentType, "image/") {
		r.tel.ReportWarning(report_renderer_fetch_asset, fmt.Errorf("not an image: %s", contentType), endpoint)
		return ""
	}
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}

	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(res.Body()))
}

// HTML builds the card page with its images inlined.
func (r *Renderer) HTML(ctx context.Context, record registry.Record) (string, error) {
	images := assets{
		photo: r.fetchAsset(ctx, fmt.Sprintf("/foto-atleta/%s", record.AthleteID)),
		crest: r.fetchAsset(ctx, fmt.Sprintf("/files/clubes/%s/escudo.jpg", record.ClubCode)),
	}
	historyUrl := fmt.Sprintf("%s/atleta-competicoes/%s", strings.TrimSuffix(r.opts.BaseUrl, "/"), record.AthleteID)
	return buildCard(record, images, historyUrl, r.location)
}

func (r *Renderer) Render(ctx context.Context, record registry.Record) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	html, err := r.HTML(ctx, record)
	if err != nil {
		r.tel.ReportBroken(report_renderer_render, fmt.Errorf("build card: %w", err))
		return nil, err
	}

	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(r.opts.Width, r.opts.Height),
	)
	if r.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(r.opts.ExecPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	taskCtx, cancelTask := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		r.tel.ReportDebug(fmt.Sprintf(format, args...))
	}))
	defer cancelTask()

	var png []byte
	err = chromedp.Run(
		taskCtx,
		chromedp.EmulateViewport(int64(r.opts.Width), int64(r.opts.Height)),
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitVisible(".container", chromedp.ByQuery),
		chromedp.Screenshot(".container", &png, chromedp.ByQuery, chromedp.NodeVisible),
	)
	if err != nil {
		r.tel.ReportBroken(report_renderer_render, err, record.AthleteID.String())
		return nil, fmt.Errorf("screenshot card: %w", err)
	}
	if len(png) == 0 {
		err := fmt.Errorf("screenshot card: empty image")
		r.tel.ReportBroken(report_renderer_render, err, record.AthleteID.String())
		return nil, err
	}
	return png, nil
}
