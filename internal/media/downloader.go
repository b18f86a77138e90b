package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/socialapi/internal/model"
	"github.com/hitoshi/socialapi/internal/security"
)

// Downloader は外部URLから画像を取得する。
// 取得はSSRF防止付きのHTTPクライアントで行う。
// 429/5xxと通信エラーは指数バックオフで再試行する。
type Downloader struct {
	guard   security.SSRFGuardService
	timeout time.Duration
	maxSize int64

	maxAttempts int
	backoff     time.Duration
}

// NewDownloader はDownloaderを生成する。
func NewDownloader(guard security.SSRFGuardService, timeout time.Duration, maxSize int64) *Downloader {
	return &Downloader{
		guard:       guard,
		timeout:     timeout,
		maxSize:     maxSize,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultInitialBackoff,
	}
}

// Fetch は画像URLの内容を取得する。
// 事前検証に失敗した場合はSSRF_BLOCKEDまたはINVALID_URL、
// サイズ超過はIMAGE_TOO_LARGE、それ以外の取得失敗はFETCH_FAILEDを返す。
func (d *Downloader) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if rawURL == "" {
		return nil, model.NewInvalidURLError("URLが指定されていません")
	}
	if err := d.guard.ValidateURL(rawURL); err != nil {
		return nil, model.NewSSRFBlockedError()
	}

	client := d.guard.NewSafeClient(d.timeout, d.maxSize)

	var lastErr error
	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, model.NewFetchFailedError(ctx.Err().Error())
			case <-time.After(calculateBackoff(d.backoff, attempt-1)):
			}
		}

		body, retry, err := d.fetchOnce(ctx, client, rawURL)
		if err == nil {
			return body, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// fetchOnce は1回分の取得を行う。
// 2つ目の戻り値は再試行で結果が変わりうるかどうかを表す。
func (d *Downloader) fetchOnce(ctx context.Context, client *http.Client, rawURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("Accept", "image/*")

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, security.ErrResponseTooLarge) {
			return nil, false, model.NewImageTooLargeError(d.maxSize)
		}
		if ctx.Err() != nil {
			return nil, false, model.NewFetchFailedError(err.Error())
		}
		return nil, true, model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	switch classifyHTTPStatus(resp.StatusCode) {
	case fetchResultOK:
	case fetchResultRetry:
		return nil, true, model.NewFetchFailedError(fmt.Sprintf("HTTP %d", resp.StatusCode))
	default:
		return nil, false, model.NewFetchFailedError(fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, security.ErrResponseTooLarge) {
			return nil, false, model.NewImageTooLargeError(d.maxSize)
		}
		return nil, true, model.NewFetchFailedError(err.Error())
	}
	return body, false, nil
}
