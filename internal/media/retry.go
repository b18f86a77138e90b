package media

import "time"

// fetchResult はHTTPステータスコードに基づく取得結果の分類。
type fetchResult int

const (
	// fetchResultOK は取得成功（2xx）。
	fetchResultOK fetchResult = iota
	// fetchResultStop は再試行しても結果が変わらないステータス（4xx）。
	fetchResultStop
	// fetchResultRetry は時間をおいて再試行するステータス（429/5xx）。
	fetchResultRetry
)

const (
	// defaultMaxAttempts は一時的な失敗に対する最大試行回数。
	defaultMaxAttempts = 3
	// defaultInitialBackoff は再試行の初回待ち時間。
	defaultInitialBackoff = 200 * time.Millisecond
	// maxBackoff は再試行の待ち時間の上限。
	maxBackoff = 2 * time.Second
)

// classifyHTTPStatus はHTTPステータスコードを取得結果に分類する。
func classifyHTTPStatus(statusCode int) fetchResult {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return fetchResultOK
	case statusCode == 429:
		return fetchResultRetry
	case statusCode >= 500:
		return fetchResultRetry
	default:
		return fetchResultStop
	}
}

// calculateBackoff は失敗回数に基づいて指数バックオフの待ち時間を計算する。
// 初回はinitial、2倍ずつ増加し、maxBackoffで頭打ちになる。
func calculateBackoff(initial time.Duration, failures int) time.Duration {
	delay := initial
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
