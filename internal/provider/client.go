// Package provider はアップストリームプロバイダーの可用性APIクライアントを提供する。
// モデルごとに1回のHTTP呼び出しを行い、複数形状を許容するデコーダーで
// (datacenter, status)ペアの一覧に変換する。
package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/vpswatch/internal/model"
)

// maxResponseSize は可用性応答の最大読み取りサイズ。
const maxResponseSize = 1 << 20 // 1MiB

// AvailabilityFetcher は可用性取得のインターフェース。
// テスト時にモックに差し替え可能。
type AvailabilityFetcher interface {
	FetchAvailability(ctx context.Context, m model.Model) (ParseResult, error)
}

// Client はアップストリーム可用性APIのクライアント。
// エンドポイントは運用者が設定するため、SSRF防止付きHTTPクライアントと
// 組み合わせて使用する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, endpoint string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
	}
}

// FetchAvailability は指定モデルの可用性を取得してデコードする。
// タイムアウトと非2xxはエラーとして返す（ブレーカー失敗として数える）。
// デコードがフォールバックに落ちた場合もエラーにはせず、
// ParseResult.Fallbackで低信頼を通知する（ブレーカー失敗としない）。
func (c *Client) FetchAvailability(ctx context.Context, m model.Model) (ParseResult, error) {
	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return ParseResult{}, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}

	q := reqURL.Query()
	q.Set("model", strconv.Itoa(int(m)))
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return ParseResult{}, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Vpswatch/1.0 Availability Monitor")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ParseResult{}, fmt.Errorf("可用性APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ParseResult{}, fmt.Errorf("可用性APIが非2xxステータスを返しました: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return ParseResult{}, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	result := Decode(body)
	if result.Fallback {
		c.logger.Warn("可用性応答のデコードがフォールバックに落ちました",
			slog.String("model", m.String()),
			slog.Int("body_bytes", len(body)),
		)
	}

	return result, nil
}
