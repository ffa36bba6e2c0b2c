// Package http は外部サービス（AWS SES・Secrets Manager）向けのHTTPクライアントを提供します。
package http

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPClient はAWS SDKに渡すHTTPクライアントを作成します。
//
// http.DefaultClient にはタイムアウトがないため、接続・TLSハンドシェイク・
// リクエスト全体のそれぞれに上限を設定します。timeout が 0 以下の場合は 10 秒です。
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: t}
}
