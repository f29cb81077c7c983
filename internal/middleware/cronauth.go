package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/hitoshi/vpswatch/internal/model"
)

// CronSecretHeader は外部スケジューラーが共有シークレットを渡すヘッダー名。
const CronSecretHeader = "X-Cron-Secret"

// NewCronAuthMiddleware は共有シークレットによるトリガーエンドポイントの
// 認証ミドルウェアを生成する。シークレットはX-Cron-Secretヘッダーまたは
// secretクエリパラメータで受け付ける（ヘッダーを設定できないスケジューラー向け）。
// 比較は一定時間で行う。
func NewCronAuthMiddleware(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(CronSecretHeader)
			if provided == "" {
				provided = r.URL.Query().Get("secret")
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
