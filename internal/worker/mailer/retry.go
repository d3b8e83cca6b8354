package mailer

import (
	"errors"
	"net/textproto"
	"time"
)

// SendResult はSMTPの応答に基づく送信結果の分類。
type SendResult int

const (
	// SendResultOK は送信成功。
	SendResultOK SendResult = iota
	// SendResultRetry は一時的な失敗（4xx・接続エラー）。次のサイクルで再送する。
	SendResultRetry
	// SendResultStop は恒久的な失敗（5xx）。再送しない。
	SendResultStop
)

const (
	// initialBackoff は再送間隔の初回遅延（1分）。
	initialBackoff = time.Minute
	// maxBackoff は再送間隔の最大遅延（1時間）。
	maxBackoff = time.Hour
	// DefaultMaxAttempts は送信試行回数の既定上限。
	DefaultMaxAttempts = 5
)

// ClassifySendError は送信エラーを分類する。
// SMTPの5xx応答は恒久的な失敗、それ以外のエラーは一時的な失敗とみなす。
func ClassifySendError(err error) SendResult {
	if err == nil {
		return SendResultOK
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return SendResultStop
	}
	return SendResultRetry
}

// CalculateBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回1分、2倍ずつ増加、最大1時間。
func CalculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// NextAttemptAt は試行回数attemptsのメールを次に送信してよい時刻を返す。
// 未試行のメールは作成時刻から即時送信できる。
func NextAttemptAt(createdAt time.Time, attempts int) time.Time {
	at := createdAt
	for i := 0; i < attempts; i++ {
		at = at.Add(CalculateBackoff(i))
	}
	return at
}
