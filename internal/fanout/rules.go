// Package fanout は状態遷移から派生する通知とメール送信キューの生成を提供する。
// ルールは副作用を持たない純粋関数で、生成した下書きをDispatcherが
// 主たる書き込みと同じトランザクション内で挿入する。
package fanout

import (
	"fmt"
	"slices"
	"time"

	"github.com/hitoshi/recruitman/internal/model"
)

// Email はメール送信キューに積む件名と本文。
type Email struct {
	Subject string
	Body    string
}

// Draft は1件の通知（と任意のメール）の下書き。
// Broadcastがtrueの場合、Recipientは使われず採用担当者以外の全員に配信される。
type Draft struct {
	Type      model.NotificationType
	Recipient string
	Broadcast bool
	Title     string
	Content   string
	RelatedID string
	Email     *Email
}

// DefaultExpiryWindow は書類の有効期限通知を出す期間の既定値（30日）。
const DefaultExpiryWindow = 30 * 24 * time.Hour

// Rules は状態遷移ごとの通知ルール。
type Rules struct {
	Now          func() time.Time
	ExpiryWindow time.Duration
}

// NewRules は既定の時計と有効期限ウィンドウでRulesを生成する。
func NewRules(expiryWindow time.Duration) *Rules {
	if expiryWindow <= 0 {
		expiryWindow = DefaultExpiryWindow
	}
	return &Rules{Now: time.Now, ExpiryWindow: expiryWindow}
}

// ProcessUpdated は選考プロセス更新時の通知を生成する。
// statusTouchedは更新がstatus列を設定したかどうか（値が同じでも真）。
func (r *Rules) ProcessUpdated(old, new *model.SelectionProcess, statusTouched bool) []Draft {
	var drafts []Draft

	if statusTouched {
		title, content := processStatusText(new.Status)
		drafts = append(drafts, Draft{
			Type:      model.NotificationProcessStatus,
			Recipient: new.CandidateID,
			Title:     title,
			Content:   content,
			RelatedID: new.ID,
			Email:     &Email{Subject: title, Body: content},
		})
	}

	if len(new.RequiredAssessments) > 0 && !slices.Equal(old.RequiredAssessments, new.RequiredAssessments) {
		title := "スキル評価が割り当てられました"
		content := fmt.Sprintf("選考プロセスに%d件のスキル評価が割り当てられました。期限内に受験してください。", len(new.RequiredAssessments))
		drafts = append(drafts, Draft{
			Type:      model.NotificationAssessmentAssigned,
			Recipient: new.CandidateID,
			Title:     title,
			Content:   content,
			RelatedID: new.ID,
			Email:     &Email{Subject: title, Body: content},
		})
	}

	return drafts
}

func processStatusText(status model.ProcessStatus) (string, string) {
	switch status {
	case model.ProcessStatusInProgress:
		return "選考が開始されました", "選考プロセスが開始されました。各ステージの案内をご確認ください。"
	case model.ProcessStatusCompleted:
		return "選考が完了しました", "選考プロセスが完了しました。結果の連絡をお待ちください。"
	case model.ProcessStatusRejected:
		return "選考結果のお知らせ", "誠に残念ながら、今回は見送りとなりました。"
	default:
		return "選考状況が更新されました", fmt.Sprintf("選考プロセスのステータスが「%s」に更新されました。", status)
	}
}

// EvaluationUpdated は評価が完了状態（合格・不合格）に遷移した時の通知を生成する。
// recipientは親プロセスの候補者ID。
func (r *Rules) EvaluationUpdated(old, new *model.CandidateEvaluation, recipient string) []Draft {
	if !new.Status.Completed() || old.Status == new.Status || recipient == "" {
		return nil
	}
	title := "評価が完了しました"
	content := "選考ステージの評価が完了しました。"
	return []Draft{{
		Type:      model.NotificationEvaluation,
		Recipient: recipient,
		Title:     title,
		Content:   content,
		RelatedID: new.ID,
		Email:     &Email{Subject: title, Body: content},
	}}
}

// DocumentChanged は書類の作成・更新時の通知を生成する。
// 作成時はoldにnilを渡す。ステータス通知は更新時のみ、有効期限通知は両方で判定する。
func (r *Rules) DocumentChanged(old, new *model.Document) []Draft {
	var drafts []Draft

	if old != nil && old.Status != new.Status {
		title, content := documentStatusText(new)
		drafts = append(drafts, Draft{
			Type:      model.NotificationDocumentStatus,
			Recipient: new.UserID,
			Title:     title,
			Content:   content,
			RelatedID: new.ID,
			Email:     &Email{Subject: title, Body: content},
		})
	}

	if r.expiresSoon(new.ExpiryDate) {
		title := "書類の有効期限が近づいています"
		content := fmt.Sprintf("書類「%s」の有効期限は%sです。更新をご検討ください。", new.Name, new.ExpiryDate.Format("2006-01-02"))
		drafts = append(drafts, Draft{
			Type:      model.NotificationDocumentExpiry,
			Recipient: new.UserID,
			Title:     title,
			Content:   content,
			RelatedID: new.ID,
			Email:     &Email{Subject: title, Body: content},
		})
	}

	return drafts
}

func (r *Rules) expiresSoon(expiry *time.Time) bool {
	if expiry == nil {
		return false
	}
	now := r.Now()
	return expiry.After(now) && !expiry.After(now.Add(r.ExpiryWindow))
}

func documentStatusText(d *model.Document) (string, string) {
	switch d.Status {
	case model.DocumentStatusApproved:
		return "書類が承認されました", fmt.Sprintf("書類「%s」が承認されました。", d.Name)
	case model.DocumentStatusRejected:
		return "書類が差し戻されました", fmt.Sprintf("書類「%s」が差し戻されました。内容を確認して再提出してください。", d.Name)
	default:
		return "書類のステータスが更新されました", fmt.Sprintf("書類「%s」のステータスが「%s」に更新されました。", d.Name, d.Status)
	}
}

// JobOfferCreated は新規求人を採用担当者以外の全員に知らせる下書きを生成する。
// 配信対象が多いためメールは送らない。
func (r *Rules) JobOfferCreated(o *model.JobOffer) []Draft {
	return []Draft{{
		Type:      model.NotificationNewJobOffer,
		Broadcast: true,
		Title:     "新しい求人が公開されました",
		Content:   fmt.Sprintf("新しい求人「%s」が公開されました。", o.Title),
		RelatedID: o.ID,
	}}
}

// ApplicationUpdated は応募ステータスが変化した時の通知を生成する。
// 本文には新しいステータスの値をそのまま含める。
func (r *Rules) ApplicationUpdated(old, new *model.Application) []Draft {
	if old.Status == new.Status {
		return nil
	}
	title := "応募状況が更新されました"
	content := fmt.Sprintf("応募のステータスが「%s」に更新されました。", new.Status)
	return []Draft{{
		Type:      model.NotificationApplicationStatus,
		Recipient: new.UserID,
		Title:     title,
		Content:   content,
		RelatedID: new.ID,
		Email:     &Email{Subject: title, Body: content},
	}}
}

// MessageCreated は受信者への新着メッセージ通知を生成する。メールは送らない。
func (r *Rules) MessageCreated(m *model.Message, sender *model.Profile) []Draft {
	return []Draft{{
		Type:      model.NotificationNewMessage,
		Recipient: m.ReceiverID,
		Title:     "新しいメッセージがあります",
		Content:   fmt.Sprintf("%sさんからメッセージが届きました。", sender.DisplayName()),
		RelatedID: m.ID,
	}}
}
