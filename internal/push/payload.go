// Package push はWeb Pushによるオフライン・バックグラウンド端末への
// 通知配信を提供する。
package push

import (
	"encoding/json"
	"fmt"
)

// Action はPush通知に表示される操作ボタン。
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Payload はPushサービスへ送る通知ペイロード。
// Title/Body/Dataに加え、表示ヒント（アイコン、バッジ等）を含む。
// フィールドはService WorkerのshowNotificationオプションに対応する。
type Payload struct {
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Data               map[string]any `json:"data,omitempty"`
	Icon               string         `json:"icon,omitempty"`
	Badge              string         `json:"badge,omitempty"`
	Image              string         `json:"image,omitempty"`
	Tag                string         `json:"tag,omitempty"`
	Vibrate            []int          `json:"vibrate,omitempty"`
	RequireInteraction bool           `json:"requireInteraction,omitempty"`
	Actions            []Action       `json:"actions,omitempty"`
}

// Marshal はペイロードをPushサービスへ送るJSONにシリアライズする。
func (p *Payload) Marshal() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push payload: %w", err)
	}
	return b, nil
}
