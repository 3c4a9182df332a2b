package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// session は1つのライブなWebSocket接続を表す。
// 接続ハンドルはゲートウェイが排他的に所有し、外部には公開しない。
type session struct {
	id   string
	conn *websocket.Conn

	// send はセッションへの送信キュー。writePumpだけがconnに書き込む。
	send chan []byte

	mu            sync.Mutex
	userID        string // 認証成功後にのみ設定される
	authenticated bool

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(id string, conn *websocket.Conn, sendBuffer int) *session {
	return &session{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// markAuthenticated はセッションを認証済み状態に昇格させる。
func (s *session) markAuthenticated(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.authenticated = true
}

// isAuthenticated はセッションが認証済みかを返す。
func (s *session) isAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// enqueue はメッセージを送信キューに積む。
// バッファが満杯の場合はそのメッセージを破棄する
// （遅いコンシューマーが配信全体を塞き止めないため）。
func (s *session) enqueue(message []byte) bool {
	select {
	case s.send <- message:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// close はセッションの終了を一度だけ通知し、接続を閉じる。
func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// writePump は送信キューのメッセージを順番に接続へ書き込む。
// 書き込みエラーが発生した場合は接続を閉じて終了する。
func (s *session) writePump(writeTimeout time.Duration) {
	for {
		select {
		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}
