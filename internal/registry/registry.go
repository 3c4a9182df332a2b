// Package registry は認証済みユーザーとライブな転送セッションの
// インメモリ双方向インデックスを提供する。
//
// インデックスは永続化されない。プロセス再起動で全登録が失われ、
// 接続中のクライアントは再認証が必要になる。
package registry

import "sync"

// SessionRegistry はユーザー→セッション集合とセッション→ユーザーの
// 2つのインデックスを保持する。両インデックスは常に同時に更新され、
// 片方だけに存在するエントリは発生しない。
//
// すべての操作はミューテックスで保護され、複数ゴルーチンから安全に呼び出せる。
type SessionRegistry struct {
	mu           sync.RWMutex
	userSessions map[string]map[string]struct{} // userID -> set of sessionIDs
	sessionUser  map[string]string              // sessionID -> userID
}

// NewSessionRegistry は空のSessionRegistryを生成する。
// プロセスごとに1回だけ構築し、全コンポーネントで共有する。
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		userSessions: make(map[string]map[string]struct{}),
		sessionUser:  make(map[string]string),
	}
}

// Register はsessionIDをuserIDのセッション集合に追加する。
// 同じ(userID, sessionID)の組で2回呼んでも結果は変わらない（冪等）。
// sessionIDが別のユーザーに登録済みの場合は付け替える。
func (r *SessionRegistry) Register(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// セッションは常に最大1ユーザーに対応する
	if prev, ok := r.sessionUser[sessionID]; ok && prev != userID {
		r.removeLocked(prev, sessionID)
	}

	set, ok := r.userSessions[userID]
	if !ok {
		set = make(map[string]struct{})
		r.userSessions[userID] = set
	}
	set[sessionID] = struct{}{}
	r.sessionUser[sessionID] = userID
}

// Deregister はsessionIDを所有ユーザーのセッション集合から取り除く。
// 集合が空になった場合はユーザーのエントリごと削除する。
// 未知のsessionIDに対しては何もしない（エラーでもない）。
func (r *SessionRegistry) Deregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.sessionUser[sessionID]
	if !ok {
		return
	}
	r.removeLocked(userID, sessionID)
}

// removeLocked は両インデックスからエントリを削除する。呼び出し側がロックを保持していること。
func (r *SessionRegistry) removeLocked(userID, sessionID string) {
	delete(r.sessionUser, sessionID)
	if set, ok := r.userSessions[userID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.userSessions, userID)
		}
	}
}

// SessionsFor はuserIDの現在のライブセッションIDを返す。
// セッションがない場合は空スライスを返す。
func (r *SessionRegistry) SessionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.userSessions[userID]
	sessions := make([]string, 0, len(set))
	for sessionID := range set {
		sessions = append(sessions, sessionID)
	}
	return sessions
}

// UserIDs は現在1つ以上のライブセッションを持つ全ユーザーIDを返す。
// ブロードキャストのファンアウトで使用する。
func (r *SessionRegistry) UserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userIDs := make([]string, 0, len(r.userSessions))
	for userID := range r.userSessions {
		userIDs = append(userIDs, userID)
	}
	return userIDs
}

// Len は現在のライブセッション総数を返す。
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessionUser)
}
