package analysis

import "sync"

// jobQueue は上限なしのFIFOキュー。
// 待機中または実行中のIDは重複して積まれない。
type jobQueue struct {
	mu    sync.Mutex
	items []string
	known map[string]struct{}
	wake  chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		known: make(map[string]struct{}),
		wake:  make(chan struct{}, 1),
	}
}

// push はIDを末尾に追加する。既に待機中・実行中の場合はfalseを返す。
func (q *jobQueue) push(id string) bool {
	q.mu.Lock()
	if _, dup := q.known[id]; dup {
		q.mu.Unlock()
		return false
	}
	q.known[id] = struct{}{}
	q.items = append(q.items, id)
	q.mu.Unlock()

	// ワーカーが待機中なら起こす。既に通知済みなら何もしない。
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// pop は先頭のIDを取り出す。取り出したIDは done が呼ばれるまで実行中として扱う。
func (q *jobQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	id := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	return id, true
}

// done は実行中のIDを解放する。
func (q *jobQueue) done(id string) {
	q.mu.Lock()
	delete(q.known, id)
	q.mu.Unlock()
}

// len は待機中の件数を返す。
func (q *jobQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
