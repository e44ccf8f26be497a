package wallet

import "sync"

// Locker 按钱包ID加锁，不同钱包之间互不阻塞
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocker 创建按键加锁器
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*keyLock)}
}

// Lock 获取指定钱包的锁，返回解锁函数
func (l *Locker) Lock(walletID string) func() {
	l.mu.Lock()
	kl, ok := l.locks[walletID]
	if !ok {
		kl = &keyLock{}
		l.locks[walletID] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			kl.mu.Unlock()

			l.mu.Lock()
			kl.refs--
			if kl.refs == 0 {
				delete(l.locks, walletID)
			}
			l.mu.Unlock()
		})
	}
}

// size 当前持有或等待中的键数量
func (l *Locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
