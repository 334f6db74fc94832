package auth

import (
	"sync"
	"time"
)

// loginLimiter は IP ごとのログイン失敗回数を数え、上限に達した IP を一定時間ロックします。
type loginLimiter struct {
	window   time.Duration
	lockFor  time.Duration
	maxFails int

	mu    sync.Mutex
	byKey map[string]*failures
}

type failures struct {
	count       int
	since       time.Time
	lockedUntil time.Time
}

func newLoginLimiter(window, lockFor time.Duration, maxFails int) *loginLimiter {
	return &loginLimiter{
		window:   window,
		lockFor:  lockFor,
		maxFails: maxFails,
		byKey:    make(map[string]*failures),
	}
}

// locked はロック中であれば解除までの残り時間を返します。
func (l *loginLimiter) locked(key string, now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, ok := l.byKey[key]
	if !ok || !now.Before(f.lockedUntil) {
		return 0
	}
	return f.lockedUntil.Sub(now)
}

// fail は失敗を1回記録し、ロックまでの残り回数を返します。
func (l *loginLimiter) fail(key string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, ok := l.byKey[key]
	if !ok || now.Sub(f.since) > l.window {
		f = &failures{since: now}
		l.byKey[key] = f
	}
	if f.count < l.maxFails {
		f.count++
	}
	if f.count == l.maxFails {
		f.lockedUntil = now.Add(l.lockFor)
	}
	return l.maxFails - f.count
}

func (l *loginLimiter) reset(key string) {
	l.mu.Lock()
	delete(l.byKey, key)
	l.mu.Unlock()
}
