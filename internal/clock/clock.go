// Package clock は時刻依存の処理をテスト可能にするための抽象化を提供する。
package clock

import "time"

// Clock は現在時刻の取得とタイマー生成を抽象化する。
// 本番ではReal()、テストではFake()を注入する。
type Clock interface {
	// Now は現在時刻を返す。
	Now() time.Time

	// AfterFunc はd経過後にfを呼び出す。返されたTimerで取り消せる。
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker はd間隔でCにティックを送るTickerを返す。d <= 0の場合はpanicする。
	NewTicker(d time.Duration) *Ticker
}

// Timer はAfterFuncで予約された呼び出しを表す。
type Timer struct {
	stopFunc func() bool
}

// Stop は予約された呼び出しを取り消す。
// 取り消せた場合はtrue、既に発火済みまたは停止済みの場合はfalseを返す。
func (t *Timer) Stop() bool { return t.stopFunc() }

// Ticker は周期的なティックを配信する。Cはバッファ1で、取りこぼしたティックは破棄される。
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop はティックの配信を停止する。Cはクローズしない。
func (t *Ticker) Stop() { t.stopFunc() }

// Real はtimeパッケージを使用するClockを返す。
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stopFunc: timer.Stop}
}

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stopFunc: ticker.Stop}
}
